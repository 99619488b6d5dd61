// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"context"

	"github.com/rs/zerolog"
)

// FolderWalker is the part of a Client the generic folder removal needs
type FolderWalker interface {
	ListDirectory(ctx context.Context, path string) ([]FileInfo, error)
	DeleteFile(ctx context.Context, path string) (bool, error)
}

// DirRemover removes one empty directory. Backends with implicit
// directories (object stores) pass nil.
type DirRemover func(ctx context.Context, dir string) error

// 🧹 RemoveFolderRecursive removes dir and everything below it in postorder:
// sub folders first, then the direct files, then dir itself. The root is
// refused before any request is made. Any failure below dir makes the whole
// removal report false; errors are logged, not returned.
func RemoveFolderRecursive(ctx context.Context, w FolderWalker, dir string, removeDir DirRemover) bool {
	dir = NormalizePath(dir)
	if dir == "" {
		return false
	}

	logger := zerolog.Ctx(ctx).With().Str("dir", dir).Logger()

	entries, err := w.ListDirectory(ctx, dir)
	if err != nil {
		logger.Debug().Err(err).Msg("listing folder to remove")
		return false
	}

	var subDirs, files []string
	for _, e := range entries {
		child := JoinPath(dir, e.Name)
		switch e.Type {
		case TypeDirectory:
			subDirs = append(subDirs, child)
		case TypeFile:
			files = append(files, child)
		default:
			logger.Debug().Str("entry", child).Msg("refusing to remove folder with unknown entry type")
			return false
		}
	}

	for _, sub := range subDirs {
		if !RemoveFolderRecursive(ctx, w, sub, removeDir) {
			return false
		}
	}

	for _, f := range files {
		ok, err := w.DeleteFile(ctx, f)
		if err != nil || !ok {
			logger.Debug().Err(err).Str("file", f).Msg("deleting file in folder")
			return false
		}
	}

	if removeDir != nil {
		if err := removeDir(ctx, dir); err != nil {
			logger.Debug().Err(err).Msg("removing empty folder")
			return false
		}
	}

	return true
}
