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

package plugin

import (
	"context"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/transform"
)

// 🔒 Once makes the before and completed callbacks of a descriptor fire at
// most once each
type Once struct {
	before    sync.Once
	completed sync.Once
}

// 🪝 Hooks are the lifecycle callbacks of one descriptor
type Hooks struct {
	OnBefore    func(ctx context.Context, destination string)
	OnCompleted func(ctx context.Context, err error)

	once Once
}

// Before fires OnBefore unless it already fired
func (h *Hooks) Before(ctx context.Context, destination string) {
	h.once.before.Do(func() {
		if h.OnBefore != nil {
			h.OnBefore(ctx, destination)
		}
	})
}

// Completed fires OnCompleted unless it already fired
func (h *Hooks) Completed(ctx context.Context, err error) {
	h.once.completed.Do(func() {
		if h.OnCompleted != nil {
			h.OnCompleted(ctx, err)
		}
	})
}

// prefixed returns unguarded hooks forwarding to h with destinations
// prefixed by "[name] "
func (h *Hooks) prefixed(name string) Hooks {
	return Hooks{
		OnBefore: func(ctx context.Context, destination string) {
			if h.OnBefore != nil {
				h.OnBefore(ctx, "["+name+"] "+destination)
			}
		},
		OnCompleted: h.OnCompleted,
	}
}

// 📄 FileToUpload is one file of an upload batch
type FileToUpload struct {
	Name string // File name
	Path string // Directory relative to the target dir
	Read func(ctx context.Context) ([]byte, error)
	Hooks
}

// 📄 FileToDownload is one file of a download batch
type FileToDownload struct {
	Name  string // File name
	Path  string // Directory relative to the target dir
	Write func(ctx context.Context, data []byte) error
	Hooks
}

// 📄 FileToDelete is one file of a delete batch
type FileToDelete struct {
	Name string
	Path string
	Hooks
}

// 📁 FolderToRemove is one folder of a remove batch
type FolderToRemove struct {
	Name string
	Path string
	Hooks
}

// RelativePath returns the item path relative to the target dir
func (f *FileToUpload) RelativePath() string { return remote.JoinPath(f.Path, f.Name) }

// RelativePath returns the item path relative to the target dir
func (f *FileToDownload) RelativePath() string { return remote.JoinPath(f.Path, f.Name) }

// RelativePath returns the item path relative to the target dir
func (f *FileToDelete) RelativePath() string { return remote.JoinPath(f.Path, f.Name) }

// RelativePath returns the item path relative to the target dir
func (f *FolderToRemove) RelativePath() string { return remote.JoinPath(f.Path, f.Name) }

// UploadFromFS describes an upload of the file at local in fs to dir/name
func UploadFromFS(fs billy.Filesystem, local, dir, name string) *FileToUpload {
	return &FileToUpload{
		Name: name,
		Path: dir,
		Read: func(context.Context) ([]byte, error) {
			data, err := util.ReadFile(fs, local)
			if err != nil {
				return nil, errors.Errorf("reading %s: %w", local, err)
			}
			return data, nil
		},
	}
}

// 🧳 UploadContext is one upload batch against a target
type UploadContext struct {
	Target    *config.Target
	Files     []*FileToUpload
	Transform transform.Func // Defaults to the target transform when nil
}

// 🧳 DownloadContext is one download batch against a target
type DownloadContext struct {
	Target    *config.Target
	Files     []*FileToDownload
	Transform transform.Func // Defaults to the target transform when nil
}

// 🧳 ListContext is one directory listing against a target
type ListContext struct {
	Target *config.Target
	Dir    string // Directory relative to the target dir
}

// 🧳 DeleteContext is one delete batch against a target
type DeleteContext struct {
	Target *config.Target
	Files  []*FileToDelete
}

// 🧳 RemoveFoldersContext is one folder removal batch against a target
type RemoveFoldersContext struct {
	Target  *config.Target
	Folders []*FolderToRemove
}

// IsCancelling reports whether the batch should stop before the next item
func IsCancelling(ctx context.Context) bool {
	return ctx.Err() != nil
}

// destination is the label shown for an item relative path
func destination(rel string) string {
	return remote.WithLeadingSlash(rel)
}

// TransformFor builds the transform pipeline configured on a target
func TransformFor(t *config.Target) (transform.Func, error) {
	base, err := transform.Parse(t.Transform)
	if err != nil {
		return nil, errors.Errorf("target %q: %w", t.Name, err)
	}
	fn, err := transform.WithPassword(base, transform.PasswordOptions{
		Password:  t.Password,
		Algorithm: t.PasswordAlgorithm,
	})
	if err != nil {
		return nil, errors.Errorf("target %q: %w", t.Name, err)
	}
	return fn, nil
}

func transformContext(t *config.Target, mode transform.Mode) transform.Context {
	return transform.Context{Mode: mode, Options: t.TransformOptions, Target: t.Name}
}
