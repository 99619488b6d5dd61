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

// Package walker pulls a remote directory tree into a local filesystem.
package walker

import (
	"context"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/transform"
)

// DefaultMaxDepth bounds the recursion when Options.MaxDepth is not set
const DefaultMaxDepth = 64

// 🔌 Source lists and downloads through the plugins of a target
type Source interface {
	List(ctx context.Context, op *plugin.ListContext) ([]remote.FileInfo, error)
	Download(ctx context.Context, op *plugin.DownloadContext) error
}

// 🔧 Options configure one pull
type Options struct {
	Target *config.Target

	// SourceDir is the remote directory relative to the target dir
	SourceDir string
	// TargetDir is the local directory inside FS
	TargetDir string
	// FS defaults to the working directory
	FS billy.Filesystem
	// Transform defaults to the target transform
	Transform transform.Func

	Recursive bool
	Depth     int
	MaxDepth  int

	// OnBefore and OnCompleted receive the events of every pulled file
	OnBefore    func(ctx context.Context, destination string)
	OnCompleted func(ctx context.Context, rel string, err error)
}

// 📥 PullAllFilesFromDir downloads every file of SourceDir into TargetDir and,
// when Recursive is set, descends into every subdirectory. A failing
// subdirectory listing is recorded and skipped; a RecursionError aborts the
// whole pull.
func PullAllFilesFromDir(ctx context.Context, src Source, opts Options) error {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Depth >= opts.MaxDepth {
		return errdefs.Recursion("pull", opts.SourceDir, errors.Errorf("depth %d reached the maximum of %d", opts.Depth, opts.MaxDepth))
	}
	if opts.FS == nil {
		opts.FS = osfs.New(".")
	}

	logger := zerolog.Ctx(ctx).With().
		Str("target", opts.Target.Name).
		Str("path", opts.SourceDir).
		Int("depth", opts.Depth).
		Logger()

	if err := opts.FS.MkdirAll(opts.TargetDir, 0o755); err != nil {
		return errors.Errorf("creating %s: %w", opts.TargetDir, err)
	}

	entries, err := src.List(ctx, &plugin.ListContext{Target: opts.Target, Dir: opts.SourceDir})
	if err != nil {
		return errors.Errorf("listing %s: %w", remote.WithLeadingSlash(opts.SourceDir), err)
	}
	logger.Debug().Int("entries", len(entries)).Msg("listed remote directory")

	var files []*plugin.FileToDownload
	var dirs []remote.FileInfo
	for _, e := range entries {
		switch e.Type {
		case remote.TypeFile:
			files = append(files, download(opts, e.Name))
		case remote.TypeDirectory:
			dirs = append(dirs, e)
		}
	}

	if len(files) > 0 && !plugin.IsCancelling(ctx) {
		err := src.Download(ctx, &plugin.DownloadContext{Target: opts.Target, Files: files, Transform: opts.Transform})
		if err != nil {
			return errors.Errorf("downloading %s: %w", remote.WithLeadingSlash(opts.SourceDir), err)
		}
	}

	if !opts.Recursive {
		return nil
	}

	for _, d := range dirs {
		if plugin.IsCancelling(ctx) {
			logger.Debug().Msg("pull cancelled")
			return nil
		}

		child := opts
		child.SourceDir = remote.JoinPath(opts.SourceDir, d.Name)
		child.TargetDir = path.Join(opts.TargetDir, d.Name)
		child.Depth = opts.Depth + 1

		if err := PullAllFilesFromDir(ctx, src, child); err != nil {
			if errdefs.IsRecursion(err) {
				return err
			}
			logger.Warn().Err(err).Str("dir", child.SourceDir).Msg("skipping directory")
			if s := plugin.SummaryFromContext(ctx); s != nil {
				s.Record(plugin.Outcome{Target: opts.Target.Name, Operation: plugin.OpList, Item: child.SourceDir, Err: err})
			}
		}
	}

	return nil
}

func download(opts Options, name string) *plugin.FileToDownload {
	rel := remote.JoinPath(opts.SourceDir, name)
	f := &plugin.FileToDownload{
		Name: name,
		Path: opts.SourceDir,
		Write: func(_ context.Context, data []byte) error {
			return WriteFileAtomic(opts.FS, path.Join(opts.TargetDir, name), data)
		},
	}
	f.OnBefore = opts.OnBefore
	if opts.OnCompleted != nil {
		f.OnCompleted = func(ctx context.Context, err error) {
			opts.OnCompleted(ctx, rel, err)
		}
	}
	return f
}

// WriteFileAtomic writes data to a temporary file next to name and renames
// it into place
func WriteFileAtomic(fs billy.Filesystem, name string, data []byte) error {
	dir := path.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := util.TempFile(fs, dir, ".deployrc-")
	if err != nil {
		return errors.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return errors.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return errors.Errorf("closing %s: %w", tmpName, err)
	}
	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return errors.Errorf("renaming %s: %w", tmpName, err)
	}
	return nil
}
