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

package operation

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/remote"
)

// 📤 UploadRequest uploads a local directory to targets
type UploadRequest struct {
	Targets   []string
	LocalDir  string
	RemoteDir string   // Relative to each target dir
	Include   []string // Doublestar patterns, every file when empty
	Exclude   []string // Doublestar patterns
}

// localFile is one file picked for upload
type localFile struct {
	local string // Path inside the operator FS
	rel   string // Slash separated path relative to LocalDir
}

// Upload uploads the matching files of LocalDir to every target. Each
// target gets one batch and one connection.
func (o *Operator) Upload(ctx context.Context, req UploadRequest) (*plugin.Summary, error) {
	targets, err := o.targets(req.Targets)
	if err != nil {
		return nil, err
	}

	files, err := o.collect(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx, summary := withSummary(ctx)

	zerolog.Ctx(ctx).Debug().
		Int("files", len(files)).
		Int("targets", len(targets)).
		Msg("uploading")

	if len(files) == 0 {
		return summary, nil
	}

	if o.tracker != nil {
		o.tracker.StartOperation(ctx, len(targets)*len(files))
		defer o.tracker.FinishOperation(ctx)
	}

	err = o.runner.Run(ctx, targets, func(ctx context.Context, t *config.Target) error {
		batch := make([]*plugin.FileToUpload, 0, len(files))
		for _, f := range files {
			dir, name := remote.SplitPath(f.rel)
			u := plugin.UploadFromFS(o.fs, f.local, remote.JoinPath(req.RemoteDir, dir), name)
			u.Hooks = o.hooks(t.Name, plugin.OpUpload, f.rel)
			batch = append(batch, u)
		}
		return o.dispatcher.Upload(ctx, &plugin.UploadContext{Target: t, Files: batch})
	})
	return summary, err
}

// collect walks LocalDir and returns the files passing the filters
func (o *Operator) collect(ctx context.Context, req UploadRequest) ([]localFile, error) {
	root := req.LocalDir
	if root == "" {
		root = "."
	}
	logger := zerolog.Ctx(ctx)

	var out []localFile
	err := util.Walk(o.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return errors.Errorf("relative path of %s: %w", p, err)
		}
		rel = filepath.ToSlash(rel)
		if !matches(req.Include, rel, true) || matches(req.Exclude, rel, false) {
			logger.Debug().Str("file", rel).Msg("file filtered out")
			return nil
		}
		out = append(out, localFile{local: p, rel: rel})
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

// matches reports whether rel matches any pattern, or empty when there
// are none
func matches(patterns []string, rel string, empty bool) bool {
	if len(patterns) == 0 {
		return empty
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
