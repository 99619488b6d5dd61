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

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/status"
	"github.com/walteh/deployrc/pkg/walker"
)

// DefaultParallel is the number of targets worked on at once. Targets run one
// after another unless a caller asks for more.
const DefaultParallel = 1

// 🔧 Options contains configuration for the operator
type Options struct {
	// Config is the loaded deployrc configuration
	Config *config.Config
	// Dispatcher routes batches to plugins
	Dispatcher *plugin.Dispatcher
	// FS is the local side of every transfer, defaults to the working directory
	FS billy.Filesystem
	// Tracker receives the lifecycle events of every item, optional
	Tracker *status.Tracker
	// Parallel bounds the targets in flight
	Parallel int
}

// 🎮 Operator runs user level operations against configured targets
type Operator struct {
	cfg        *config.Config
	dispatcher *plugin.Dispatcher
	fs         billy.Filesystem
	tracker    *status.Tracker
	runner     *Runner
}

// 🏭 New creates a new operator with the given options
func New(opts Options) (*Operator, error) {
	if opts.Config == nil {
		return nil, errors.Errorf("config is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.Errorf("dispatcher is required")
	}
	if opts.FS == nil {
		opts.FS = osfs.New(".")
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	return &Operator{
		cfg:        opts.Config,
		dispatcher: opts.Dispatcher,
		fs:         opts.FS,
		tracker:    opts.Tracker,
		runner:     NewRunner(opts.Parallel),
	}, nil
}

// targets resolves target names against the config
func (o *Operator) targets(names []string) ([]*config.Target, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("no targets given")
	}
	out := make([]*config.Target, 0, len(names))
	for _, name := range names {
		t, ok := o.cfg.Find(name)
		if !ok {
			return nil, errors.Errorf("unknown target %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

func (o *Operator) hooks(target string, op plugin.Operation, item string) plugin.Hooks {
	if o.tracker == nil {
		return plugin.Hooks{}
	}
	return o.tracker.Hooks(target, op, item)
}

// withSummary makes sure ctx carries a summary and returns both
func withSummary(ctx context.Context) (context.Context, *plugin.Summary) {
	if s := plugin.SummaryFromContext(ctx); s != nil {
		return ctx, s
	}
	s := &plugin.Summary{}
	return plugin.WithSummary(ctx, s), s
}

// 🗑️ DeleteRequest names remote files to delete
type DeleteRequest struct {
	Targets []string
	Paths   []string // Relative to each target dir
}

// Delete removes files from every target
func (o *Operator) Delete(ctx context.Context, req DeleteRequest) (*plugin.Summary, error) {
	targets, err := o.targets(req.Targets)
	if err != nil {
		return nil, err
	}
	ctx, summary := withSummary(ctx)

	if o.tracker != nil {
		o.tracker.StartOperation(ctx, len(targets)*len(req.Paths))
		defer o.tracker.FinishOperation(ctx)
	}

	err = o.runner.Run(ctx, targets, func(ctx context.Context, t *config.Target) error {
		files := make([]*plugin.FileToDelete, 0, len(req.Paths))
		for _, p := range req.Paths {
			dir, name := remote.SplitPath(p)
			f := &plugin.FileToDelete{Name: name, Path: dir}
			f.Hooks = o.hooks(t.Name, plugin.OpDelete, remote.JoinPath(dir, name))
			files = append(files, f)
		}
		return o.dispatcher.Delete(ctx, &plugin.DeleteContext{Target: t, Files: files})
	})
	return summary, err
}

// 📁 RemoveFoldersRequest names remote folders to remove recursively
type RemoveFoldersRequest struct {
	Targets []string
	Paths   []string // Relative to each target dir
}

// RemoveFolders removes folders and their contents from every target
func (o *Operator) RemoveFolders(ctx context.Context, req RemoveFoldersRequest) (*plugin.Summary, error) {
	targets, err := o.targets(req.Targets)
	if err != nil {
		return nil, err
	}
	ctx, summary := withSummary(ctx)

	if o.tracker != nil {
		o.tracker.StartOperation(ctx, len(targets)*len(req.Paths))
		defer o.tracker.FinishOperation(ctx)
	}

	err = o.runner.Run(ctx, targets, func(ctx context.Context, t *config.Target) error {
		folders := make([]*plugin.FolderToRemove, 0, len(req.Paths))
		for _, p := range req.Paths {
			dir, name := remote.SplitPath(p)
			f := &plugin.FolderToRemove{Name: name, Path: dir}
			f.Hooks = o.hooks(t.Name, plugin.OpRemoveFolder, remote.JoinPath(dir, name))
			folders = append(folders, f)
		}
		return o.dispatcher.RemoveFolders(ctx, &plugin.RemoveFoldersContext{Target: t, Folders: folders})
	})
	return summary, err
}

// 📋 List lists one directory of a target
func (o *Operator) List(ctx context.Context, target, dir string) ([]remote.FileInfo, error) {
	targets, err := o.targets([]string{target})
	if err != nil {
		return nil, err
	}
	entries, err := o.dispatcher.List(ctx, &plugin.ListContext{Target: targets[0], Dir: dir})
	if err != nil {
		return nil, errors.Errorf("listing %s: %w", remote.WithLeadingSlash(dir), err)
	}
	return entries, nil
}

// 📥 PullRequest pulls a remote directory into a local one
type PullRequest struct {
	Target    string
	RemoteDir string
	LocalDir  string
	Recursive bool
	MaxDepth  int
}

// Pull downloads a remote directory of one target
func (o *Operator) Pull(ctx context.Context, req PullRequest) (*plugin.Summary, error) {
	targets, err := o.targets([]string{req.Target})
	if err != nil {
		return nil, err
	}
	t := targets[0]
	ctx, summary := withSummary(ctx)

	logger := zerolog.Ctx(ctx)
	opts := walker.Options{
		Target:    t,
		SourceDir: req.RemoteDir,
		TargetDir: req.LocalDir,
		FS:        o.fs,
		Recursive: req.Recursive,
		MaxDepth:  req.MaxDepth,
		OnCompleted: func(ctx context.Context, rel string, err error) {
			if err != nil {
				logger.Debug().Err(err).Str("file", rel).Msg("pull failed")
			}
			if o.tracker != nil {
				h := o.tracker.Hooks(t.Name, plugin.OpDownload, rel)
				h.Before(ctx, remote.WithLeadingSlash(rel))
				h.Completed(ctx, err)
			}
		},
	}
	if opts.TargetDir == "" {
		opts.TargetDir = "."
	}

	if err := walker.PullAllFilesFromDir(ctx, o.dispatcher, opts); err != nil {
		return summary, errors.Errorf("pulling from %s: %w", t.Name, err)
	}
	return summary, nil
}
