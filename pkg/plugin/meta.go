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
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// 🌐 Fetcher reads the document at a URL
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// 🔀 MetaPlugin serves the each, map, switch and list target types. It
// resolves a target into concrete targets and dispatches the batch to each
// of them in turn.
type MetaPlugin struct {
	Config     *config.Config
	Dispatcher *Dispatcher
	Fetcher    Fetcher
	Prompter   Prompter

	// Selections maps switch target names to the chosen option name
	Selections map[string]string
}

var (
	_ Downloader    = (*MetaPlugin)(nil)
	_ Lister        = (*MetaPlugin)(nil)
	_ Deleter       = (*MetaPlugin)(nil)
	_ FolderRemover = (*MetaPlugin)(nil)
	_ Restricter    = (*MetaPlugin)(nil)
)

func (m *MetaPlugin) Supports(targetType string, _ Operation) bool {
	return config.IsMeta(targetType)
}

type visitedKey struct{}

// enter marks target as visited for the rest of the call chain
func enter(ctx context.Context, target string) (context.Context, error) {
	visited, _ := ctx.Value(visitedKey{}).([]string)
	key := strings.ToLower(target)
	for _, v := range visited {
		if v == key {
			chain := strings.Join(append(visited, key), " -> ")
			return ctx, errdefs.Recursion("resolve target", target, errors.Errorf("target chain %s loops", chain))
		}
	}
	next := make([]string, len(visited), len(visited)+1)
	copy(next, visited)
	return context.WithValue(ctx, visitedKey{}, append(next, key)), nil
}

// 🎯 Resolve returns the concrete targets a meta target stands for. A
// dismissed list prompt resolves to no targets.
func (m *MetaPlugin) Resolve(ctx context.Context, target *config.Target) ([]*config.Target, error) {
	switch target.Type {
	case config.TypeEach:
		return m.byName(target.Targets)
	case config.TypeMap:
		return m.resolveMap(ctx, target)
	case config.TypeSwitch:
		opt, err := m.option(target)
		if err != nil {
			return nil, err
		}
		return m.byName(opt.Targets)
	case config.TypeList:
		return m.resolveList(ctx, target)
	default:
		return nil, errdefs.Unsupported("resolve", target.Type+" is not a meta target type")
	}
}

func (m *MetaPlugin) byName(names []string) ([]*config.Target, error) {
	out := make([]*config.Target, 0, len(names))
	var missing []string
	for _, name := range names {
		t, ok := m.Config.Find(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("targets not found: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (m *MetaPlugin) resolveMap(ctx context.Context, target *config.Target) ([]*config.Target, error) {
	bases, err := m.byName(target.Targets)
	if err != nil {
		return nil, err
	}
	var out []*config.Target
	for _, src := range target.From {
		patch, err := m.load(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, base := range bases {
			merged, err := base.Merge(patch)
			if err != nil {
				return nil, err
			}
			out = append(out, merged)
		}
	}
	return out, nil
}

// option returns the selected option, the default option or the first one
func (m *MetaPlugin) option(target *config.Target) (config.SwitchOption, error) {
	if len(target.Switch) == 0 {
		return config.SwitchOption{}, errors.Errorf("switch target %q has no options", target.Name)
	}
	if selected, ok := m.selection(target.Name); ok {
		for _, opt := range target.Switch {
			if strings.EqualFold(opt.Name, selected) {
				return opt, nil
			}
		}
		return config.SwitchOption{}, errors.Errorf("switch target %q has no option %q", target.Name, selected)
	}
	for _, opt := range target.Switch {
		if opt.Default {
			return opt, nil
		}
	}
	return target.Switch[0], nil
}

func (m *MetaPlugin) selection(name string) (string, bool) {
	for k, v := range m.Selections {
		if strings.EqualFold(k, name) && v != "" {
			return v, true
		}
	}
	return "", false
}

func (m *MetaPlugin) resolveList(ctx context.Context, target *config.Target) ([]*config.Target, error) {
	if len(target.Entries) == 0 {
		return nil, nil
	}
	if m.Prompter == nil {
		return nil, errors.Errorf("list target %q needs a prompt to choose an entry", target.Name)
	}

	labels := make([]string, len(target.Entries))
	for i, e := range target.Entries {
		labels[i] = e.Name
		if e.Description != "" {
			labels[i] += " (" + e.Description + ")"
		}
	}
	idx, ok, err := m.Prompter.Select(ctx, target.Name, labels)
	if err != nil {
		return nil, errors.Errorf("choosing entry of %q: %w", target.Name, err)
	}
	if !ok || idx < 0 || idx >= len(target.Entries) {
		zerolog.Ctx(ctx).Debug().Str("target", target.Name).Msg("list selection dismissed")
		return nil, nil
	}

	settings, err := m.load(ctx, target.Entries[idx].Settings)
	if err != nil {
		return nil, err
	}
	bases, err := m.byName(target.Targets)
	if err != nil {
		return nil, err
	}
	out := make([]*config.Target, 0, len(bases))
	for _, base := range bases {
		merged, err := base.Merge(map[string]any{"settings": settings})
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	return out, nil
}

// load returns an inline source or fetches and decodes a URL source
func (m *MetaPlugin) load(ctx context.Context, src config.Source) (map[string]any, error) {
	if !src.IsURL() {
		return src.Inline, nil
	}
	if m.Fetcher == nil {
		return nil, errors.Errorf("cannot fetch %s: no fetcher configured", src.URL)
	}
	data, err := m.Fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, errors.Errorf("fetching %s: %w", src.URL, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Errorf("decoding %s: %w", src.URL, err)
	}
	return out, nil
}

// fanOut runs fn for each concrete target of target. Only the first target
// is used when first is set. A recursion aborts the fan-out, other failures
// are collected and the remaining targets still run.
func (m *MetaPlugin) fanOut(ctx context.Context, target *config.Target, first bool, fn func(ctx context.Context, t *config.Target) error) error {
	ctx, err := enter(ctx, target.Name)
	if err != nil {
		return err
	}
	targets, err := m.Resolve(ctx, target)
	if err != nil {
		return err
	}
	if first && len(targets) > 1 {
		targets = targets[:1]
	}

	var errs []error
	for _, t := range targets {
		if IsCancelling(ctx) {
			break
		}
		zerolog.Ctx(ctx).Debug().Str("target", target.Name).Str("resolved", t.Name).Msg("dispatching to resolved target")
		if err := fn(ctx, t); err != nil {
			if errdefs.IsRecursion(err) {
				return err
			}
			errs = append(errs, errors.Errorf("target %q: %w", t.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// 📤 Upload uploads the batch to every resolved target
func (m *MetaPlugin) Upload(ctx context.Context, op *UploadContext) error {
	return m.fanOut(ctx, op.Target, false, func(ctx context.Context, t *config.Target) error {
		files := make([]*FileToUpload, len(op.Files))
		for i, f := range op.Files {
			files[i] = &FileToUpload{Name: f.Name, Path: f.Path, Read: f.Read, Hooks: f.prefixed(t.Name)}
		}
		return m.Dispatcher.Upload(ctx, &UploadContext{Target: t, Files: files, Transform: op.Transform})
	})
}

// 📥 Download downloads the batch from the first resolved target
func (m *MetaPlugin) Download(ctx context.Context, op *DownloadContext) error {
	return m.fanOut(ctx, op.Target, true, func(ctx context.Context, t *config.Target) error {
		files := make([]*FileToDownload, len(op.Files))
		for i, f := range op.Files {
			files[i] = &FileToDownload{Name: f.Name, Path: f.Path, Write: f.Write, Hooks: f.prefixed(t.Name)}
		}
		return m.Dispatcher.Download(ctx, &DownloadContext{Target: t, Files: files, Transform: op.Transform})
	})
}

// 📂 List lists the directory of the first resolved target
func (m *MetaPlugin) List(ctx context.Context, op *ListContext) ([]remote.FileInfo, error) {
	var entries []remote.FileInfo
	err := m.fanOut(ctx, op.Target, true, func(ctx context.Context, t *config.Target) error {
		var err error
		entries, err = m.Dispatcher.List(ctx, &ListContext{Target: t, Dir: op.Dir})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// 🗑️ Delete deletes the batch from every resolved target
func (m *MetaPlugin) Delete(ctx context.Context, op *DeleteContext) error {
	return m.fanOut(ctx, op.Target, false, func(ctx context.Context, t *config.Target) error {
		files := make([]*FileToDelete, len(op.Files))
		for i, f := range op.Files {
			files[i] = &FileToDelete{Name: f.Name, Path: f.Path, Hooks: f.prefixed(t.Name)}
		}
		return m.Dispatcher.Delete(ctx, &DeleteContext{Target: t, Files: files})
	})
}

// 🧹 RemoveFolders removes the batch from every resolved target
func (m *MetaPlugin) RemoveFolders(ctx context.Context, op *RemoveFoldersContext) error {
	return m.fanOut(ctx, op.Target, false, func(ctx context.Context, t *config.Target) error {
		folders := make([]*FolderToRemove, len(op.Folders))
		for i, f := range op.Folders {
			folders[i] = &FolderToRemove{Name: f.Name, Path: f.Path, Hooks: f.prefixed(t.Name)}
		}
		return m.Dispatcher.RemoveFolders(ctx, &RemoveFoldersContext{Target: t, Folders: folders})
	})
}
