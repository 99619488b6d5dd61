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
	"strings"
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/text"
)

// 🚦 Dispatcher routes batches to the plugins registered for a target type
type Dispatcher struct {
	mu       sync.RWMutex
	plugins  map[string][]Plugin
	fallback []Plugin
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{plugins: map[string][]Plugin{}}
}

// 🔧 Options configure New
type Options struct {
	Values     text.Values       // Extra placeholder values, overriding the config
	Prompter   Prompter          // Credential and list prompts
	Fetcher    Fetcher           // URL sources of map and list targets
	Selections map[string]string // Switch target name → option name
	Connector  Connector         // Defaults to a RemoteConnector
}

// 🏗️ New wires a dispatcher for cfg: meta target types go to a MetaPlugin,
// everything else to a ClientPlugin
func New(cfg *config.Config, opts Options) *Dispatcher {
	d := NewDispatcher()

	connector := opts.Connector
	if connector == nil {
		connector = &RemoteConnector{
			Values:      text.Values(cfg.Values).Merge(opts.Values),
			Credentials: NewCredentialStore(opts.Prompter),
		}
	}
	d.SetFallback(NewClientPlugin(connector))

	meta := &MetaPlugin{
		Config:     cfg,
		Dispatcher: d,
		Fetcher:    opts.Fetcher,
		Prompter:   opts.Prompter,
		Selections: opts.Selections,
	}
	for _, t := range []string{config.TypeEach, config.TypeMap, config.TypeSwitch, config.TypeList} {
		d.Register(t, meta)
	}
	return d
}

// Register adds a plugin for a target type
func (d *Dispatcher) Register(targetType string, p Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(targetType)
	d.plugins[key] = append(d.plugins[key], p)
}

// SetFallback sets the plugins used for types without registered plugins
func (d *Dispatcher) SetFallback(p ...Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = p
}

// PluginsFor returns the plugins serving target
func (d *Dispatcher) PluginsFor(target *config.Target) []Plugin {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if ps, ok := d.plugins[strings.ToLower(target.Type)]; ok {
		return ps
	}
	return d.fallback
}

// 🔍 CanDo reports whether any plugin can run op for target
func (d *Dispatcher) CanDo(target *config.Target, op Operation) bool {
	for _, p := range d.PluginsFor(target) {
		if CanDo(p, target.Type, op) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) capable(target *config.Target, op Operation) ([]Plugin, error) {
	if target == nil {
		return nil, errors.Errorf("%s: no target", op)
	}
	var out []Plugin
	for _, p := range d.PluginsFor(target) {
		if CanDo(p, target.Type, op) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errdefs.Unsupported(op.String(), "target "+target.Name+" of type "+target.Type)
	}
	return out, nil
}

// 📤 Upload runs the batch through every capable plugin
func (d *Dispatcher) Upload(ctx context.Context, op *UploadContext) error {
	ps, err := d.capable(op.Target, OpUpload)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if IsCancelling(ctx) {
			return nil
		}
		if err := p.Upload(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

// 📥 Download runs the batch through the first capable plugin
func (d *Dispatcher) Download(ctx context.Context, op *DownloadContext) error {
	ps, err := d.capable(op.Target, OpDownload)
	if err != nil {
		return err
	}
	return ps[0].(Downloader).Download(ctx, op)
}

// 📂 List merges the listings of every capable plugin
func (d *Dispatcher) List(ctx context.Context, op *ListContext) ([]remote.FileInfo, error) {
	ps, err := d.capable(op.Target, OpList)
	if err != nil {
		return nil, err
	}
	var out []remote.FileInfo
	for _, p := range ps {
		if IsCancelling(ctx) {
			break
		}
		entries, err := p.(Lister).List(ctx, op)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// 🗑️ Delete runs the batch through every capable plugin
func (d *Dispatcher) Delete(ctx context.Context, op *DeleteContext) error {
	ps, err := d.capable(op.Target, OpDelete)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if IsCancelling(ctx) {
			return nil
		}
		if err := p.(Deleter).Delete(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

// 🧹 RemoveFolders runs the batch through every capable plugin
func (d *Dispatcher) RemoveFolders(ctx context.Context, op *RemoveFoldersContext) error {
	ps, err := d.capable(op.Target, OpRemoveFolder)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if IsCancelling(ctx) {
			return nil
		}
		if err := p.(FolderRemover).RemoveFolders(ctx, op); err != nil {
			return err
		}
	}
	return nil
}
