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

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/text"
	"github.com/walteh/deployrc/pkg/transform"
)

// 🔌 Connector opens a client for a concrete target
type Connector interface {
	Connect(ctx context.Context, target *config.Target) (remote.Client, error)
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(ctx context.Context, target *config.Target) (remote.Client, error)

func (f ConnectorFunc) Connect(ctx context.Context, target *config.Target) (remote.Client, error) {
	return f(ctx, target)
}

// 🏭 RemoteConnector connects through the backend registry. Settings are
// expanded with Values and credentials come from the target's own cache.
type RemoteConnector struct {
	Values      text.Values
	Credentials *CredentialStore
}

func (c *RemoteConnector) Connect(ctx context.Context, target *config.Target) (remote.Client, error) {
	settings, err := target.SettingsJSON(c.Values)
	if err != nil {
		return nil, err
	}
	opts := remote.Options{Values: c.Values}
	if c.Credentials != nil {
		opts.Credentials = c.Credentials.For(target.Name)
	}
	return remote.New(ctx, target.Type, settings, opts)
}

// DefaultRestrictions lists operations backends reject for every path
var DefaultRestrictions = map[string][]Operation{
	"slack": {OpRemoveFolder},
}

// 🔌 ClientPlugin serves every backend target through a remote.Client. Each
// batch opens one connection, processes its items in order and closes the
// connection when done.
type ClientPlugin struct {
	Connector  Connector
	Restricted map[string][]Operation
}

var (
	_ Downloader    = (*ClientPlugin)(nil)
	_ Lister        = (*ClientPlugin)(nil)
	_ Deleter       = (*ClientPlugin)(nil)
	_ FolderRemover = (*ClientPlugin)(nil)
	_ Restricter    = (*ClientPlugin)(nil)
)

// NewClientPlugin creates a client plugin with the default restrictions
func NewClientPlugin(connector Connector) *ClientPlugin {
	return &ClientPlugin{Connector: connector, Restricted: DefaultRestrictions}
}

func (p *ClientPlugin) Supports(targetType string, op Operation) bool {
	if config.IsMeta(targetType) {
		return false
	}
	for _, r := range p.Restricted[strings.ToLower(targetType)] {
		if r == op {
			return false
		}
	}
	return true
}

// withClient runs fn with a fresh connection to target. A batch cancelled
// before it starts, or whose credential prompt was dismissed, does nothing.
func (p *ClientPlugin) withClient(ctx context.Context, target *config.Target, fn func(client remote.Client) error) error {
	logger := zerolog.Ctx(ctx).With().Str("target", target.Name).Str("backend", target.Type).Logger()

	if IsCancelling(ctx) {
		logger.Debug().Msg("batch cancelled before connecting")
		return nil
	}

	client, err := p.Connector.Connect(ctx, target)
	observeConnection(target.Type, err)
	if err != nil {
		if errors.Is(err, remote.ErrPromptCancelled) {
			logger.Debug().Msg("credential prompt dismissed")
			return nil
		}
		if errdefs.KindOf(err) == "" {
			err = errdefs.Connection("connect "+target.Name, err)
		}
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("closing connection")
		}
	}()

	logger.Debug().Msg("connected")
	return fn(client)
}

func (p *ClientPlugin) transformOf(target *config.Target, explicit transform.Func) (transform.Func, error) {
	if explicit != nil {
		return transform.Safe(explicit), nil
	}
	return TransformFor(target)
}

// 📤 Upload uploads every file of the batch
func (p *ClientPlugin) Upload(ctx context.Context, op *UploadContext) error {
	tf, err := p.transformOf(op.Target, op.Transform)
	if err != nil {
		return err
	}
	return p.withClient(ctx, op.Target, func(client remote.Client) error {
		for _, f := range op.Files {
			if IsCancelling(ctx) {
				return nil
			}
			rel := f.RelativePath()
			f.Before(ctx, destination(rel))
			n, err := p.uploadOne(ctx, client, op.Target, f, tf)
			f.Completed(ctx, err)
			record(ctx, Outcome{Target: op.Target.Name, Operation: OpUpload, Item: rel, Bytes: n, Err: err})
		}
		return nil
	})
}

func (p *ClientPlugin) uploadOne(ctx context.Context, client remote.Client, target *config.Target, f *FileToUpload, tf transform.Func) (int, error) {
	if f.Read == nil {
		return 0, errors.Errorf("no local source for %s", f.Name)
	}
	data, err := f.Read(ctx)
	if err != nil {
		return 0, err
	}
	out, err := tf(ctx, data, transformContext(target, transform.ModeTransform))
	if err != nil {
		return 0, err
	}
	if err := client.UploadFile(ctx, remote.JoinPath(target.Dir, f.RelativePath()), out); err != nil {
		return 0, err
	}
	return len(out), nil
}

// 📥 Download downloads every file of the batch
func (p *ClientPlugin) Download(ctx context.Context, op *DownloadContext) error {
	tf, err := p.transformOf(op.Target, op.Transform)
	if err != nil {
		return err
	}
	return p.withClient(ctx, op.Target, func(client remote.Client) error {
		for _, f := range op.Files {
			if IsCancelling(ctx) {
				return nil
			}
			rel := f.RelativePath()
			f.Before(ctx, destination(rel))
			n, err := p.downloadOne(ctx, client, op.Target, f, tf)
			f.Completed(ctx, err)
			record(ctx, Outcome{Target: op.Target.Name, Operation: OpDownload, Item: rel, Bytes: n, Err: err})
		}
		return nil
	})
}

func (p *ClientPlugin) downloadOne(ctx context.Context, client remote.Client, target *config.Target, f *FileToDownload, tf transform.Func) (int, error) {
	data, err := client.DownloadFile(ctx, remote.JoinPath(target.Dir, f.RelativePath()))
	if err != nil {
		return 0, err
	}
	restored, err := tf(ctx, data, transformContext(target, transform.ModeRestore))
	if err != nil {
		return 0, err
	}
	if f.Write != nil {
		if err := f.Write(ctx, restored); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// 📂 List lists a directory below the target dir, sorted for display. The
// Download funcs of the entries are only valid while the batch runs.
func (p *ClientPlugin) List(ctx context.Context, op *ListContext) ([]remote.FileInfo, error) {
	var entries []remote.FileInfo
	err := p.withClient(ctx, op.Target, func(client remote.Client) error {
		var err error
		entries, err = client.ListDirectory(ctx, remote.JoinPath(op.Target.Dir, op.Dir))
		return err
	})
	if err != nil {
		return nil, err
	}
	remote.SortEntries(entries)
	return entries, nil
}

// 🗑️ Delete deletes every file of the batch
func (p *ClientPlugin) Delete(ctx context.Context, op *DeleteContext) error {
	return p.withClient(ctx, op.Target, func(client remote.Client) error {
		for _, f := range op.Files {
			if IsCancelling(ctx) {
				return nil
			}
			rel := f.RelativePath()
			f.Before(ctx, destination(rel))
			ok, err := client.DeleteFile(ctx, remote.JoinPath(op.Target.Dir, rel))
			if err == nil && !ok {
				err = errors.Errorf("%s was not deleted", rel)
			}
			f.Completed(ctx, err)
			record(ctx, Outcome{Target: op.Target.Name, Operation: OpDelete, Item: rel, Err: err})
		}
		return nil
	})
}

// 🧹 RemoveFolders removes every folder of the batch
func (p *ClientPlugin) RemoveFolders(ctx context.Context, op *RemoveFoldersContext) error {
	return p.withClient(ctx, op.Target, func(client remote.Client) error {
		for _, f := range op.Folders {
			if IsCancelling(ctx) {
				return nil
			}
			rel := f.RelativePath()
			f.Before(ctx, destination(rel))
			dir := remote.JoinPath(op.Target.Dir, rel)
			ok, err := client.RemoveFolder(ctx, dir)
			// the root is never removed and that is not a failure
			if err == nil && !ok && !remote.IsRoot(dir) {
				err = errors.Errorf("%s was not removed", destination(rel))
			}
			f.Completed(ctx, err)
			record(ctx, Outcome{Target: op.Target.Name, Operation: OpRemoveFolder, Item: rel, Err: err})
		}
		return nil
	})
}
