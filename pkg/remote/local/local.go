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

// Package local implements the capability contract on a directory tree.
package local

import (
	"context"
	"encoding/json"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const BackendType = "local"

func init() {
	remote.Register(BackendType, New)
}

// Config is the local backend configuration
type Config struct {
	Root string `json:"root,omitempty"`
}

// Validate sets defaults
func (c *Config) Validate() error {
	if c.Root == "" {
		c.Root = "."
	}
	return nil
}

// Client reads and writes files below a root directory
type Client struct {
	fs billy.Filesystem
}

var _ remote.Client = (*Client)(nil)

// New creates a client rooted at the configured directory
func New(ctx context.Context, settings json.RawMessage, opts remote.Options) (remote.Client, error) {
	var cfg Config
	if err := remote.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}
	return NewFromFilesystem(osfs.New(cfg.Root)), nil
}

// NewFromFilesystem wraps an existing billy filesystem
func NewFromFilesystem(fs billy.Filesystem) *Client {
	return &Client{fs: fs}
}

func fsPath(p string) string {
	p = remote.NormalizePath(p)
	if p == "" {
		return "."
	}
	return p
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", dir).Msg("listing directory")

	infos, err := c.fs.ReadDir(fsPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("list", dir, err)
		}
		return nil, errors.Errorf("reading directory %s: %w", dir, err)
	}

	entries := make([]remote.FileInfo, 0, len(infos))
	for _, info := range infos {
		fi := remote.FileInfo{
			Name: info.Name(),
			Path: dir,
			Size: info.Size(),
			Time: info.ModTime().UTC(),
		}
		switch {
		case info.IsDir():
			fi.Type = remote.TypeDirectory
			fi.Size = 0
		case info.Mode().IsRegular():
			fi.Type = remote.TypeFile
			full := remote.JoinPath(dir, info.Name())
			fi.Download = func(ctx context.Context) ([]byte, error) {
				return c.DownloadFile(ctx, full)
			}
		default:
			fi.Type = remote.TypeOther
		}
		entries = append(entries, fi)
	}
	return entries, nil
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	p = remote.NormalizePath(p)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", p).Int("bytes", len(data)).Msg("uploading file")

	if dir, _ := remote.SplitPath(p); dir != "" {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(c.fs, p, data, 0o644); err != nil {
		return errors.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	p = remote.NormalizePath(p)
	data, err := util.ReadFile(c.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("download", p, err)
		}
		return nil, errors.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	p = remote.NormalizePath(p)
	info, err := c.fs.Lstat(p)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}
	if err := c.fs.Remove(p); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", p).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return remote.RemoveFolderRecursive(ctx, c, p, func(ctx context.Context, dir string) error {
		return c.fs.Remove(dir)
	}), nil
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	return nil
}
