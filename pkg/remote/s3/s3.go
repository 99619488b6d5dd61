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

// Package s3 implements the capability contract over an S3 compatible
// bucket. Directories are synthesized from the flat key space.
package s3

import (
	"context"
	"encoding/json"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const BackendType = "s3bucket"

func init() {
	remote.Register(BackendType, New)
	remote.Register("s3", New)
}

// Client is a bucket session
type Client struct {
	cfg   Config
	store ObjectStore
}

var _ remote.Client = (*Client)(nil)

// New builds the configured driver. No request is made until the first
// operation.
func New(ctx context.Context, settings json.RawMessage, _ remote.Options) (remote.Client, error) {
	var cfg Config
	if err := remote.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("driver", string(cfg.Driver)).Str("bucket", cfg.Bucket).Msg("connecting")

	var store ObjectStore
	switch cfg.Driver {
	case DriverMinio:
		s, err := newMinioStore(cfg)
		if err != nil {
			return nil, errdefs.Connection("s3 connect", err)
		}
		store = s
	default:
		api, err := newAWSAPI(ctx, cfg)
		if err != nil {
			return nil, errdefs.Connection("s3 connect", err)
		}
		store = NewAWSStore(api, cfg.Bucket)
	}

	return NewFromStore(cfg, store), nil
}

// NewFromStore wraps an object store. cfg must be validated.
func NewFromStore(cfg Config, store ObjectStore) *Client {
	return &Client{cfg: cfg, store: store}
}

// ListDirectory follows continuation tokens until the last page and only
// then synthesizes the listing, so entries spanning pages are deduplicated.
func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	prefix := remote.ListPrefix(dir)
	logger := zerolog.Ctx(ctx).With().Str("backend", BackendType).Str("path", dir).Logger()

	var objects []remote.Object
	token := ""
	for pages := 1; ; pages++ {
		page, err := c.store.ListPage(ctx, prefix, token)
		if err != nil {
			return nil, errors.Errorf("listing %s: %w", dir, err)
		}
		objects = append(objects, page.Objects...)
		logger.Debug().Int("page", pages).Int("objects", len(page.Objects)).Msg("listed page")

		if page.Next == "" {
			break
		}
		token = page.Next
	}

	return remote.SynthesizeListing(dir, objects, func(key string) func(ctx context.Context) ([]byte, error) {
		return func(ctx context.Context) ([]byte, error) {
			return c.DownloadFile(ctx, key)
		}
	}), nil
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	key := remote.NormalizePath(p)
	contentType := mimetype.Detect(data).String()
	acl := c.cfg.ACL.For(key)

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", key).Str("acl", acl).Str("content_type", contentType).Msg("uploading file")

	if err := c.store.Put(ctx, key, data, contentType, acl); err != nil {
		return errors.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	key := remote.NormalizePath(p)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", key).Msg("downloading file")

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.Errorf("downloading %s: %w", key, err)
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	key := remote.NormalizePath(p)
	if err := c.store.Delete(ctx, key); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backend", BackendType).Str("path", key).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

// RemoveFolder deletes every key below p. The folder itself is implicit,
// only a folder marker key may be left to clear.
func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return remote.RemoveFolderRecursive(ctx, c, p, func(ctx context.Context, dir string) error {
		if err := c.store.Delete(ctx, remote.ListPrefix(dir)); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("backend", BackendType).Str("path", dir).Msg("deleting folder marker")
		}
		return nil
	}), nil
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	return nil
}
