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

// Package azureblob implements the capability contract over an Azure blob
// container. Directories are synthesized from blob names.
package azureblob

import (
	"context"
	"crypto/md5" //nolint:gosec // Content-MD5 header
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const (
	BackendType      = "azureblob"
	DefaultContainer = "vscode-deploy-reloaded"

	// well known Azurite account
	devStorageConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
		"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
		"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"
)

func init() {
	remote.Register(BackendType, New)
}

// Config is the Azure blob backend configuration
type Config struct {
	Account               string `json:"account,omitempty"`
	AccessKey             string `json:"accessKey,omitempty"`
	Container             string `json:"container,omitempty"`
	Host                  string `json:"host,omitempty"`
	ConnectionString      string `json:"connectionString,omitempty"`
	UseDevelopmentStorage bool   `json:"useDevelopmentStorage,omitempty"`
	HashContent           bool   `json:"hashContent,omitempty"`
}

// Validate sets defaults
func (c *Config) Validate() error {
	c.Container = strings.ToLower(strings.TrimSpace(c.Container))
	if c.Container == "" {
		c.Container = DefaultContainer
	}
	if !c.UseDevelopmentStorage && c.ConnectionString == "" && c.Account == "" {
		return errors.Errorf("account is required unless a connection string or development storage is used")
	}
	return nil
}

func (c *Config) serviceURL() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimSuffix(host, "/") + "/"
}

// BlobStore is the flat name space of one container
type BlobStore interface {
	ListPage(ctx context.Context, prefix, marker string) ([]remote.Object, string, error)
	Upload(ctx context.Context, name string, data []byte, headers blob.HTTPHeaders) error
	Download(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

type containerStore struct {
	client    *azblob.Client
	container string
}

func newContainerStore(cfg Config) (BlobStore, error) {
	var client *azblob.Client
	var err error
	switch {
	case cfg.UseDevelopmentStorage:
		client, err = azblob.NewClientFromConnectionString(devStorageConnectionString, nil)
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	default:
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.Account, cfg.AccessKey)
		if err != nil {
			return nil, errors.Errorf("creating shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, nil)
	}
	if err != nil {
		return nil, errors.Errorf("creating blob client: %w", err)
	}
	return &containerStore{client: client, container: cfg.Container}, nil
}

// ListPage fetches a single segment starting at marker
func (s *containerStore) ListPage(ctx context.Context, prefix, marker string) ([]remote.Object, string, error) {
	opts := &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)}
	if marker != "" {
		opts.Marker = to.Ptr(marker)
	}
	pager := s.client.NewListBlobsFlatPager(s.container, opts)
	if !pager.More() {
		return nil, "", nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, "", errors.Errorf("listing blobs: %w", err)
	}

	var objects []remote.Object
	if resp.Segment != nil {
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			obj := remote.Object{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					obj.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					obj.Time = p.LastModified.UTC()
				}
			}
			objects = append(objects, obj)
		}
	}

	next := ""
	if resp.NextMarker != nil {
		next = *resp.NextMarker
	}
	return objects, next, nil
}

func (s *containerStore) Upload(ctx context.Context, name string, data []byte, headers blob.HTTPHeaders) error {
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{HTTPHeaders: &headers})
	return err
}

func (s *containerStore) Download(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, errdefs.NotFound("download", name, err)
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *containerStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, name, nil)
	return err
}

// Client is a container session
type Client struct {
	cfg   Config
	store BlobStore
}

var _ remote.Client = (*Client)(nil)

func New(ctx context.Context, settings json.RawMessage, _ remote.Options) (remote.Client, error) {
	var cfg Config
	if err := remote.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("container", cfg.Container).Bool("dev_storage", cfg.UseDevelopmentStorage).Msg("connecting")

	store, err := newContainerStore(cfg)
	if err != nil {
		return nil, errdefs.Connection("azureblob connect", err)
	}
	return NewFromStore(cfg, store), nil
}

// NewFromStore wraps a blob store. cfg must be validated.
func NewFromStore(cfg Config, store BlobStore) *Client {
	return &Client{cfg: cfg, store: store}
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	prefix := remote.ListPrefix(dir)

	var all []remote.Object
	marker := ""
	for {
		objects, next, err := c.store.ListPage(ctx, prefix, marker)
		if err != nil {
			return nil, errors.Errorf("listing %s: %w", dir, err)
		}
		all = append(all, objects...)
		if next == "" {
			break
		}
		marker = next
	}
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", dir).Int("blobs", len(all)).Msg("listed directory")

	return remote.SynthesizeListing(dir, all, func(key string) func(ctx context.Context) ([]byte, error) {
		return func(ctx context.Context) ([]byte, error) {
			return c.DownloadFile(ctx, key)
		}
	}), nil
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	name := remote.NormalizePath(p)
	headers := blob.HTTPHeaders{
		BlobContentType: to.Ptr(mimetype.Detect(data).String()),
	}
	if c.cfg.HashContent {
		sum := md5.Sum(data) //nolint:gosec
		headers.BlobContentMD5 = sum[:]
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", name).Int("bytes", len(data)).Msg("uploading file")
	if err := c.store.Upload(ctx, name, data, headers); err != nil {
		return errors.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	name := remote.NormalizePath(p)
	data, err := c.store.Download(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.Errorf("downloading %s: %w", name, err)
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	name := remote.NormalizePath(p)
	if err := c.store.Delete(ctx, name); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backend", BackendType).Str("path", name).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return remote.RemoveFolderRecursive(ctx, c, p, nil), nil
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	return nil
}
