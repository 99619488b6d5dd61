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

// Package dropbox implements the capability contract over the Dropbox API.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const BackendType = "dropbox"

func init() {
	remote.Register(BackendType, New)
}

// Config is the Dropbox backend configuration
type Config struct {
	Token       string `json:"token,omitempty"`
	AskForToken bool   `json:"askForToken,omitempty"`
}

// Files is the subset of files.Client used by this backend
type Files interface {
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error)
}

// Client is a Dropbox session
type Client struct {
	api Files
}

var _ remote.Client = (*Client)(nil)

func New(ctx context.Context, settings json.RawMessage, opts remote.Options) (remote.Client, error) {
	var cfg Config
	if err := remote.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}

	req := remote.CredentialRequest{Key: "token", Explicit: strings.TrimSpace(cfg.Token), Secret: true, Ask: cfg.AskForToken}
	token, err := remote.ResolveCredential(ctx, opts.Credentials, req)
	if err != nil {
		return nil, err
	}
	if token == "" {
		err := errors.Errorf("no access token configured")
		remote.SettleCredentials(opts.Credentials, err, []remote.CredentialRequest{req}, nil)
		return nil, errdefs.Connection("dropbox connect", err)
	}
	remote.SettleCredentials(opts.Credentials, nil, []remote.CredentialRequest{req}, []string{token})

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Msg("connecting")

	return NewFromFiles(files.New(dropbox.Config{Token: token, LogLevel: dropbox.LogOff})), nil
}

// NewFromFiles wraps a files API client
func NewFromFiles(api Files) *Client {
	return &Client{api: api}
}

// toDropboxPath maps the root to "" and everything else to "/x"
func toDropboxPath(p string) string {
	p = remote.NormalizePath(p)
	if p == "" {
		return ""
	}
	return "/" + p
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not_found")
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	logger := zerolog.Ctx(ctx).With().Str("backend", BackendType).Str("path", dir).Logger()

	res, err := c.api.ListFolder(files.NewListFolderArg(toDropboxPath(dir)))
	if err != nil {
		if isNotFound(err) {
			return nil, errdefs.NotFound("list", dir, err)
		}
		return nil, errors.Errorf("listing %s: %w", dir, err)
	}

	var entries []remote.FileInfo
	for {
		for _, md := range res.Entries {
			entries = append(entries, c.toFileInfo(dir, md))
		}
		if !res.HasMore {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug().Str("cursor", res.Cursor).Msg("continuing listing")
		res, err = c.api.ListFolderContinue(files.NewListFolderContinueArg(res.Cursor))
		if err != nil {
			return nil, errors.Errorf("continuing listing of %s: %w", dir, err)
		}
	}
	return entries, nil
}

func (c *Client) toFileInfo(dir string, md files.IsMetadata) remote.FileInfo {
	switch m := md.(type) {
	case *files.FolderMetadata:
		return remote.FileInfo{Name: m.Name, Path: dir, Type: remote.TypeDirectory}
	case *files.FileMetadata:
		full := remote.JoinPath(dir, m.Name)
		return remote.FileInfo{
			Name: m.Name,
			Path: dir,
			Type: remote.TypeFile,
			Size: int64(m.Size),
			Time: m.ServerModified.UTC(),
			Download: func(ctx context.Context) ([]byte, error) {
				return c.DownloadFile(ctx, full)
			},
		}
	case *files.DeletedMetadata:
		return remote.FileInfo{Name: m.Name, Path: dir, Type: remote.TypeOther}
	default:
		return remote.FileInfo{Path: dir, Type: remote.TypeOther}
	}
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	arg := files.NewUploadArg(toDropboxPath(p))
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	arg.Autorename = false

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", arg.Path).Int("bytes", len(data)).Msg("uploading file")
	if _, err := c.api.Upload(arg, bytes.NewReader(data)); err != nil {
		return errors.Errorf("uploading %s: %w", arg.Path, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	path := toDropboxPath(p)
	_, body, err := c.api.Download(files.NewDownloadArg(path))
	if err != nil {
		if isNotFound(err) {
			return nil, errdefs.NotFound("download", path, err)
		}
		return nil, errors.Errorf("downloading %s: %w", path, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	path := toDropboxPath(p)
	if _, err := c.api.DeleteV2(files.NewDeleteArg(path)); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backend", BackendType).Str("path", path).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

// RemoveFolder deletes the folder with everything below it in one request
func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return c.DeleteFile(ctx, p)
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	return nil
}
