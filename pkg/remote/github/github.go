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

// Package github implements the capability contract on a GitHub repository
// through the contents API. Every upload and delete is one commit.
package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const BackendType = "github"

func init() {
	remote.Register(BackendType, New)
}

// Config is the GitHub backend configuration
type Config struct {
	// Repo is "owner/name"
	Repo        string `json:"repo"`
	Ref         string `json:"ref,omitempty"`
	Token       string `json:"token,omitempty"`
	AskForToken bool   `json:"askForToken,omitempty"`
	// Message is the commit message, "{path}" is replaced by the file path
	Message string `json:"message,omitempty"`
	// BaseURL points at a GitHub Enterprise API
	BaseURL string `json:"baseUrl,omitempty"`

	owner string
	name  string
}

// Validate checks the repository and sets defaults
func (c *Config) Validate() error {
	parts := strings.Split(strings.Trim(c.Repo, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return errors.Errorf("invalid repository format: %q", c.Repo)
	}
	c.owner, c.name = parts[len(parts)-2], parts[len(parts)-1]
	if c.Message == "" {
		c.Message = "deployrc: update {path}"
	}
	return nil
}

// Client is a session on one repository
type Client struct {
	gh  *github.Client
	cfg Config
}

var _ remote.Client = (*Client)(nil)

// 🏭 New creates a GitHub client
func New(ctx context.Context, settings json.RawMessage, opts remote.Options) (remote.Client, error) {
	var cfg Config
	if err := remote.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	req := remote.CredentialRequest{Key: "token", Explicit: strings.TrimSpace(cfg.Token), Secret: true, Ask: cfg.AskForToken}
	token, err := remote.ResolveCredential(ctx, opts.Credentials, req)
	if err != nil {
		return nil, err
	}

	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if cfg.BaseURL != "" {
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			remote.SettleCredentials(opts.Credentials, err, []remote.CredentialRequest{req}, nil)
			return nil, errdefs.Connection("github connect", err)
		}
	}
	remote.SettleCredentials(opts.Credentials, nil, []remote.CredentialRequest{req}, []string{token})

	zerolog.Ctx(ctx).Debug().
		Str("backend", BackendType).
		Str("repo", cfg.Repo).
		Str("ref", cfg.Ref).
		Msg("connecting")

	return NewFromClient(gh, cfg), nil
}

// NewFromClient wraps an existing go-github client. cfg must be validated.
func NewFromClient(gh *github.Client, cfg Config) *Client {
	return &Client{gh: gh, cfg: cfg}
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func (c *Client) getOptions() *github.RepositoryContentGetOptions {
	return &github.RepositoryContentGetOptions{Ref: c.cfg.Ref}
}

func (c *Client) fileOptions(p string) *github.RepositoryContentFileOptions {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(strings.ReplaceAll(c.cfg.Message, "{path}", p)),
	}
	if c.cfg.Ref != "" {
		opts.Branch = github.String(c.cfg.Ref)
	}
	return opts
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", dir).Msg("listing directory")

	file, contents, _, err := c.gh.Repositories.GetContents(ctx, c.cfg.owner, c.cfg.name, dir, c.getOptions())
	if err != nil {
		if isNotFound(err) {
			return nil, errdefs.NotFound("list", dir, err)
		}
		return nil, errors.Errorf("listing %s: %w", dir, err)
	}
	if file != nil {
		return nil, errors.Errorf("listing %s: not a directory", dir)
	}

	entries := make([]remote.FileInfo, 0, len(contents))
	for _, rc := range contents {
		fi := remote.FileInfo{Name: rc.GetName(), Path: dir, Size: int64(rc.GetSize())}
		switch rc.GetType() {
		case "dir":
			fi.Type = remote.TypeDirectory
			fi.Size = 0
		case "file":
			fi.Type = remote.TypeFile
			full := remote.JoinPath(dir, rc.GetName())
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

// stat returns the file at p, nil when it does not exist
func (c *Client) stat(ctx context.Context, p string) (*github.RepositoryContent, error) {
	file, _, _, err := c.gh.Repositories.GetContents(ctx, c.cfg.owner, c.cfg.name, p, c.getOptions())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return file, nil
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	p = remote.NormalizePath(p)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", p).Int("bytes", len(data)).Msg("uploading file")

	existing, err := c.stat(ctx, p)
	if err != nil {
		return errors.Errorf("checking %s: %w", p, err)
	}

	opts := c.fileOptions(p)
	opts.Content = data
	if existing != nil {
		opts.SHA = existing.SHA
		_, _, err = c.gh.Repositories.UpdateFile(ctx, c.cfg.owner, c.cfg.name, p, opts)
	} else {
		_, _, err = c.gh.Repositories.CreateFile(ctx, c.cfg.owner, c.cfg.name, p, opts)
	}
	if err != nil {
		return errors.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	p = remote.NormalizePath(p)

	file, err := c.stat(ctx, p)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", p, err)
	}
	if file == nil {
		return nil, errdefs.NotFound("download", p, nil)
	}

	if file.GetEncoding() != "none" {
		content, err := file.GetContent()
		if err != nil {
			return nil, errors.Errorf("decoding %s: %w", p, err)
		}
		return []byte(content), nil
	}

	// Large files come without inline content
	rc, _, err := c.gh.Repositories.DownloadContents(ctx, c.cfg.owner, c.cfg.name, p, c.getOptions())
	if err != nil {
		return nil, errors.Errorf("downloading %s: %w", p, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	p = remote.NormalizePath(p)
	logger := zerolog.Ctx(ctx).With().Str("backend", BackendType).Str("path", p).Logger()

	existing, err := c.stat(ctx, p)
	if err != nil || existing == nil {
		logger.Debug().Err(err).Msg("file to delete not found")
		return false, nil
	}

	opts := c.fileOptions(p)
	opts.Message = github.String("deployrc: delete " + p)
	opts.SHA = existing.SHA
	if _, _, err := c.gh.Repositories.DeleteFile(ctx, c.cfg.owner, c.cfg.name, p, opts); err != nil {
		logger.Debug().Err(err).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

// RemoveFolder deletes every file below p. Git has no empty directories, so
// the folder is gone once its files are.
func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return remote.RemoveFolderRecursive(ctx, c, p, nil), nil
}

func (c *Client) Type() string { return BackendType }

func (c *Client) Close() error { return nil }
