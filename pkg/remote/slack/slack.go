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

// Package slack maps the capability contract onto Slack: channels are
// directories, files shared into a channel are its entries.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/time/rate"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const BackendType = "slack"

func init() {
	remote.Register(BackendType, New)
}

// Config is the Slack backend configuration
type Config struct {
	Token             string `json:"token,omitempty"`
	AskForToken       bool   `json:"askForToken,omitempty"`
	RequestsPerMinute int    `json:"requestsPerMinute,omitempty"`
	PageSize          int    `json:"pageSize,omitempty"`
}

// Validate sets defaults
func (c *Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 50
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	return nil
}

// API is the subset of *slack.Client used by this backend
type API interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetFilesContext(ctx context.Context, params slack.GetFilesParameters) ([]slack.File, *slack.Paging, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	DeleteFileContext(ctx context.Context, fileID string) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

var _ API = (*slack.Client)(nil)

// Client is a Slack workspace session
type Client struct {
	cfg     Config
	api     API
	limiter *rate.Limiter
}

var _ remote.Client = (*Client)(nil)

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
	if token == "" {
		err := errors.Errorf("no token configured")
		remote.SettleCredentials(opts.Credentials, err, []remote.CredentialRequest{req}, nil)
		return nil, errdefs.Connection("slack connect", err)
	}
	remote.SettleCredentials(opts.Credentials, nil, []remote.CredentialRequest{req}, []string{token})

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Int("rpm", cfg.RequestsPerMinute).Msg("connecting")
	return NewFromAPI(cfg, slack.New(token)), nil
}

// NewFromAPI wraps a Slack API client. cfg must be validated.
func NewFromAPI(cfg Config, api API) *Client {
	every := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &Client{
		cfg:     cfg,
		api:     api,
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Errorf("waiting for rate limit: %w", err)
	}
	return nil
}

// splitSlackPath returns the channel id (upper case) and the file part
func splitSlackPath(p string) (channel, file string) {
	p = remote.NormalizePath(p)
	channel, file, _ = strings.Cut(p, "/")
	return strings.ToUpper(strings.TrimSpace(channel)), file
}

func (c *Client) listChannels(ctx context.Context) ([]remote.FileInfo, error) {
	var out []remote.FileInfo
	cursor := ""
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		channels, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           c.cfg.PageSize,
		})
		if err != nil {
			return nil, errors.Errorf("listing channels: %w", err)
		}
		for _, ch := range channels {
			out = append(out, remote.FileInfo{
				Name: ch.ID,
				Path: "",
				Type: remote.TypeDirectory,
				Time: ch.Created.Time().UTC(),
			})
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// channelFiles walks files.list pages until the reported page count
func (c *Client) channelFiles(ctx context.Context, channel string) ([]slack.File, error) {
	var all []slack.File
	for page := 1; ; page++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		files, paging, err := c.api.GetFilesContext(ctx, slack.GetFilesParameters{
			Channel: channel,
			Count:   c.cfg.PageSize,
			Page:    page,
		})
		if err != nil {
			return nil, errors.Errorf("listing files of %s: %w", channel, err)
		}
		all = append(all, files...)
		if paging == nil || page >= paging.Pages {
			return all, nil
		}
	}
}

func (c *Client) toFileInfo(channel string, f slack.File) remote.FileInfo {
	url := f.URLPrivateDownload
	return remote.FileInfo{
		Name: f.Name,
		Path: channel,
		Type: remote.TypeFile,
		Size: int64(f.Size),
		Time: f.Timestamp.Time().UTC(),
		Download: func(ctx context.Context) ([]byte, error) {
			return c.download(ctx, url)
		},
	}
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, errors.Errorf("downloading %s: %w", url, err)
	}
	return buf.Bytes(), nil
}

// findFiles returns the files of the channel whose id or name matches,
// newest first.
func (c *Client) findFiles(ctx context.Context, p string) ([]slack.File, error) {
	channel, name := splitSlackPath(p)
	if channel == "" || name == "" {
		return nil, errdefs.NotFound("find", p, errors.New("path needs a channel and a file"))
	}
	files, err := c.channelFiles(ctx, channel)
	if err != nil {
		return nil, err
	}

	want := strings.ToLower(strings.TrimSpace(name))
	var matches []slack.File
	for _, f := range files {
		if strings.ToLower(f.ID) == want || strings.ToLower(f.Name) == want {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return nil, errdefs.NotFound("find", p, errors.New("no matching file"))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp > matches[j].Timestamp
	})
	return matches, nil
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	channel, _ := splitSlackPath(dir)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", channel).Msg("listing directory")
	if channel == "" {
		return c.listChannels(ctx)
	}

	files, err := c.channelFiles(ctx, channel)
	if err != nil {
		return nil, err
	}
	entries := make([]remote.FileInfo, 0, len(files))
	for _, f := range files {
		entries = append(entries, c.toFileInfo(channel, f))
	}
	return entries, nil
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	channel, file := splitSlackPath(p)
	if channel == "" || file == "" {
		return errors.Errorf("slack upload path %q needs a channel and a file name", p)
	}
	if len(data) == 0 {
		return errors.Errorf("slack does not accept empty files")
	}
	_, name := remote.SplitPath(file)

	if err := c.wait(ctx); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("channel", channel).Str("name", name).Int("bytes", len(data)).Msg("uploading file")

	_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:   bytes.NewReader(data),
		FileSize: len(data),
		Filename: name,
		Title:    name,
		Channel:  channel,
	})
	if err != nil {
		return errors.Errorf("uploading %s: %w", p, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	matches, err := c.findFiles(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, matches[0].URLPrivateDownload)
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	logger := zerolog.Ctx(ctx).With().Str("backend", BackendType).Str("path", p).Logger()

	matches, err := c.findFiles(ctx, p)
	if err != nil {
		logger.Debug().Err(err).Msg("finding file to delete")
		return false, nil
	}
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	if err := c.api.DeleteFileContext(ctx, matches[0].ID); err != nil {
		logger.Debug().Err(err).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return false, errdefs.Unsupported("rmdir", "removing slack channels")
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	return nil
}
