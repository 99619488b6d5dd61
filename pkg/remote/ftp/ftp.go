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

// Package ftp implements the capability contract over FTP and FTPS.
package ftp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

const BackendType = "ftp"

func init() {
	remote.Register(BackendType, New)
}

// Config is the FTP backend configuration
type Config struct {
	Host                 string `json:"host,omitempty"`
	Port                 int    `json:"port,omitempty"`
	User                 string `json:"user,omitempty"`
	Password             string `json:"password,omitempty"`
	Secure               bool   `json:"secure,omitempty"`
	ExplicitTLS          bool   `json:"explicitTLS,omitempty"`
	InsecureSkipVerify   bool   `json:"insecureSkipVerify,omitempty"`
	TimeoutSeconds       int    `json:"timeout,omitempty"`
	AskForUser           bool   `json:"askForUser,omitempty"`
	AlwaysAskForUser     bool   `json:"alwaysAskForUser,omitempty"`
	AskForPassword       bool   `json:"askForPassword,omitempty"`
	AlwaysAskForPassword bool   `json:"alwaysAskForPassword,omitempty"`
}

// Validate sets defaults
func (c *Config) Validate() error {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 21
		if c.Secure && !c.ExplicitTLS {
			c.Port = 990
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 20
	}
	return nil
}

func (c *Config) credentialRequests() []remote.CredentialRequest {
	return []remote.CredentialRequest{
		{Key: "user", Explicit: c.User, Ask: c.AskForUser, AlwaysAsk: c.AlwaysAskForUser},
		{Key: "password", Explicit: c.Password, Secret: true, Ask: c.AskForPassword, AlwaysAsk: c.AlwaysAskForPassword},
	}
}

// Conn is the subset of *ftp.ServerConn used by this backend
type Conn interface {
	List(path string) ([]*ftp.Entry, error)
	Stor(path string, r io.Reader) error
	Retrieve(path string) (io.ReadCloser, error)
	Delete(path string) error
	RemoveDir(path string) error
	MakeDir(path string) error
	ChangeDir(path string) error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retrieve(path string) (io.ReadCloser, error) {
	return s.Retr(path)
}

// dial connects and logs in; replaced in tests
var dial = func(ctx context.Context, cfg Config, user, password string) (Conn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
	}
	if cfg.Secure {
		tlsCfg := &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // opt-in per target
		if cfg.ExplicitTLS {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsCfg))
		} else {
			opts = append(opts, ftp.DialWithTLS(tlsCfg))
		}
	}

	conn, err := ftp.Dial(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), opts...)
	if err != nil {
		return nil, errors.Errorf("dialing: %w", err)
	}
	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, errors.Errorf("logging in as %s: %w", user, err)
	}
	return serverConn{conn}, nil
}

// Client is an FTP connection
type Client struct {
	conn         Conn
	existingDirs map[string]bool
}

var _ remote.Client = (*Client)(nil)

// New resolves credentials and connects
func New(ctx context.Context, settings json.RawMessage, opts remote.Options) (remote.Client, error) {
	var cfg Config
	if err := remote.DecodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	reqs := cfg.credentialRequests()
	values := make([]string, len(reqs))
	for i, req := range reqs {
		v, err := remote.ResolveCredential(ctx, opts.Credentials, req)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	user := values[0]
	if user == "" {
		user = "anonymous"
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("host", cfg.Host).Int("port", cfg.Port).Str("user", user).Msg("connecting")

	conn, err := dial(ctx, cfg, user, values[1])
	remote.SettleCredentials(opts.Credentials, err, reqs, values)
	if err != nil {
		return nil, errdefs.Connection("ftp connect", err)
	}
	return NewFromConn(conn), nil
}

// NewFromConn wraps an established connection
func NewFromConn(conn Conn) *Client {
	return &Client{
		conn:         conn,
		existingDirs: map[string]bool{},
	}
}

func toFTPPath(p string) string {
	return remote.WithLeadingSlash(p)
}

func isNotFound(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable
	}
	return false
}

// ensureDir creates dir and its parents, remembering verified directories
// for the lifetime of the connection.
func (c *Client) ensureDir(ctx context.Context, dir string) error {
	dir = remote.NormalizePath(dir)
	if dir == "" {
		return nil
	}
	for _, d := range remote.DirChain(dir) {
		if c.existingDirs[d] {
			continue
		}
		abs := toFTPPath(d)
		if err := c.conn.ChangeDir(abs); err != nil {
			zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("dir", abs).Msg("creating directory")
			if err := c.conn.MakeDir(abs); err != nil {
				return errors.Errorf("creating directory %s: %w", abs, err)
			}
		}
		c.existingDirs[d] = true
	}
	return nil
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", dir).Msg("listing directory")

	list, err := c.conn.List(toFTPPath(dir))
	if err != nil {
		if isNotFound(err) {
			return nil, errdefs.NotFound("list", dir, err)
		}
		return nil, errors.Errorf("listing %s: %w", dir, err)
	}

	entries := make([]remote.FileInfo, 0, len(list))
	for _, e := range list {
		if e == nil || e.Name == "." || e.Name == ".." {
			continue
		}
		fi := remote.FileInfo{
			Name: e.Name,
			Path: dir,
			Time: e.Time.UTC(),
		}
		switch e.Type {
		case ftp.EntryTypeFile:
			fi.Type = remote.TypeFile
			fi.Size = int64(e.Size)
			full := remote.JoinPath(dir, e.Name)
			fi.Download = func(ctx context.Context) ([]byte, error) {
				return c.DownloadFile(ctx, full)
			}
		case ftp.EntryTypeFolder:
			fi.Type = remote.TypeDirectory
		default:
			fi.Type = remote.TypeOther
		}
		entries = append(entries, fi)
	}
	return entries, nil
}

func (c *Client) UploadFile(ctx context.Context, p string, data []byte) error {
	p = remote.NormalizePath(p)
	dir, _ := remote.SplitPath(p)
	if err := c.ensureDir(ctx, dir); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", p).Int("bytes", len(data)).Msg("uploading file")
	if err := c.conn.Stor(toFTPPath(p), bytes.NewReader(data)); err != nil {
		return errors.Errorf("storing %s: %w", p, err)
	}
	return nil
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	p = remote.NormalizePath(p)
	r, err := c.conn.Retrieve(toFTPPath(p))
	if err != nil {
		if isNotFound(err) {
			return nil, errdefs.NotFound("download", p, err)
		}
		return nil, errors.Errorf("retrieving %s: %w", p, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	if err := c.conn.Delete(toFTPPath(p)); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backend", BackendType).Str("path", p).Msg("deleting file")
		return false, nil
	}
	return true, nil
}

func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	ok := remote.RemoveFolderRecursive(ctx, c, p, func(ctx context.Context, dir string) error {
		if err := c.conn.RemoveDir(toFTPPath(dir)); err != nil {
			return err
		}
		for d := range c.existingDirs {
			if d == dir || strings.HasPrefix(d, dir+"/") {
				delete(c.existingDirs, d)
			}
		}
		return nil
	})
	return ok, nil
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	if err := c.conn.Quit(); err != nil {
		return errors.Errorf("closing ftp connection: %w", err)
	}
	return nil
}
