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

// Package sftp implements the capability contract over SSH file transfer,
// including remote command hooks around each transfer.
package sftp

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/text"
)

const BackendType = "sftp"

func init() {
	remote.Register(BackendType, New)
}

// FileSystem is the subset of *sftp.Client used by this backend
type FileSystem interface {
	ReadDir(p string) ([]os.FileInfo, error)
	Stat(p string) (os.FileInfo, error)
	Mkdir(p string) error
	MkdirAll(p string) error
	Create(p string) (io.WriteCloser, error)
	Open(p string) (io.ReadCloser, error)
	Remove(p string) error
	RemoveDirectory(p string) error
	Chmod(p string, mode os.FileMode) error
	Close() error
}

// CommandRunner executes a shell command on the remote host
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

type sftpFS struct {
	*sftp.Client
}

func (s sftpFS) Create(p string) (io.WriteCloser, error) {
	return s.Client.Create(p)
}

func (s sftpFS) Open(p string) (io.ReadCloser, error) {
	return s.Client.Open(p)
}

type sshRunner struct {
	client *ssh.Client
}

func (r sshRunner) Run(ctx context.Context, command string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", errors.Errorf("opening session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil {
		return string(out), errors.Errorf("running %q: %w", command, err)
	}
	return string(out), nil
}

// conn bundles both halves of an SSH connection
type conn struct {
	fs     FileSystem
	runner CommandRunner
	closer io.Closer
}

// dial connects and authenticates; replaced in tests
var dial = func(ctx context.Context, cfg Config, user string, auth []ssh.AuthMethod) (*conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: cfg.hostKeyCallback(),
		Timeout:         time.Duration(cfg.ReadyTimeout) * time.Millisecond,
	}

	d := net.Dialer{Timeout: clientCfg.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Errorf("dialing %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		netConn.Close()
		return nil, errors.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Errorf("starting sftp subsystem: %w", err)
	}

	return &conn{
		fs:     sftpFS{sftpClient},
		runner: sshRunner{client: client},
		closer: client,
	}, nil
}

// Client is an SFTP session
type Client struct {
	cfg       Config
	fs        FileSystem
	runner    CommandRunner
	closer    io.Closer
	values    text.Values
	checkDirs map[string]bool
}

var _ remote.Client = (*Client)(nil)

// New resolves credentials, connects and runs the "connected" hooks
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

	auth, err := cfg.authMethods(values[1])
	if err != nil {
		return nil, errdefs.Connection("sftp auth", err)
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("host", cfg.Host).Int("port", cfg.Port).Str("user", values[0]).Msg("connecting")

	c, err := dial(ctx, cfg, values[0], auth)
	remote.SettleCredentials(opts.Credentials, err, reqs, values)
	if err != nil {
		return nil, errdefs.Connection("sftp connect", err)
	}

	client := NewFromConn(cfg, c.fs, c.runner, c.closer, opts.Values)
	if err := client.runHooks(ctx, cfg.Commands.Connected, "", ""); err != nil {
		client.Close()
		return nil, errdefs.Connection("sftp connected hook", err)
	}
	return client, nil
}

// NewFromConn wraps established SFTP and command channels. cfg must be
// validated.
func NewFromConn(cfg Config, fs FileSystem, runner CommandRunner, closer io.Closer, values map[string]string) *Client {
	return &Client{
		cfg:       cfg,
		fs:        fs,
		runner:    runner,
		closer:    closer,
		values:    text.Values{}.Merge(values),
		checkDirs: map[string]bool{},
	}
}

func toSFTPPath(p string) string {
	return remote.WithLeadingSlash(p)
}

// runHooks executes commands in order, exposing the current remote path as
// remote_dir, remote_file and remote_name. Output captured with
// writeOutputTo is visible to later hooks of the same connection.
func (c *Client) runHooks(ctx context.Context, commands []Command, dir, name string) error {
	if len(commands) == 0 {
		return nil
	}
	if c.runner == nil {
		return errors.Errorf("no command runner for hooks")
	}

	values := c.values.Merge(map[string]string{
		"remote_dir":  toSFTPPath(dir),
		"remote_file": toSFTPPath(remote.JoinPath(dir, name)),
		"remote_name": name,
	})
	for _, cmd := range commands {
		line := values.Expand(cmd.Command)
		if strings.TrimSpace(line) == "" {
			continue
		}
		zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("command", line).Msg("running hook")

		out, err := c.runner.Run(ctx, line)
		if err != nil {
			return errors.Errorf("hook %q: %w", line, err)
		}
		if key := strings.TrimSpace(cmd.WriteOutputTo); key != "" {
			c.values[key] = out
			values[key] = out
		}
	}
	return nil
}

// ensureDir creates dir if needed, remembering checked directories for the
// lifetime of the connection.
func (c *Client) ensureDir(ctx context.Context, dir string) error {
	dir = remote.NormalizePath(dir)
	if dir == "" || c.checkDirs[dir] {
		return nil
	}

	if c.cfg.SupportsDeepDirectoryCreation {
		if err := c.fs.MkdirAll(toSFTPPath(dir)); err != nil {
			return errors.Errorf("creating directory %s: %w", dir, err)
		}
		for _, d := range remote.DirChain(dir) {
			c.checkDirs[d] = true
		}
		return nil
	}

	for _, d := range remote.DirChain(dir) {
		if c.checkDirs[d] {
			continue
		}
		abs := toSFTPPath(d)
		info, err := c.fs.Stat(abs)
		switch {
		case err == nil && info.IsDir():
		case err == nil:
			return errors.Errorf("%s exists and is not a directory", abs)
		default:
			zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("dir", abs).Msg("creating directory")
			if err := c.fs.Mkdir(abs); err != nil {
				return errors.Errorf("creating directory %s: %w", abs, err)
			}
		}
		c.checkDirs[d] = true
	}
	return nil
}

// modeFor returns the permission configured for p, if any. Mode keys are
// sorted so the first matching pattern is deterministic.
func (c *Client) modeFor(p string) (os.FileMode, bool) {
	keys := make([]string, 0, len(c.cfg.Modes))
	for k := range c.cfg.Modes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, pattern := range c.cfg.Modes[k] {
			pattern = remote.NormalizePath(pattern)
			if ok, _ := doublestar.Match(pattern, p); ok {
				mode, err := strconv.ParseUint(k, 8, 32)
				if err != nil {
					continue
				}
				return os.FileMode(mode), true
			}
		}
	}
	return 0, false
}

func (c *Client) ListDirectory(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	dir = remote.NormalizePath(dir)
	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", dir).Msg("listing directory")

	infos, err := c.fs.ReadDir(toSFTPPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.NotFound("list", dir, err)
		}
		return nil, errors.Errorf("reading directory %s: %w", dir, err)
	}

	entries := make([]remote.FileInfo, 0, len(infos))
	for _, info := range infos {
		fi := remote.FileInfo{
			Name: info.Name(),
			Path: dir,
			Time: info.ModTime().UTC(),
		}
		switch {
		case info.IsDir():
			fi.Type = remote.TypeDirectory
		case info.Mode().IsRegular():
			fi.Type = remote.TypeFile
			fi.Size = info.Size()
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
	dir, name := remote.SplitPath(p)

	if err := c.runHooks(ctx, c.cfg.Commands.BeforeUpload, dir, name); err != nil {
		return err
	}
	if err := c.ensureDir(ctx, dir); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("backend", BackendType).Str("path", p).Int("bytes", len(data)).Msg("uploading file")
	w, err := c.fs.Create(toSFTPPath(p))
	if err != nil {
		return errors.Errorf("creating %s: %w", p, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Errorf("writing %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return errors.Errorf("closing %s: %w", p, err)
	}

	if mode, ok := c.modeFor(p); ok {
		if err := c.fs.Chmod(toSFTPPath(p), mode); err != nil {
			return errors.Errorf("changing mode of %s to %o: %w", p, mode, err)
		}
	}

	return c.runHooks(ctx, c.cfg.Commands.Uploaded, dir, name)
}

func (c *Client) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	p = remote.NormalizePath(p)
	dir, name := remote.SplitPath(p)

	if err := c.runHooks(ctx, c.cfg.Commands.BeforeDownload, dir, name); err != nil {
		return nil, err
	}

	r, err := c.fs.Open(toSFTPPath(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.NotFound("download", p, err)
		}
		return nil, errors.Errorf("opening %s: %w", p, err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", p, err)
	}

	if err := c.runHooks(ctx, c.cfg.Commands.Downloaded, dir, name); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) (bool, error) {
	p = remote.NormalizePath(p)
	dir, name := remote.SplitPath(p)

	if err := c.runHooks(ctx, c.cfg.Commands.BeforeDelete, dir, name); err != nil {
		return false, err
	}
	if err := c.fs.Remove(toSFTPPath(p)); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backend", BackendType).Str("path", p).Msg("deleting file")
		return false, nil
	}
	if err := c.runHooks(ctx, c.cfg.Commands.Deleted, dir, name); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Client) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	ok := remote.RemoveFolderRecursive(ctx, c, p, func(ctx context.Context, dir string) error {
		if err := c.fs.RemoveDirectory(toSFTPPath(dir)); err != nil {
			return err
		}
		for d := range c.checkDirs {
			if d == dir || strings.HasPrefix(d, dir+"/") {
				delete(c.checkDirs, d)
			}
		}
		return nil
	})
	return ok, nil
}

// Values returns the hook values, including captured command output
func (c *Client) Values() map[string]string {
	return c.values.Merge(nil)
}

func (c *Client) Type() string {
	return BackendType
}

func (c *Client) Close() error {
	var errs []error
	if err := c.fs.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.closer != nil {
		if err := c.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("closing sftp connection: %w", errors.Join(errs...))
	}
	return nil
}
