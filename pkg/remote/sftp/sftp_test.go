package sftp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

type fakeInfo struct {
	name string
	size int64
	mode os.FileMode
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
func (f fakeInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeInfo) Sys() any           { return nil }

type buffer struct {
	bytes.Buffer
	closed bool
}

func (b *buffer) Close() error {
	b.closed = true
	return nil
}

// 🔧 MockFS is a mock implementation of FileSystem
type MockFS struct {
	mock.Mock
	written map[string]*buffer
}

func newMockFS() *MockFS {
	return &MockFS{written: map[string]*buffer{}}
}

func (m *MockFS) ReadDir(p string) ([]os.FileInfo, error) {
	args := m.Called(p)
	infos, _ := args.Get(0).([]os.FileInfo)
	return infos, args.Error(1)
}

func (m *MockFS) Stat(p string) (os.FileInfo, error) {
	args := m.Called(p)
	info, _ := args.Get(0).(os.FileInfo)
	return info, args.Error(1)
}

func (m *MockFS) Create(p string) (io.WriteCloser, error) {
	args := m.Called(p)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	b := &buffer{}
	m.written[p] = b
	return b, nil
}

func (m *MockFS) Open(p string) (io.ReadCloser, error) {
	args := m.Called(p)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockFS) Mkdir(p string) error                   { return m.Called(p).Error(0) }
func (m *MockFS) MkdirAll(p string) error                { return m.Called(p).Error(0) }
func (m *MockFS) Remove(p string) error                  { return m.Called(p).Error(0) }
func (m *MockFS) RemoveDirectory(p string) error         { return m.Called(p).Error(0) }
func (m *MockFS) Chmod(p string, mode os.FileMode) error { return m.Called(p, mode).Error(0) }
func (m *MockFS) Close() error                           { return nil }

// 🔧 MockRunner is a mock implementation of CommandRunner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, command string) (string, error) {
	args := m.Called(command)
	return args.String(0), args.Error(1)
}

func newClient(t *testing.T, cfg Config, fs FileSystem, runner CommandRunner) *Client {
	t.Helper()
	require.NoError(t, cfg.Validate())
	return NewFromConn(cfg, fs, runner, nil, map[string]string{"app": "site"})
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("creates_missing_parents_once", func(t *testing.T) {
		fs := newMockFS()
		fs.On("Stat", "/var").Return(fakeInfo{name: "var", mode: os.ModeDir}, nil).Once()
		fs.On("Stat", "/var/www").Return(nil, os.ErrNotExist).Once()
		fs.On("Mkdir", "/var/www").Return(nil).Once()
		fs.On("Create", "/var/www/a.txt").Return(nil)
		fs.On("Create", "/var/www/b.txt").Return(nil)

		c := newClient(t, Config{}, fs, nil)
		require.NoError(t, c.UploadFile(ctx, "var/www/a.txt", []byte("a")))
		require.NoError(t, c.UploadFile(ctx, "/var/www/b.txt", []byte("b")))

		fs.AssertExpectations(t)
		assert.Equal(t, "a", fs.written["/var/www/a.txt"].String())
		assert.True(t, fs.written["/var/www/b.txt"].closed, "writer should be closed")
	})

	t.Run("deep_directory_creation", func(t *testing.T) {
		fs := newMockFS()
		fs.On("MkdirAll", "/a/b/c").Return(nil).Once()
		fs.On("Create", "/a/b/c/f").Return(nil)

		c := newClient(t, Config{SupportsDeepDirectoryCreation: true}, fs, nil)
		require.NoError(t, c.UploadFile(ctx, "a/b/c/f", []byte("x")))
		require.NoError(t, c.UploadFile(ctx, "a/b/c/f", []byte("y")))
		fs.AssertExpectations(t)
		fs.AssertNotCalled(t, "Stat", mock.Anything)
	})

	t.Run("applies_mode_by_glob", func(t *testing.T) {
		fs := newMockFS()
		fs.On("Create", "/run.sh").Return(nil)
		fs.On("Chmod", "/run.sh", os.FileMode(0o755)).Return(nil)
		fs.On("Create", "/readme.md").Return(nil)

		c := newClient(t, Config{Modes: map[string][]string{"755": {"**/*.sh"}}}, fs, nil)
		require.NoError(t, c.UploadFile(ctx, "run.sh", []byte("#!/bin/sh")))
		require.NoError(t, c.UploadFile(ctx, "readme.md", []byte("# hi")))
		fs.AssertExpectations(t)
		fs.AssertNumberOfCalls(t, "Chmod", 1)
	})

	t.Run("hooks_capture_output", func(t *testing.T) {
		fs := newMockFS()
		fs.On("Stat", "/srv").Return(fakeInfo{name: "srv", mode: os.ModeDir}, nil)
		fs.On("Create", "/srv/app.bin").Return(nil)

		runner := &MockRunner{}
		runner.On("Run", "cat /srv/version").Return("v1\n", nil).Once()
		runner.On("Run", "echo site /srv/app.bin app.bin v1\n").Return("", nil).Once()

		cfg := Config{Commands: Commands{
			BeforeUpload: []Command{{Command: "cat ${remote_dir}/version", WriteOutputTo: "version"}},
			Uploaded:     []Command{{Command: "echo ${app} ${remote_file} ${remote_name} ${version}"}},
		}}
		c := newClient(t, cfg, fs, runner)
		require.NoError(t, c.UploadFile(ctx, "srv/app.bin", []byte("bin")))
		runner.AssertExpectations(t)
		assert.Equal(t, "v1\n", c.Values()["version"], "captured output stays available")
	})
}

func TestDownloadAndList(t *testing.T) {
	ctx := context.Background()
	fs := newMockFS()
	fs.On("ReadDir", "/logs").Return([]os.FileInfo{
		fakeInfo{name: "old", mode: os.ModeDir},
		fakeInfo{name: "today.log", size: 5},
		fakeInfo{name: "latest", mode: os.ModeSymlink},
	}, nil)
	fs.On("Open", "/logs/today.log").Return(io.NopCloser(strings.NewReader("hello")), nil)
	fs.On("Open", "/logs/gone.log").Return(nil, os.ErrNotExist)
	fs.On("ReadDir", "/nope").Return(nil, os.ErrNotExist)

	c := newClient(t, Config{}, fs, nil)
	entries, err := c.ListDirectory(ctx, "/logs/")
	require.NoError(t, err)
	listing := remote.NewListing("logs", entries)
	require.Len(t, listing.Dirs, 1)
	require.Len(t, listing.Files, 1)
	require.Len(t, listing.Others, 1)
	assert.Equal(t, int64(5), listing.Files[0].Size)

	data, err := listing.Files[0].Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.DownloadFile(ctx, "logs/gone.log")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = c.ListDirectory(ctx, "nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRemoveFolder(t *testing.T) {
	ctx := context.Background()

	fs := newMockFS()
	c := newClient(t, Config{}, fs, nil)
	for _, root := range []string{"", "/", "."} {
		ok, err := c.RemoveFolder(ctx, root)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	fs.AssertNotCalled(t, "ReadDir", mock.Anything)

	var order []string
	record := func(args mock.Arguments) { order = append(order, args.String(0)) }
	fs.On("ReadDir", "/A").Return([]os.FileInfo{fakeInfo{name: "B", mode: os.ModeDir}, fakeInfo{name: "f1"}}, nil)
	fs.On("ReadDir", "/A/B").Return([]os.FileInfo{fakeInfo{name: "f2"}}, nil)
	fs.On("Remove", mock.Anything).Run(record).Return(nil)
	fs.On("RemoveDirectory", mock.Anything).Run(record).Return(nil)

	ok, err := c.RemoveFolder(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"/A/B/f2", "/A/B", "/A/f1", "/A"}, order)
}

func TestHostKeyCallback(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	md5 := ssh.FingerprintLegacyMD5(key)
	sha := ssh.FingerprintSHA256(key)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "no_hashes_accepts_any", cfg: Config{}},
		{name: "md5_with_colons_upper", cfg: Config{Hashes: []string{strings.ToUpper(md5)}}},
		{name: "md5_mismatch", cfg: Config{Hashes: []string{"00112233445566778899aabbccddeeff"}}, wantErr: true},
		{name: "sha256", cfg: Config{HashAlgorithm: "sha256", Hashes: []string{sha}}},
		{name: "sha256_mismatch", cfg: Config{HashAlgorithm: "sha256", Hashes: []string{"SHA256:nope"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.cfg.Validate())
			err := tt.cfg.hostKeyCallback()("example.com", nil, key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 20000, cfg.ReadyTimeout)
	assert.Equal(t, "md5", cfg.HashAlgorithm)

	bad := Config{HashAlgorithm: "sha1"}
	assert.Error(t, bad.Validate())
}
