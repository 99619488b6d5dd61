package plugin

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/remote/remotetest"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return zerolog.New(os.Stderr).Level(zerolog.Disabled).WithContext(context.Background())
}

// memoryBackends hands out one Memory client per target name
type memoryBackends struct {
	mu       sync.Mutex
	clients  map[string]*remotetest.Memory
	seen     []*config.Target
	connects int
}

func newMemoryBackends(seed map[string]map[string]string) *memoryBackends {
	b := &memoryBackends{clients: map[string]*remotetest.Memory{}}
	for name, files := range seed {
		b.clients[name] = remotetest.NewMemory(files)
	}
	return b
}

func (b *memoryBackends) client(name string) *remotetest.Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[name]
	if !ok {
		c = remotetest.NewMemory(nil)
		b.clients[name] = c
	}
	return c
}

func (b *memoryBackends) Connect(ctx context.Context, target *config.Target) (remote.Client, error) {
	b.mu.Lock()
	b.connects++
	b.seen = append(b.seen, target)
	b.mu.Unlock()
	return b.client(target.Name), nil
}

// recorder collects hook invocations
type recorder struct {
	mu        sync.Mutex
	before    []string
	completed []string
	errs      []error
}

func (r *recorder) hooks(item string) Hooks {
	return Hooks{
		OnBefore: func(ctx context.Context, dest string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.before = append(r.before, dest)
		},
		OnCompleted: func(ctx context.Context, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, item)
			r.errs = append(r.errs, err)
		},
	}
}

func upload(name, dir, content string, r *recorder) *FileToUpload {
	return &FileToUpload{
		Name:  name,
		Path:  dir,
		Read:  func(context.Context) ([]byte, error) { return []byte(content), nil },
		Hooks: r.hooks(remote.JoinPath(dir, name)),
	}
}

func memoryTarget(name, dir string) *config.Target {
	return &config.Target{Name: name, Type: "memory", Dir: dir}
}

func TestHooksFireOnce(t *testing.T) {
	ctx := testContext(t)
	r := &recorder{}
	f := upload("a.txt", "", "a", r)

	f.Before(ctx, "/a.txt")
	f.Before(ctx, "/a.txt")
	f.Completed(ctx, nil)
	f.Completed(ctx, errors.New("late"))

	assert.Equal(t, []string{"/a.txt"}, r.before, "before should fire once")
	assert.Equal(t, []string{"a.txt"}, r.completed, "completed should fire once")
	assert.NoError(t, r.errs[0], "first completion should win")
}

func TestClientPluginUpload(t *testing.T) {
	ctx := testContext(t)
	backends := newMemoryBackends(nil)
	p := NewClientPlugin(backends)
	r := &recorder{}
	summary := &Summary{}

	op := &UploadContext{
		Target: memoryTarget("site", "www"),
		Files: []*FileToUpload{
			upload("index.html", "", "<html>", r),
			upload("b.css", "css", "body{}", r),
			{Name: "broken.txt", Hooks: r.hooks("broken.txt")},
		},
	}

	err := p.Upload(WithSummary(ctx, summary), op)
	require.NoError(t, err, "per item failures should not fail the batch")

	mem := backends.client("site")
	assert.Equal(t, []string{"www/css/b.css", "www/index.html"}, mem.Files(), "files should land below the target dir")
	assert.Equal(t, []string{"/index.html", "/css/b.css", "/broken.txt"}, r.before, "destinations should be relative with a leading slash")
	require.Len(t, r.errs, 3, "every item should complete")
	assert.NoError(t, r.errs[0])
	assert.NoError(t, r.errs[1])
	assert.Error(t, r.errs[2], "item without a source should fail")
	assert.True(t, mem.Closed(), "connection should be closed after the batch")
	assert.Equal(t, 1, backends.connects, "batch should open one connection")

	assert.Len(t, summary.Succeeded(), 2, "summary should list successes")
	require.Len(t, summary.Failed(), 1, "summary should list failures")
	assert.Equal(t, "broken.txt", summary.Failed()[0].Item, "failed item should be named")
	assert.Equal(t, 6, summary.Succeeded()[0].Bytes, "bytes should be recorded")
}

func TestClientPluginCancellation(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		cancelAt  int
		wantCalls int
	}{
		{name: "after_first", items: 4, cancelAt: 1, wantCalls: 1},
		{name: "after_third", items: 4, cancelAt: 3, wantCalls: 3},
		{name: "after_last", items: 2, cancelAt: 2, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(testContext(t))
			defer cancel()

			backends := newMemoryBackends(nil)
			p := NewClientPlugin(backends)

			var mu sync.Mutex
			started := map[int]int{}
			completed := map[int]int{}
			files := make([]*FileToUpload, tt.items)
			for i := range files {
				i := i
				files[i] = &FileToUpload{
					Name: "f" + string(rune('a'+i)),
					Read: func(context.Context) ([]byte, error) { return []byte("x"), nil },
					Hooks: Hooks{
						OnBefore: func(context.Context, string) {
							mu.Lock()
							defer mu.Unlock()
							started[i]++
						},
						OnCompleted: func(context.Context, error) {
							mu.Lock()
							completed[i]++
							mu.Unlock()
							if i+1 == tt.cancelAt {
								cancel()
							}
						},
					},
				}
			}

			err := p.Upload(ctx, &UploadContext{Target: memoryTarget("t", ""), Files: files})
			require.NoError(t, err, "cancellation should not be an error")

			assert.Len(t, backends.client("t").CallsWithPrefix("upload"), tt.wantCalls, "no item after cancellation should start")
			for i := 0; i < tt.items; i++ {
				if i < tt.cancelAt {
					assert.Equal(t, 1, started[i], "item %d should start once", i)
					assert.Equal(t, 1, completed[i], "item %d should complete once", i)
				} else {
					assert.Zero(t, started[i], "item %d should never start", i)
					assert.Zero(t, completed[i], "item %d should never complete", i)
				}
			}
		})
	}
}

func TestClientPluginCancelledBeforeConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	backends := newMemoryBackends(nil)
	err := NewClientPlugin(backends).Upload(ctx, &UploadContext{
		Target: memoryTarget("t", ""),
		Files:  []*FileToUpload{upload("a", "", "a", &recorder{})},
	})
	require.NoError(t, err)
	assert.Zero(t, backends.connects, "cancelled batch should not connect")
}

func TestClientPluginConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
		check   func(t *testing.T, err error)
	}{
		{
			name:    "plain_error_becomes_connection",
			err:     errors.New("dial tcp: refused"),
			wantErr: true,
			check: func(t *testing.T, err error) {
				assert.True(t, errdefs.IsConnection(err), "should be a connection error")
			},
		},
		{
			name:    "kinded_error_is_kept",
			err:     errdefs.Unsupported("connect", "nope"),
			wantErr: true,
			check: func(t *testing.T, err error) {
				assert.True(t, errdefs.IsUnsupported(err), "existing kind should be kept")
			},
		},
		{
			name: "dismissed_prompt_is_a_no_op",
			err:  errors.Errorf("resolving user: %w", remote.ErrPromptCancelled),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			r := &recorder{}
			connector := ConnectorFunc(func(context.Context, *config.Target) (remote.Client, error) {
				return nil, tt.err
			})

			err := NewClientPlugin(connector).Upload(ctx, &UploadContext{
				Target: memoryTarget("t", ""),
				Files:  []*FileToUpload{upload("a", "", "a", r)},
			})
			if tt.wantErr {
				require.Error(t, err)
				tt.check(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Empty(t, r.before, "no item should start without a connection")
		})
	}
}

func TestClientPluginTransformRoundTrip(t *testing.T) {
	ctx := testContext(t)
	backends := newMemoryBackends(nil)
	p := NewClientPlugin(backends)
	target := &config.Target{Name: "vault", Type: "memory", Transform: "gzip", Password: "hunter2"}

	err := p.Upload(ctx, &UploadContext{Target: target, Files: []*FileToUpload{upload("secret.txt", "", "top secret", &recorder{})}})
	require.NoError(t, err)

	stored, ok := backends.client("vault").Content("secret.txt")
	require.True(t, ok, "file should be stored")
	assert.NotContains(t, string(stored), "top secret", "payload should be encrypted")

	fs := memfs.New()
	var got error
	err = p.Download(ctx, &DownloadContext{
		Target: target,
		Files: []*FileToDownload{{
			Name: "secret.txt",
			Write: func(_ context.Context, data []byte) error {
				return util.WriteFile(fs, "secret.txt", data, 0o644)
			},
			Hooks: Hooks{OnCompleted: func(_ context.Context, err error) { got = err }},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, got, "download should succeed")

	data, err := util.ReadFile(fs, "secret.txt")
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(data), "payload should be restored")

	wrong := &config.Target{Name: "vault", Type: "memory", Transform: "gzip", Password: "wrong"}
	err = p.Download(ctx, &DownloadContext{
		Target: wrong,
		Files: []*FileToDownload{{
			Name:  "secret.txt",
			Hooks: Hooks{OnCompleted: func(_ context.Context, err error) { got = err }},
		}},
	})
	require.NoError(t, err, "transform failures stay at the item")
	assert.True(t, errdefs.IsTransform(got), "wrong password should be a transform error")
}

func TestClientPluginDeleteAndRemove(t *testing.T) {
	ctx := testContext(t)
	backends := newMemoryBackends(map[string]map[string]string{
		"t": {"www/A/f1": "1", "www/A/B/f2": "2", "www/keep": "k"},
	})
	p := NewClientPlugin(backends)
	target := memoryTarget("t", "www")

	r := &recorder{}
	err := p.Delete(ctx, &DeleteContext{Target: target, Files: []*FileToDelete{
		{Name: "keep", Hooks: r.hooks("keep")},
		{Name: "missing", Hooks: r.hooks("missing")},
	}})
	require.NoError(t, err)
	require.Len(t, r.errs, 2)
	assert.NoError(t, r.errs[0], "existing file should be deleted")
	assert.Error(t, r.errs[1], "missing file should be reported")

	r = &recorder{}
	err = p.RemoveFolders(ctx, &RemoveFoldersContext{Target: memoryTarget("t", ""), Folders: []*FolderToRemove{
		{Path: "www", Name: "A", Hooks: r.hooks("A")},
		{Path: "/", Hooks: r.hooks("root")},
	}})
	require.NoError(t, err)
	require.Len(t, r.errs, 2)
	assert.NoError(t, r.errs[0], "folder should be removed")
	assert.NoError(t, r.errs[1], "root should be skipped without an error")
	assert.Empty(t, backends.client("t").Files(), "tree should be empty")
	assert.Equal(t, []string{"delete:www/A/B/f2", "rmdir:www/A/B", "delete:www/A/f1", "rmdir:www/A"},
		filterCalls(backends.client("t").Calls(), "delete:www/A", "rmdir:"), "removal should be postorder")
}

func TestClientPluginRemoveRootIsSkipped(t *testing.T) {
	ctx := testContext(t)
	backends := newMemoryBackends(map[string]map[string]string{"t": {"a/f": "1"}})
	p := NewClientPlugin(backends)

	tests := []struct {
		name   string
		folder *FolderToRemove
	}{
		{name: "empty", folder: &FolderToRemove{}},
		{name: "slash", folder: &FolderToRemove{Path: "/"}},
		{name: "dot", folder: &FolderToRemove{Path: ".", Name: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			tt.folder.Hooks = r.hooks("root")
			err := p.RemoveFolders(ctx, &RemoveFoldersContext{Target: memoryTarget("t", ""), Folders: []*FolderToRemove{tt.folder}})
			require.NoError(t, err)
			require.Len(t, r.errs, 1, "completion should fire once")
			assert.NoError(t, r.errs[0])
			assert.Equal(t, []string{"a/f"}, backends.client("t").Files(), "tree should be untouched")
		})
	}
}

func filterCalls(calls []string, prefixes ...string) []string {
	var out []string
	for _, c := range calls {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func TestClientPluginList(t *testing.T) {
	ctx := testContext(t)
	backends := newMemoryBackends(map[string]map[string]string{
		"t": {"www/b.txt": "b", "www/a.txt": "a", "www/img/x.png": "x"},
	})

	entries, err := NewClientPlugin(backends).List(ctx, &ListContext{Target: memoryTarget("t", "www")})
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"img", "a.txt", "b.txt"}, names, "directories should sort before files")
}

// uploadOnly is a plugin with no optional capability
type uploadOnly struct {
	mock.Mock
}

func (u *uploadOnly) Upload(ctx context.Context, op *UploadContext) error {
	args := u.Called(ctx, op)
	return args.Error(0)
}

func TestCapabilities(t *testing.T) {
	client := NewClientPlugin(newMemoryBackends(nil))

	assert.Equal(t, AllOperations, Capabilities(client, "sftp"), "client plugin should do everything for sftp")
	assert.NotContains(t, Capabilities(client, "slack"), OpRemoveFolder, "slack cannot remove folders")
	assert.Empty(t, Capabilities(client, "each"), "client plugin should not serve meta targets")
	assert.Equal(t, []Operation{OpUpload}, Capabilities(&uploadOnly{}, "any"), "upload is the only default capability")

	d := NewDispatcher()
	d.SetFallback(client)
	slack := &config.Target{Name: "chat", Type: "slack"}
	assert.False(t, d.CanDo(slack, OpRemoveFolder))
	err := d.RemoveFolders(testContext(t), &RemoveFoldersContext{Target: slack})
	assert.True(t, errdefs.IsUnsupported(err), "missing capability should be unsupported")

	u := &uploadOnly{}
	u.On("Upload", mock.Anything, mock.Anything).Return(nil).Once()
	d.Register("bare", u)
	bare := &config.Target{Name: "b", Type: "bare"}
	require.NoError(t, d.Upload(testContext(t), &UploadContext{Target: bare}))
	err = d.Download(testContext(t), &DownloadContext{Target: bare})
	assert.True(t, errdefs.IsUnsupported(err), "download on an upload only plugin should be unsupported")
	u.AssertExpectations(t)
}

func TestCredentialCache(t *testing.T) {
	ctx := testContext(t)
	prompter := &MockPrompter{}
	prompter.On("Text", mock.Anything, "box password", true).Return("typed", true, nil).Twice()

	cache := NewCredentialStore(prompter).For("box")

	v, ok, err := cache.Resolve(ctx, remote.CredentialRequest{Key: "password", Secret: true, Ask: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "typed", v, "empty cache should prompt")

	cache.Commit("password", v)
	v, _, err = cache.Resolve(ctx, remote.CredentialRequest{Key: "password", Secret: true, Ask: true})
	require.NoError(t, err)
	assert.Equal(t, "typed", v, "cached value should be used without prompting")

	v, _, err = cache.Resolve(ctx, remote.CredentialRequest{Key: "password", Secret: true, AlwaysAsk: true})
	require.NoError(t, err)
	assert.Equal(t, "typed", v, "always ask should prompt again")

	cache.Forget("password")
	_, ok = cache.Get("password")
	assert.False(t, ok, "forget should clear the value")

	v, ok, err = cache.Resolve(ctx, remote.CredentialRequest{Key: "user"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v, "no prompt without ask")

	store := NewCredentialStore(nil)
	store.For("one").Set("user", "alice")
	assert.Same(t, store.For("one"), store.For("ONE"), "caches should be keyed by target name")
	_, ok = store.For("two").Get("user")
	assert.False(t, ok, "targets should not share credentials")
	prompter.AssertExpectations(t)
}
