package walker

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/remote"
	"github.com/walteh/deployrc/pkg/remote/remotetest"
)

func setup(t *testing.T, files map[string]string) (context.Context, *plugin.Dispatcher, *remotetest.Memory, *config.Target) {
	t.Helper()
	ctx := zerolog.New(os.Stderr).Level(zerolog.Disabled).WithContext(context.Background())
	mem := remotetest.NewMemory(files)
	target := &config.Target{Name: "site", Type: "memory"}
	cfg := &config.Config{Targets: []*config.Target{target}}
	require.NoError(t, cfg.Validate())
	d := plugin.New(cfg, plugin.Options{
		Connector: plugin.ConnectorFunc(func(context.Context, *config.Target) (remote.Client, error) {
			return mem, nil
		}),
	})
	return ctx, d, mem, target
}

func readAll(t *testing.T, fs interface {
	ReadDir(string) ([]os.FileInfo, error)
}, dir string) []string {
	t.Helper()
	infos, err := fs.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, i := range infos {
		names = append(names, i.Name())
	}
	sort.Strings(names)
	return names
}

func TestPullAllFilesFromDir(t *testing.T) {
	tree := map[string]string{
		"index.html":      "<html>",
		"css/a.css":       "a{}",
		"css/img/x.png":   "png",
		"js/app/main.js":  "main()",
		"js/app/extra.js": "extra()",
	}

	tests := []struct {
		name      string
		recursive bool
		want      map[string]string
		missing   []string
	}{
		{
			name:      "recursive",
			recursive: true,
			want: map[string]string{
				"out/index.html":      "<html>",
				"out/css/a.css":       "a{}",
				"out/css/img/x.png":   "png",
				"out/js/app/main.js":  "main()",
				"out/js/app/extra.js": "extra()",
			},
		},
		{
			name:    "flat",
			want:    map[string]string{"out/index.html": "<html>"},
			missing: []string{"out/css"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, d, _, target := setup(t, tree)
			fs := memfs.New()
			summary := &plugin.Summary{}

			err := PullAllFilesFromDir(plugin.WithSummary(ctx, summary), d, Options{
				Target:    target,
				TargetDir: "out",
				FS:        fs,
				Recursive: tt.recursive,
			})
			require.NoError(t, err)

			for p, content := range tt.want {
				data, err := util.ReadFile(fs, p)
				require.NoError(t, err, "%s should exist", p)
				assert.Equal(t, content, string(data), "%s content should match", p)
			}
			for _, p := range tt.missing {
				_, err := fs.Stat(p)
				assert.Error(t, err, "%s should not exist", p)
			}
			assert.Len(t, summary.Succeeded(), len(tt.want), "summary should list every pulled file")
			assert.Empty(t, summary.Failed())
		})
	}
}

func TestPullLeavesNoTempFiles(t *testing.T) {
	ctx, d, _, target := setup(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	fs := memfs.New()

	require.NoError(t, PullAllFilesFromDir(ctx, d, Options{Target: target, TargetDir: "out", FS: fs}))
	assert.Equal(t, []string{"a.txt", "b.txt"}, readAll(t, fs, "out"), "only final files should remain")
}

func TestPullMaxDepth(t *testing.T) {
	ctx, d, mem, target := setup(t, map[string]string{
		"top.txt":       "0",
		"a/one.txt":     "1",
		"a/b/deep.txt":  "2",
		"a/b/c/too.txt": "3",
	})
	fs := memfs.New()

	err := PullAllFilesFromDir(ctx, d, Options{
		Target:    target,
		TargetDir: "out",
		FS:        fs,
		Recursive: true,
		MaxDepth:  2,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsRecursion(err), "exceeding max depth should be a recursion error")

	assert.Equal(t, []string{"list:", "list:a"}, mem.CallsWithPrefix("list"), "depth 2 should never be listed")
	assert.NotContains(t, mem.CallsWithPrefix("download"), "download:a/b/deep.txt", "no download at depth 3")
	_, err = fs.Stat("out/a/b")
	assert.Error(t, err, "depth 2 directory should not be created")
}

func TestPullDefaultMaxDepth(t *testing.T) {
	ctx, d, _, target := setup(t, map[string]string{"x": "x"})

	err := PullAllFilesFromDir(ctx, d, Options{Target: target, FS: memfs.New(), Depth: DefaultMaxDepth})
	assert.True(t, errdefs.IsRecursion(err), "default max depth should apply")
}

func TestPullListingFailureAbortsOnlyBranch(t *testing.T) {
	ctx, d, mem, target := setup(t, map[string]string{
		"bad/x.txt":  "x",
		"good/y.txt": "y",
	})
	mem.FailOn["list:bad"] = errors.New("permission denied")
	fs := memfs.New()
	summary := &plugin.Summary{}

	err := PullAllFilesFromDir(plugin.WithSummary(ctx, summary), d, Options{
		Target:    target,
		TargetDir: "out",
		FS:        fs,
		Recursive: true,
	})
	require.NoError(t, err, "branch failures should not fail the pull")

	data, err := util.ReadFile(fs, "out/good/y.txt")
	require.NoError(t, err)
	assert.Equal(t, "y", string(data), "sibling branch should be pulled")

	require.Len(t, summary.Failed(), 1)
	assert.Equal(t, "bad", summary.Failed()[0].Item)
	assert.Equal(t, plugin.OpList, summary.Failed()[0].Operation)
}

func TestPullCancellation(t *testing.T) {
	ctx, d, mem, target := setup(t, map[string]string{
		"a.txt":     "a",
		"b.txt":     "b",
		"sub/c.txt": "c",
	})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var completed []string
	err := PullAllFilesFromDir(ctx, d, Options{
		Target:    target,
		TargetDir: "out",
		FS:        memfs.New(),
		Recursive: true,
		OnCompleted: func(_ context.Context, rel string, err error) {
			completed = append(completed, rel)
			cancel()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, completed, "only the first file should run")
	assert.Equal(t, []string{"download:a.txt"}, mem.CallsWithPrefix("download"))
	assert.NotContains(t, mem.CallsWithPrefix("list"), "list:sub", "subdirectories should not be entered")
}

func TestPullRestoresTransformedFiles(t *testing.T) {
	ctx, d, _, target := setup(t, nil)
	target.Transform = "zstd"
	target.Password = "pw"

	err := d.Upload(ctx, &plugin.UploadContext{Target: target, Files: []*plugin.FileToUpload{{
		Name: "secret.txt",
		Path: "docs",
		Read: func(context.Context) ([]byte, error) { return []byte("plain text"), nil },
	}}})
	require.NoError(t, err)

	fs := memfs.New()
	require.NoError(t, PullAllFilesFromDir(ctx, d, Options{Target: target, TargetDir: "restore", FS: fs, Recursive: true}))

	data, err := util.ReadFile(fs, "restore/docs/secret.txt")
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(data))
}

func TestWriteFileAtomic(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, WriteFileAtomic(fs, "deep/dir/file.txt", []byte("one")))
	require.NoError(t, WriteFileAtomic(fs, "deep/dir/file.txt", []byte("two")))

	data, err := util.ReadFile(fs, "deep/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data), "second write should replace the file")
	assert.Equal(t, []string{"file.txt"}, readAll(t, fs, "deep/dir"))
}
