package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v60/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// fakeRepo serves the contents API for one repository from memory
type fakeRepo struct {
	mu       sync.Mutex
	files    map[string]string
	messages []string
	shas     []string
}

func (f *fakeRepo) entry(p string) map[string]any {
	return map[string]any{
		"type":     "file",
		"name":     path.Base(p),
		"path":     p,
		"sha":      "sha-" + p,
		"size":     len(f.files[p]),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(f.files[p])),
	}
}

func (f *fakeRepo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.Trim(strings.TrimPrefix(r.URL.Path, "/repos/acme/site/contents"), "/")
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		if _, ok := f.files[p]; ok {
			_ = json.NewEncoder(w).Encode(f.entry(p))
			return
		}
		children := map[string]map[string]any{}
		for name := range f.files {
			rest, ok := strings.CutPrefix(name, p+"/")
			if p == "" {
				rest, ok = name, true
			}
			if !ok {
				continue
			}
			head, _, isDir := strings.Cut(rest, "/")
			if isDir {
				children[head] = map[string]any{"type": "dir", "name": head, "path": path.Join(p, head)}
			} else {
				children[head] = f.entry(name)
			}
		}
		if len(children) == 0 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		keys := make([]string, 0, len(children))
		for k := range children {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, children[k])
		}
		_ = json.NewEncoder(w).Encode(out)

	case http.MethodPut, http.MethodDelete:
		var body struct {
			Message string `json:"message"`
			Content []byte `json:"content"`
			SHA     string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.messages = append(f.messages, body.Message)
		f.shas = append(f.shas, body.SHA)
		if r.Method == http.MethodPut {
			f.files[p] = string(body.Content)
		} else {
			delete(f.files, p)
		}
		_, _ = w.Write([]byte(`{}`))
	}
}

func newTestClient(t *testing.T, files map[string]string) (*Client, *fakeRepo) {
	t.Helper()
	repo := &fakeRepo{files: files}
	srv := httptest.NewServer(repo)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	cfg := Config{Repo: "acme/site", Ref: "main"}
	require.NoError(t, cfg.Validate())
	return NewFromClient(gh, cfg), repo
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		repo    string
		owner   string
		wantErr bool
	}{
		{repo: "acme/site", owner: "acme"},
		{repo: "github.com/acme/site", owner: "acme"},
		{repo: "site", wantErr: true},
		{repo: "acme/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			cfg := Config{Repo: tt.repo}
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, cfg.owner)
			assert.Equal(t, "site", cfg.name)
			assert.Equal(t, "deployrc: update {path}", cfg.Message)
		})
	}
}

func TestListDirectory(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{"index.html": "<html>", "css/a.css": "a{}"})
	ctx := context.Background()

	entries, err := c.ListDirectory(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "css", entries[0].Name)
	assert.Equal(t, remote.TypeDirectory, entries[0].Type)
	assert.Equal(t, "index.html", entries[1].Name)
	assert.Equal(t, remote.TypeFile, entries[1].Type)

	data, err := entries[1].Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(data))

	_, err = c.ListDirectory(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUploadCreatesAndUpdates(t *testing.T) {
	c, repo := newTestClient(t, map[string]string{"a.txt": "old"})
	ctx := context.Background()

	require.NoError(t, c.UploadFile(ctx, "/a.txt", []byte("new")))
	require.NoError(t, c.UploadFile(ctx, "docs/b.txt", []byte("b")))

	assert.Equal(t, "new", repo.files["a.txt"])
	assert.Equal(t, "b", repo.files["docs/b.txt"])
	assert.Equal(t, []string{"sha-a.txt", ""}, repo.shas, "updates carry the blob sha, creates do not")
	assert.Equal(t, "deployrc: update a.txt", repo.messages[0])
}

func TestDownloadMissing(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{"a.txt": "a"})

	_, err := c.DownloadFile(context.Background(), "b.txt")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteAndRemoveFolder(t *testing.T) {
	c, repo := newTestClient(t, map[string]string{"a.txt": "a", "old/b.txt": "b", "old/deep/c.txt": "c"})
	ctx := context.Background()

	ok, err := c.DeleteFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.DeleteFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing file reports false")

	ok, err = c.RemoveFolder(ctx, "old")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, repo.files)

	ok, err = c.RemoveFolder(ctx, "/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistered(t *testing.T) {
	_, ok := remote.Get(BackendType)
	assert.True(t, ok)
}
