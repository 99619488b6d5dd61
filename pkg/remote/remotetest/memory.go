// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// Memory is a flat key space client that records every call it receives.
type Memory struct {
	mu     sync.Mutex
	files  map[string][]byte
	dirs   map[string]bool
	calls  []string
	closed bool

	// FailOn makes calls whose "op:path" string is a key fail with the value.
	FailOn map[string]error
	// Now is used as the modification time of uploaded files.
	Now time.Time
}

var _ remote.Client = (*Memory)(nil)

// NewMemory creates a client seeded with files (path → content).
func NewMemory(files map[string]string) *Memory {
	m := &Memory{
		files:  map[string][]byte{},
		dirs:   map[string]bool{},
		FailOn: map[string]error{},
		Now:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for p, content := range files {
		m.put(remote.NormalizePath(p), []byte(content))
	}
	return m
}

func (m *Memory) put(p string, data []byte) {
	m.files[p] = data
	for _, d := range remote.ParentDirs(p) {
		m.dirs[d] = true
	}
}

func (m *Memory) record(op, p string) error {
	m.calls = append(m.calls, op+":"+p)
	if err, ok := m.FailOn[op+":"+p]; ok {
		return err
	}
	return nil
}

// Calls returns the recorded "op:path" strings in call order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallsWithPrefix returns the recorded calls for one operation.
func (m *Memory) CallsWithPrefix(op string) []string {
	var out []string
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, op+":") {
			out = append(out, c)
		}
	}
	return out
}

// Files returns a sorted copy of all stored paths.
func (m *Memory) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Content returns the stored content of p.
func (m *Memory) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[remote.NormalizePath(p)]
	return data, ok
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) ListDirectory(ctx context.Context, p string) ([]remote.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.record("list", p); err != nil {
		return nil, err
	}
	if p != "" && !m.dirs[p] {
		return nil, errdefs.NotFound("list", p, nil)
	}

	objects := make([]remote.Object, 0, len(m.files))
	for key, data := range m.files {
		objects = append(objects, remote.Object{Key: key, Size: int64(len(data)), Time: m.Now})
	}
	for d := range m.dirs {
		objects = append(objects, remote.Object{Key: d + "/"})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	entries := remote.SynthesizeListing(p, objects, func(key string) func(ctx context.Context) ([]byte, error) {
		return func(ctx context.Context) ([]byte, error) {
			return m.DownloadFile(ctx, key)
		}
	})
	remote.SortEntries(entries)
	return entries, nil
}

func (m *Memory) UploadFile(ctx context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.record("upload", p); err != nil {
		return err
	}
	m.put(p, append([]byte(nil), data...))
	return nil
}

func (m *Memory) DownloadFile(ctx context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.record("download", p); err != nil {
		return nil, err
	}
	data, ok := m.files[p]
	if !ok {
		return nil, errdefs.NotFound("download", p, nil)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) DeleteFile(ctx context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.record("delete", p); err != nil {
		return false, nil
	}
	if _, ok := m.files[p]; !ok {
		return false, nil
	}
	delete(m.files, p)
	return true, nil
}

func (m *Memory) RemoveFolder(ctx context.Context, p string) (bool, error) {
	if remote.IsRoot(p) {
		return false, nil
	}
	return remote.RemoveFolderRecursive(ctx, m, p, m.removeDir), nil
}

func (m *Memory) removeDir(ctx context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("rmdir", dir); err != nil {
		return err
	}
	for key := range m.files {
		if strings.HasPrefix(key, dir+"/") {
			return errors.Errorf("directory %s is not empty", dir)
		}
	}
	for d := range m.dirs {
		if d == dir || strings.HasPrefix(d, dir+"/") {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *Memory) Type() string {
	return "memory"
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
