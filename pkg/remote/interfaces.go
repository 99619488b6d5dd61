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

package remote

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/tozd/go/errors"
)

// 🗂️ FileType tells files, directories and everything else apart
type FileType int

const (
	TypeOther FileType = iota
	TypeFile
	TypeDirectory
)

// String returns a string representation of FileType
func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return "other"
	}
}

// 📄 FileInfo describes one remote entry returned by a listing
type FileInfo struct {
	Name string    // Entry name without directory
	Path string    // Normalized parent directory
	Type FileType  // File, directory or other
	Size int64     // Size in bytes, when known
	Time time.Time // Modification time, when known

	// Download fetches the entry content. Nil for directories and for
	// entries the backend cannot download directly.
	Download func(ctx context.Context) ([]byte, error) `json:"-"`
}

// 🔌 Client is the capability contract every remote backend implements.
// A Client is connection scoped: it is created when a batch begins and
// closed when the batch ends.
type Client interface {
	// 📂 ListDirectory lists the direct children of path
	ListDirectory(ctx context.Context, path string) ([]FileInfo, error)

	// 📤 UploadFile writes data to path, creating parent directories as needed
	UploadFile(ctx context.Context, path string, data []byte) error

	// 📥 DownloadFile reads the content at path
	DownloadFile(ctx context.Context, path string) ([]byte, error)

	// 🗑️ DeleteFile removes a single file and reports whether it succeeded
	DeleteFile(ctx context.Context, path string) (bool, error)

	// 🧹 RemoveFolder removes a folder with everything below it. Root is
	// always refused with false.
	RemoveFolder(ctx context.Context, path string) (bool, error)

	// 🏷️ Type returns the backend identifier (e.g. "sftp")
	Type() string

	// Close releases the connection
	Close() error
}

// 🔧 Options are passed to every backend factory
type Options struct {
	Credentials CredentialResolver
	Values      map[string]string
}

// 🏭 Factory creates a connected client from backend specific settings
type Factory func(ctx context.Context, settings json.RawMessage, opts Options) (Client, error)

var (
	registryMu sync.RWMutex
	// 🗺️ factories maps backend types to their factories
	factories = map[string]Factory{}
)

// 📝 Register registers a backend factory
func Register(backendType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[strings.ToLower(backendType)] = factory
}

// 🎯 Get returns the factory for a backend type
func Get(backendType string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[strings.ToLower(strings.TrimSpace(backendType))]
	return f, ok
}

// 📋 Types lists registered backend types in order
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// 🏗️ New connects a client of the given backend type
func New(ctx context.Context, backendType string, settings json.RawMessage, opts Options) (Client, error) {
	factory, ok := Get(backendType)
	if !ok {
		return nil, errors.Errorf("backend %q not found, options: %s", backendType, strings.Join(Types(), ", "))
	}
	if len(settings) == 0 {
		settings = json.RawMessage("{}")
	}
	client, err := factory(ctx, settings, opts)
	if err != nil {
		return nil, errors.Errorf("creating %s client: %w", backendType, err)
	}
	return client, nil
}

// DecodeSettings unmarshals backend settings into v
func DecodeSettings(settings json.RawMessage, v any) error {
	if len(settings) == 0 {
		return nil
	}
	if err := json.Unmarshal(settings, v); err != nil {
		return errors.Errorf("parsing settings: %w", err)
	}
	return nil
}
