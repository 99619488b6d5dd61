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

// Package transform applies payload transforms on the way to and from a
// target: a named transform chain plus optional password encryption.
package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
)

// Mode selects the direction of a transform
type Mode int

const (
	// ModeRestore undoes a transform, used on download
	ModeRestore Mode = iota
	// ModeTransform applies a transform, used on upload
	ModeTransform
)

func (m Mode) String() string {
	if m == ModeTransform {
		return "transform"
	}
	return "restore"
}

// Context is passed by value into every transform invocation
type Context struct {
	Mode    Mode
	Options map[string]any
	Target  string
}

// Func transforms a payload. Implementations must handle both modes.
type Func func(ctx context.Context, data []byte, tctx Context) ([]byte, error)

// Identity returns data unchanged
func Identity(_ context.Context, data []byte, _ Context) ([]byte, error) {
	return data, nil
}

// Safe wraps fn so a missing fn is the identity, a nil result becomes an
// empty buffer and failures are transform errors.
func Safe(fn Func) Func {
	if fn == nil {
		fn = Identity
	}
	return func(ctx context.Context, data []byte, tctx Context) ([]byte, error) {
		out, err := fn(ctx, data, tctx)
		if err != nil {
			if errdefs.IsTransform(err) {
				return nil, err
			}
			return nil, errdefs.Transform(tctx.Mode.String(), err)
		}
		if out == nil {
			out = []byte{}
		}
		return out, nil
	}
}

// Chain composes fns: in transform mode they run in order, in restore mode
// in reverse order so that restore(transform(p)) == p.
func Chain(fns ...Func) Func {
	if len(fns) == 0 {
		return Identity
	}
	return func(ctx context.Context, data []byte, tctx Context) ([]byte, error) {
		var err error
		for i := range fns {
			fn := fns[i]
			if tctx.Mode == ModeRestore {
				fn = fns[len(fns)-1-i]
			}
			if data, err = Safe(fn)(ctx, data, tctx); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Func{}
)

// Register adds a named transform
func Register(name string, fn Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = fn
}

// Get returns a named transform
func Get(name string) (Func, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// Names returns the registered transform names, sorted
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse resolves a comma separated list of transform names into a chain.
// An empty chain is the identity.
func Parse(chain string) (Func, error) {
	var fns []Func
	for _, name := range strings.Split(chain, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fn, ok := Get(name)
		if !ok {
			return nil, errors.Errorf("unknown transform %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		fns = append(fns, fn)
	}
	return Chain(fns...), nil
}

func init() {
	Register("identity", Identity)
	Register("base64", Base64)
	Register("gzip", Gzip)
	Register("zstd", Zstd)
}

// Base64 encodes on transform and decodes on restore
func Base64(_ context.Context, data []byte, tctx Context) ([]byte, error) {
	if tctx.Mode == ModeTransform {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(out, data)
		return out, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(data))
	if err != nil {
		return nil, errors.Errorf("decoding base64: %w", err)
	}
	return out[:n], nil
}

// Gzip compresses on transform. The "level" option sets the compression
// level.
func Gzip(_ context.Context, data []byte, tctx Context) ([]byte, error) {
	if tctx.Mode == ModeRestore {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Errorf("opening gzip stream: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Errorf("decompressing gzip: %w", err)
		}
		return out, nil
	}

	level := gzip.DefaultCompression
	if v, ok := intOption(tctx.Options, "level"); ok {
		level = v
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.Errorf("creating gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Errorf("compressing gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Zstd compresses on transform and decompresses on restore
func Zstd(_ context.Context, data []byte, tctx Context) ([]byte, error) {
	if tctx.Mode == ModeRestore {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.Errorf("decompressing zstd: %w", err)
		}
		return out, nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func intOption(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
