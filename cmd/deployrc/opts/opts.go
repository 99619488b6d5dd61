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

package opts

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/config"
	"github.com/walteh/deployrc/pkg/fetch"
	"github.com/walteh/deployrc/pkg/log"
	"github.com/walteh/deployrc/pkg/operation"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/status"
)

// RootOpts carries the persistent flags and everything built from them
type RootOpts struct {
	// Flags
	ConfigFile  string
	Debug       bool
	MetricsAddr string
	Selections  []string // name=option pairs for switch targets
	Values      []string // key=value placeholder overrides
	NoPrompt    bool
	Parallel    int

	// Built by Init
	Config     *config.Config
	Dispatcher *plugin.Dispatcher
	Operator   *operation.Operator
	Tracker    *status.Tracker
	Logger     *log.Logger
}

// Init loads the config and wires the dispatcher and operator. The returned
// context carries the console logger. The operator works on absolute local
// paths, see LocalPath.
func (o *RootOpts) Init(ctx context.Context, prompter plugin.Prompter, console io.Writer) (context.Context, error) {
	level := zerolog.InfoLevel
	if o.Debug {
		level = zerolog.DebugLevel
	}
	o.Logger = log.New(console, level)
	ctx = log.NewContext(ctx, o.Logger)

	path := o.ConfigFile
	if path == "" {
		found, err := config.Locate(".")
		if err != nil {
			return ctx, errors.Errorf("locating config: %w", err)
		}
		path = found
	}

	cfg, err := config.Load(ctx, path)
	if err != nil {
		return ctx, errors.Errorf("loading config: %w", err)
	}
	o.Config = cfg

	selections, err := ParsePairs(o.Selections)
	if err != nil {
		return ctx, errors.Errorf("parsing switch selections: %w", err)
	}
	values, err := ParsePairs(o.Values)
	if err != nil {
		return ctx, errors.Errorf("parsing values: %w", err)
	}

	if o.NoPrompt {
		prompter = nil
	}

	o.Dispatcher = plugin.New(cfg, plugin.Options{
		Values:     values,
		Prompter:   prompter,
		Fetcher:    fetch.New(filepath.Dir(path), "."),
		Selections: selections,
	})

	o.Tracker = status.New()
	o.Tracker.OnItem = func(ctx context.Context, info status.ItemInfo) {
		dest := info.Destination
		if dest == "" {
			dest = "/" + info.Item
		}
		o.Logger.LogTransfer(ctx, log.Transfer{
			Destination: "[" + info.Target + "] " + dest,
			Operation:   info.Operation.String(),
			Err:         info.Err,
		})
	}

	o.Operator, err = operation.New(operation.Options{
		Config:     cfg,
		Dispatcher: o.Dispatcher,
		FS:         osfs.New("/"),
		Tracker:    o.Tracker,
		Parallel:   o.Parallel,
	})
	if err != nil {
		return ctx, errors.Errorf("creating operator: %w", err)
	}
	return ctx, nil
}

// ParsePairs parses key=value strings
func ParsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("expected key=value, got %q", p)
		}
		out[key] = value
	}
	return out, nil
}

// LocalPath makes a local path argument absolute
func LocalPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Errorf("resolving %s: %w", p, err)
	}
	return abs, nil
}
