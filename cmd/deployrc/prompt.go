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

package main

import (
	"context"
	"slices"
	"sync"

	"github.com/pterm/pterm"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/plugin"
)

// 💬 terminalPrompter asks for credentials and list entries on the terminal,
// one prompt at a time
type terminalPrompter struct {
	mu sync.Mutex
}

var _ plugin.Prompter = (*terminalPrompter)(nil)

func (p *terminalPrompter) Text(ctx context.Context, label string, secret bool) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return "", false, nil
	}

	printer := &pterm.DefaultInteractiveTextInput
	if secret {
		printer = printer.WithMask("*")
	}
	value, err := printer.Show(label)
	if err != nil {
		return "", false, errors.Errorf("prompting for %s: %w", label, err)
	}
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func (p *terminalPrompter) Select(ctx context.Context, label string, options []string) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil || len(options) == 0 {
		return 0, false, nil
	}

	choice, err := pterm.DefaultInteractiveSelect.WithOptions(options).Show(label)
	if err != nil {
		return 0, false, errors.Errorf("prompting for %s: %w", label, err)
	}
	idx := slices.Index(options, choice)
	if idx < 0 {
		return 0, false, nil
	}
	return idx, true, nil
}
