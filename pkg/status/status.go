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

package status

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/walteh/deployrc/pkg/plugin"
)

// 📊 ItemStatus represents the current state of a batch item
type ItemStatus int

const (
	StatusPending ItemStatus = iota
	StatusRunning            // Before hook fired
	StatusDone               // Completed without error
	StatusFailed             // Completed with an error
)

// String returns a string representation of ItemStatus
func (s ItemStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// 📄 ItemInfo contains what is known about one item
type ItemInfo struct {
	Target      string
	Operation   plugin.Operation
	Item        string // Item path relative to the target dir
	Destination string // Label passed to the before hook
	Status      ItemStatus
	Err         error
}

// 📈 Reporter tracks items and reports progress
type Reporter interface {
	StartOperation(ctx context.Context, total int)
	UpdateProgress(ctx context.Context, processed int)
	FinishOperation(ctx context.Context)
	Hooks(target string, op plugin.Operation, item string) plugin.Hooks
}

var _ Reporter = (*Tracker)(nil)

type itemKey struct {
	target string
	op     plugin.Operation
	item   string
}

// 🔧 Tracker follows every item of a run through its lifecycle hooks
type Tracker struct {
	formatter Formatter

	// OnItem is called once an item completes
	OnItem func(ctx context.Context, info ItemInfo)

	mu    sync.RWMutex
	items map[itemKey]*ItemInfo
	order []itemKey

	total     int
	processed int
}

// 🏭 New creates a new tracker
func New() *Tracker {
	return &Tracker{
		formatter: NewDefaultFormatter(),
		items:     make(map[itemKey]*ItemInfo),
	}
}

// Hooks returns the lifecycle hooks for one item. Meta targets fire them
// once per concrete target, so an item counts once per destination.
func (t *Tracker) Hooks(target string, op plugin.Operation, item string) plugin.Hooks {
	key := itemKey{target: target, op: op, item: item}
	t.mu.Lock()
	if _, ok := t.items[key]; !ok {
		t.items[key] = &ItemInfo{Target: target, Operation: op, Item: item}
		t.order = append(t.order, key)
	}
	t.mu.Unlock()

	return plugin.Hooks{
		OnBefore: func(ctx context.Context, destination string) {
			t.mu.Lock()
			defer t.mu.Unlock()
			info := t.items[key]
			info.Status = StatusRunning
			info.Destination = destination
		},
		OnCompleted: func(ctx context.Context, err error) {
			t.mu.Lock()
			info := t.items[key]
			info.Err = err
			if err != nil {
				info.Status = StatusFailed
			} else {
				info.Status = StatusDone
			}
			snapshot := *info
			t.processed++
			processed := t.processed
			t.mu.Unlock()

			t.UpdateProgress(ctx, processed)
			if t.OnItem != nil {
				t.OnItem(ctx, snapshot)
			}
		},
	}
}

// Items returns the tracked items in the order they were registered
func (t *Tracker) Items() []ItemInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ItemInfo, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, *t.items[k])
	}
	return out
}

// Counts returns how many items completed with and without errors
func (t *Tracker) Counts() (done, failed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, info := range t.items {
		switch info.Status {
		case StatusDone:
			done++
		case StatusFailed:
			failed++
		}
	}
	return done, failed
}

// 📈 StartOperation resets progress for a run of total items
func (t *Tracker) StartOperation(ctx context.Context, total int) {
	t.mu.Lock()
	t.total = total
	t.processed = 0
	t.mu.Unlock()

	zerolog.Ctx(ctx).Debug().Int("total", total).Msg("starting operation")
}

// 📈 UpdateProgress logs the number of processed items
func (t *Tracker) UpdateProgress(ctx context.Context, processed int) {
	t.mu.Lock()
	t.processed = processed
	total := t.total
	t.mu.Unlock()

	zerolog.Ctx(ctx).Debug().Msg(t.formatter.FormatProgress(processed, total))
}

// 📈 FinishOperation logs the final counts
func (t *Tracker) FinishOperation(ctx context.Context) {
	done, failed := t.Counts()
	zerolog.Ctx(ctx).Debug().
		Int("done", done).
		Int("failed", failed).
		Msg("operation finished")
}
