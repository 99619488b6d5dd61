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

package plugin

import (
	"context"
	"sync"
)

// 📊 Outcome is the result of one item
type Outcome struct {
	Target    string
	Operation Operation
	Item      string
	Bytes     int
	Err       error
}

// 📊 Summary collects the outcome of every item of one or more batches
type Summary struct {
	mu        sync.Mutex
	succeeded []Outcome
	failed    []Outcome
}

// Record adds an outcome and updates the item metrics
func (s *Summary) Record(o Outcome) {
	observe(o)
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Err != nil {
		s.failed = append(s.failed, o)
		return
	}
	s.succeeded = append(s.succeeded, o)
}

// Succeeded returns the successful items in completion order
func (s *Summary) Succeeded() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.succeeded...)
}

// Failed returns the failed items in completion order
func (s *Summary) Failed() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.failed...)
}

// HasFailures reports whether any item failed
func (s *Summary) HasFailures() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed) > 0
}

type summaryKey struct{}

// WithSummary returns a context whose batches record into s
func WithSummary(ctx context.Context, s *Summary) context.Context {
	return context.WithValue(ctx, summaryKey{}, s)
}

// SummaryFromContext returns the summary of ctx, if any
func SummaryFromContext(ctx context.Context) *Summary {
	s, _ := ctx.Value(summaryKey{}).(*Summary)
	return s
}

func record(ctx context.Context, o Outcome) {
	if s := SummaryFromContext(ctx); s != nil {
		s.Record(o)
		return
	}
	observe(o)
}
