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

package operation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/deployrc/pkg/config"
)

// 🏃 Runner works on several targets at once. A failing target does not
// stop the others.
type Runner struct {
	limit int
}

// 🏗️ NewRunner creates a runner with at most limit targets in flight
func NewRunner(limit int) *Runner {
	return &Runner{limit: limit}
}

// 🏃 Run calls fn for every target and joins the errors
func (r *Runner) Run(ctx context.Context, targets []*config.Target, fn func(ctx context.Context, t *config.Target) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}

	for _, t := range targets {
		g.Go(func() error {
			if err := fn(ctx, t); err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Str("target", t.Name).Msg("target failed")
				mu.Lock()
				errs = append(errs, errors.Errorf("target %q: %w", t.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}
