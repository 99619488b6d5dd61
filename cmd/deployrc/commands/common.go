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

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/cmd/deployrc/opts"
	"github.com/walteh/deployrc/pkg/log"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/status"
)

// startBatch prints the batch header for a run against targets
func startBatch(ctx context.Context, o *opts.RootOpts, op plugin.Operation, targets []string, items int) {
	types := make([]string, 0, len(targets))
	for _, name := range targets {
		if t, ok := o.Config.Find(name); ok {
			types = append(types, t.Type)
		}
	}
	log.FromContext(ctx).StartBatch(ctx, log.Batch{
		Target:    strings.Join(targets, ", "),
		Type:      strings.Join(types, ", "),
		Operation: op.String(),
		Items:     items,
	})
}

// finish prints the summary of a run and turns item failures into an error
func finish(ctx context.Context, cmd *cobra.Command, summary *plugin.Summary, runErr error) error {
	logger := log.FromContext(ctx)
	ok, failed := logger.EndBatch(ctx)

	if summary != nil && (ok > 0 || failed > 0 || summary.HasFailures()) {
		table, err := status.RenderSummary(summary)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), table)
	}

	if runErr != nil {
		return runErr
	}
	if summary != nil && summary.HasFailures() {
		return errors.Errorf("%d items failed", len(summary.Failed()))
	}
	logger.Successf("%d items done", ok)
	return nil
}
