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
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/cmd/deployrc/opts"
	"github.com/walteh/deployrc/pkg/operation"
	"github.com/walteh/deployrc/pkg/plugin"
)

// NewDeleteCmd deletes remote files
func NewDeleteCmd(o *opts.RootOpts) *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "delete <path>...",
		Short: "Delete remote files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(targets) == 0 {
				return errors.New("at least one --from target is required")
			}

			ctx := cmd.Context()
			startBatch(ctx, o, plugin.OpDelete, targets, len(args))
			summary, err := o.Operator.Delete(ctx, operation.DeleteRequest{Targets: targets, Paths: args})
			return finish(ctx, cmd, summary, err)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "from", "f", nil, "targets to delete from")
	return cmd
}

// NewRmdirCmd removes remote folders with their contents
func NewRmdirCmd(o *opts.RootOpts) *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "rmdir <path>...",
		Short: "Remove remote folders recursively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(targets) == 0 {
				return errors.New("at least one --from target is required")
			}

			ctx := cmd.Context()
			startBatch(ctx, o, plugin.OpRemoveFolder, targets, len(args))
			summary, err := o.Operator.RemoveFolders(ctx, operation.RemoveFoldersRequest{Targets: targets, Paths: args})
			return finish(ctx, cmd, summary, err)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "from", "f", nil, "targets to remove from")
	return cmd
}
