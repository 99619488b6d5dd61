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

	"github.com/walteh/deployrc/cmd/deployrc/opts"
	"github.com/walteh/deployrc/pkg/operation"
	"github.com/walteh/deployrc/pkg/plugin"
	"github.com/walteh/deployrc/pkg/walker"
)

// NewPullCmd downloads a remote directory
func NewPullCmd(o *opts.RootOpts) *cobra.Command {
	req := operation.PullRequest{MaxDepth: walker.DefaultMaxDepth}

	cmd := &cobra.Command{
		Use:   "pull <target> <remote-dir> [local-dir]",
		Short: "Download a remote directory",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Target = args[0]
			req.RemoteDir = args[1]
			local := "."
			if len(args) > 2 {
				local = args[2]
			}
			local, err := opts.LocalPath(local)
			if err != nil {
				return err
			}
			req.LocalDir = local

			ctx := cmd.Context()
			startBatch(ctx, o, plugin.OpDownload, []string{req.Target}, 0)
			summary, err := o.Operator.Pull(ctx, req)
			return finish(ctx, cmd, summary, err)
		},
	}

	cmd.Flags().BoolVarP(&req.Recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().IntVar(&req.MaxDepth, "max-depth", walker.DefaultMaxDepth, "maximum directory depth")

	return cmd
}
