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

// NewUploadCmd uploads a local directory to one or more targets
func NewUploadCmd(o *opts.RootOpts) *cobra.Command {
	var req operation.UploadRequest

	cmd := &cobra.Command{
		Use:   "upload <local-dir>",
		Short: "Upload a local directory to targets",
		Long: `Upload copies every file below <local-dir> to each target.
Targets are worked on in parallel, files of one target in order.
Meta targets (each, map, switch, list) fan out to the targets they name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(req.Targets) == 0 {
				return errors.New("at least one --to target is required")
			}
			local, err := opts.LocalPath(args[0])
			if err != nil {
				return err
			}
			req.LocalDir = local

			ctx := cmd.Context()
			startBatch(ctx, o, plugin.OpUpload, req.Targets, 0)
			summary, err := o.Operator.Upload(ctx, req)
			return finish(ctx, cmd, summary, err)
		},
	}

	cmd.Flags().StringSliceVarP(&req.Targets, "to", "t", nil, "targets to upload to")
	cmd.Flags().StringVar(&req.RemoteDir, "dir", "", "remote directory relative to each target dir")
	cmd.Flags().StringSliceVar(&req.Include, "include", nil, "only upload files matching these patterns")
	cmd.Flags().StringSliceVar(&req.Exclude, "exclude", nil, "skip files matching these patterns")

	return cmd
}
