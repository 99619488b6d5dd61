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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/walteh/deployrc/cmd/deployrc/opts"
	"github.com/walteh/deployrc/pkg/remote"
)

// NewListCmd lists one remote directory
func NewListCmd(o *opts.RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list <target> [dir]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 1 {
				dir = args[1]
			}

			entries, err := o.Operator.List(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				name := e.Name
				if e.Type == remote.TypeDirectory {
					name += "/"
				}
				modified := ""
				if !e.Time.IsZero() {
					modified = e.Time.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-10s %10d  %-20s  %s\n", e.Type, e.Size, modified, name)
			}
			return nil
		},
	}
}
