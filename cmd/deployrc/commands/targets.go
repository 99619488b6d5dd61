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
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/cmd/deployrc/opts"
	"github.com/walteh/deployrc/pkg/plugin"
)

// NewTargetsCmd lists the configured targets and what they can do
func NewTargetsCmd(o *opts.RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List configured targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := pterm.TableData{{"Name", "Type", "Operations", "Description"}}
			for _, t := range o.Config.Targets {
				var ops []string
				for _, op := range plugin.AllOperations {
					if o.Dispatcher.CanDo(t, op) {
						ops = append(ops, op.String())
					}
				}
				data = append(data, []string{t.Name, t.Type, strings.Join(ops, ","), t.Description})
			}

			out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return errors.Errorf("rendering targets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
