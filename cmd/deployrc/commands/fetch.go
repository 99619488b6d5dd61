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

	"github.com/walteh/deployrc/pkg/fetch"
)

// NewFetchCmd prints the document at a URL. Backend URLs such as
// sftp://host/path or s3://bucket/key are read through their backend.
func NewFetchCmd() *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Print the document at a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := fetch.New(dirs...).Fetch(cmd.Context(), args[0])
			if err != nil {
				return errors.Errorf("fetching %s: %w", args[0], err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&dirs, "dir", []string{"."}, "directories searched for relative local paths")
	return cmd
}
