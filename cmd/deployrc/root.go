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

package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/walteh/deployrc/cmd/deployrc/commands"
	"github.com/walteh/deployrc/cmd/deployrc/opts"
	"github.com/walteh/deployrc/pkg/operation"
	"github.com/walteh/deployrc/pkg/plugin"
)

// skipConfig marks commands that run without a config file
const skipConfig = "skip-config"

func newRootCmd(o *opts.RootOpts, prompter plugin.Prompter) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployrc",
		Short: "Upload, pull and delete files across remote targets",
		Long: `deployrc moves files between a local directory and the targets of a
config file. Targets are FTP, SFTP, S3, Azure Blob, Dropbox, Slack or
local directories, and meta targets that fan out to other targets.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(o.Debug)
			ctx := zerolog.DefaultContextLogger.WithContext(cmd.Context())

			if o.MetricsAddr != "" {
				serveMetrics(ctx, o.MetricsAddr)
			}

			if cmd.Annotations[skipConfig] == "true" {
				cmd.SetContext(ctx)
				return nil
			}

			ctx, err := o.Init(ctx, prompter, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	addRootFlags(rootCmd, o)

	fetchCmd := commands.NewFetchCmd()
	fetchCmd.Annotations = map[string]string{skipConfig: "true"}

	rootCmd.AddCommand(
		commands.NewTargetsCmd(o),
		commands.NewListCmd(o),
		commands.NewUploadCmd(o),
		commands.NewPullCmd(o),
		commands.NewDeleteCmd(o),
		commands.NewRmdirCmd(o),
		fetchCmd,
		newVersionCmd(),
	)

	return rootCmd
}

func addRootFlags(cmd *cobra.Command, o *opts.RootOpts) {
	cmd.PersistentFlags().StringVarP(&o.ConfigFile, "config", "c", "", "config file path (default: search the working directory)")
	cmd.PersistentFlags().BoolVarP(&o.Debug, "debug", "d", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&o.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.PersistentFlags().StringArrayVar(&o.Selections, "switch", nil, "pick a switch option, as target=option")
	cmd.PersistentFlags().StringArrayVar(&o.Values, "set", nil, "override a placeholder value, as key=value")
	cmd.PersistentFlags().BoolVar(&o.NoPrompt, "no-prompt", false, "never prompt for credentials or list entries")
	cmd.PersistentFlags().IntVarP(&o.Parallel, "parallel", "p", operation.DefaultParallel, "targets worked on at once")
}

func setupLogging(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
}
