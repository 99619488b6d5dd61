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
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/walteh/deployrc/cmd/deployrc/opts"

	_ "github.com/walteh/deployrc/pkg/remote/azureblob"
	_ "github.com/walteh/deployrc/pkg/remote/dropbox"
	_ "github.com/walteh/deployrc/pkg/remote/ftp"
	_ "github.com/walteh/deployrc/pkg/remote/github"
	_ "github.com/walteh/deployrc/pkg/remote/local"
	_ "github.com/walteh/deployrc/pkg/remote/s3"
	_ "github.com/walteh/deployrc/pkg/remote/sftp"
	_ "github.com/walteh/deployrc/pkg/remote/slack"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd(&opts.RootOpts{}, &terminalPrompter{})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}
