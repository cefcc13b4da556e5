// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/runtime"
)

// ServeCmd starts the HTTP server and blocks until SIGINT/SIGTERM.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config source and log changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := cli.newLoader()
	if err != nil {
		return err
	}
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Watch {
		// Structural changes need a restart; the watch surfaces them early
		// instead of letting the running config drift silently.
		loader.OnChange(func(_ *config.Config) {
			rt.Logger().Warn("config source changed, restart to apply")
		})
		if err := loader.Watch(ctx); err != nil {
			rt.Logger().Warn("config watch unavailable", "error", err)
		}
	}

	return rt.Server().Start(ctx)
}
