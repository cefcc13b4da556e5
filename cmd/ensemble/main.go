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

// Command ensemble runs the multi-agent orchestration runtime.
//
// Usage:
//
//	ensemble serve --config ensemble.yaml
//	ensemble run "summarize the attached brief" --config ensemble.yaml
//	ensemble validate --config ensemble.yaml
//	ensemble version
package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/config/provider"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Run      RunCmd      `cmd:"" help:"Process a single request and exit."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and exit."`

	Config          string   `short:"c" help:"Config path or remote key." default:"ensemble.yaml"`
	ConfigType      string   `name:"config-type" help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Remote config store endpoints."`
}

// newLoader builds a config loader for the selected source.
func (c *CLI) newLoader() (*config.Loader, error) {
	sourceType, err := provider.ParseType(c.ConfigType)
	if err != nil {
		return nil, err
	}
	src, err := provider.New(provider.Config{
		Type:      sourceType,
		Path:      c.Config,
		Endpoints: c.ConfigEndpoints,
	})
	if err != nil {
		return nil, err
	}
	return config.NewLoader(src, nil), nil
}

// loadConfig reads and validates the configuration once.
func (c *CLI) loadConfig(ctx context.Context) (*config.Config, error) {
	loader, err := c.newLoader()
	if err != nil {
		return nil, err
	}
	defer loader.Close()
	return loader.Load(ctx)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ensemble version %s\n", version)
	return nil
}

// ValidateCmd loads the configuration and reports the first violation.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := cli.loadConfig(context.Background()); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

func main() {
	// A local .env is a convenience for API keys; absence is fine.
	_ = godotenv.Load()

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("ensemble"),
		kong.Description("Multi-agent orchestration runtime."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(cli))
}
