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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/kadirpekel/ensemble/pkg/orchestrator"
	"github.com/kadirpekel/ensemble/pkg/runtime"
)

// RunCmd processes one request end to end and prints the result. On a
// terminal it prints a readable summary; when piped it emits the result as
// JSON for scripting.
type RunCmd struct {
	Request string `arg:"" help:"The request to process."`

	User    string   `help:"User identity for memory and sessions." default:"local"`
	Session string   `help:"Session id, for multi-turn continuity."`
	File    []string `short:"f" help:"Attach a file to the request." type:"existingfile"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	files, err := c.readFiles()
	if err != nil {
		return err
	}

	sess := rt.Orchestrator().Process(ctx, orchestrator.Request{
		UserID:    c.User,
		SessionID: c.Session,
		Request:   c.Request,
		Files:     files,
	})

	result := sess.FinalResult
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Println(result.Response)
		if len(result.SubAgentsUsed) > 0 {
			fmt.Printf("\n[agents: %s | memories: %d | %s]\n",
				strings.Join(result.SubAgentsUsed, ", "),
				result.MemoriesStored,
				result.Duration.Round(time.Millisecond))
		}
	}

	if !result.Success {
		return fmt.Errorf("request failed: %s", result.Error)
	}
	return nil
}

func (c *RunCmd) readFiles() (map[string][]byte, error) {
	if len(c.File) == 0 {
		return nil, nil
	}
	files := make(map[string][]byte, len(c.File))
	for _, path := range c.File {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		files[filepath.Base(path)] = data
	}
	return files, nil
}
