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

// Package tools provides the tool registry sub-agents execute through:
// built-in tools over the session sandbox, schema-validated parameters,
// and external tools contributed by MCP servers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// ErrUnknownTool is returned when a name resolves to no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// ErrUnauthorized is returned when a sub-agent calls a tool outside its
// allow-list. The rejection happens at the caller; the registry itself
// never consults allow-lists.
var ErrUnauthorized = errors.New("tool not permitted")

// InvalidParametersError reports schema validation failures before a tool
// runs.
type InvalidParametersError struct {
	Tool     string
	Problems []string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ExecutionError wraps a failure raised by the tool itself, as opposed to
// lookup or validation failures.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Definition describes one tool to callers and to the LLM prompt.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Category    string         `json:"category,omitempty"`
}

// ToolContext carries the per-session state a tool may touch. Tools never
// reach outside it.
type ToolContext struct {
	Session *session.Session
	FS      *vfs.FS
	UserID  string
}

// Tool is one executable capability.
type Tool interface {
	// Definition returns the tool's name, description and parameter schema.
	Definition() Definition

	// Execute runs the tool. Params have already passed schema validation.
	Execute(ctx context.Context, params map[string]any, tctx *ToolContext) (any, error)
}

// Source contributes externally discovered tools, such as an MCP server.
type Source interface {
	// Name identifies the source; discovered tools are prefixed with it.
	Name() string

	// Discover connects to the source and lists its tools.
	Discover(ctx context.Context) ([]Tool, error)

	// Close releases the source's transport.
	Close() error
}
