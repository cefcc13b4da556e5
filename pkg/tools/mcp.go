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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/ensemble/pkg/config"
)

// MCPSource attaches an MCP server launched as a subprocess over stdio.
// Discovered tools are registered under "<server>__<tool>" so names from
// different servers never collide with each other or with built-ins.
type MCPSource struct {
	cfg config.MCPServerConfig

	mu     sync.Mutex
	client *client.Client
}

var _ Source = (*MCPSource)(nil)

// NewMCPSource creates a source for one configured MCP server. The
// subprocess is not started until Discover.
func NewMCPSource(cfg config.MCPServerConfig) (*MCPSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MCPSource{cfg: cfg}, nil
}

func (s *MCPSource) Name() string {
	return s.cfg.Name
}

// Discover starts the server process if needed, performs the MCP handshake
// and lists its tools.
func (s *MCPSource) Discover(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, envSlice(s.cfg.Env), s.cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("starting MCP server %s: %w", s.cfg.Name, err)
		}
		if err := mcpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting MCP server %s: %w", s.cfg.Name, err)
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{
			Name:    "ensemble",
			Version: "1.0.0",
		}
		initReq.Params.ProtocolVersion = "2024-11-05"
		if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
			mcpClient.Close()
			return nil, fmt.Errorf("initializing MCP server %s: %w", s.cfg.Name, err)
		}
		s.client = mcpClient
	}

	listResp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools from %s: %w", s.cfg.Name, err)
	}

	tools := make([]Tool, 0, len(listResp.Tools))
	for _, mcpTool := range listResp.Tools {
		tools = append(tools, &remoteTool{
			source:     s,
			remoteName: mcpTool.Name,
			definition: Definition{
				Name:        s.cfg.Name + "__" + mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  mcpSchema(mcpTool.InputSchema),
				Category:    "mcp",
			},
		})
	}
	return tools, nil
}

// Close terminates the server subprocess.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// remoteTool proxies one remote tool through the source's client.
type remoteTool struct {
	source     *MCPSource
	remoteName string
	definition Definition
}

var _ Tool = (*remoteTool)(nil)

func (t *remoteTool) Definition() Definition {
	return t.definition
}

func (t *remoteTool) Execute(ctx context.Context, params map[string]any, _ *ToolContext) (any, error) {
	t.source.mu.Lock()
	mcpClient := t.source.client
	t.source.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("MCP server %s not connected", t.source.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = params

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", t.remoteName, t.source.cfg.Name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	if resp.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("%s reported: %s", t.remoteName, msg)
	}

	switch len(texts) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return map[string]any{"result": texts[0]}, nil
	default:
		return map[string]any{"results": texts}, nil
	}
}

// mcpSchema converts the server-provided input schema to a plain map.
func mcpSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
