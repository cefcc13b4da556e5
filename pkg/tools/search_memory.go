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
	"fmt"
	"strings"

	"github.com/kadirpekel/ensemble/pkg/memory"
)

// SearchMemoryTool lets sub-agents query long-term memory on demand,
// beyond the context the orchestrator preloads into the session.
type SearchMemoryTool struct {
	definition Definition
	manager    *memory.Manager
}

var _ Tool = (*SearchMemoryTool)(nil)

type searchMemoryArgs struct {
	Query string `json:"query" jsonschema:"description=Search phrase"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results,default=5"`
}

// NewSearchMemoryTool constructs the search_memory built-in over the
// given memory manager.
func NewSearchMemoryTool(manager *memory.Manager) *SearchMemoryTool {
	return &SearchMemoryTool{
		definition: Definition{
			Name:        "search_memory",
			Description: "Search the user's long-term memories and preferences for relevant facts.",
			Parameters:  schemaFor(&searchMemoryArgs{}),
			Category:    "memory",
		},
		manager: manager,
	}
}

func (t *SearchMemoryTool) Definition() Definition {
	return t.definition
}

func (t *SearchMemoryTool) Execute(ctx context.Context, params map[string]any, tctx *ToolContext) (any, error) {
	if tctx == nil || tctx.UserID == "" {
		return nil, fmt.Errorf("no user in tool context")
	}
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	limit := 5
	if raw, ok := params["limit"]; ok {
		if f, ok := toFloat(raw); ok && f > 0 {
			limit = int(f)
		}
	}

	memories, err := t.manager.SearchLongTerm(ctx, tctx.UserID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	results := make([]map[string]any, 0, len(memories))
	for _, mem := range memories {
		results = append(results, map[string]any{
			"id":         mem.ID,
			"content":    mem.Content,
			"type":       string(mem.Type),
			"category":   mem.Category,
			"importance": mem.Importance,
		})
	}
	return map[string]any{
		"query":   query,
		"results": results,
	}, nil
}
