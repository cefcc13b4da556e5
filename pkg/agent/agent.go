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

// Package agent runs planned tasks through specialised sub-agents. A
// sub-agent is a flat profile (prompt, tool allow-list, priority), not a
// type hierarchy; the manager selects one per task, quarantines its
// context and enforces its allow-list before any tool call reaches the
// registry.
package agent

import (
	"time"
)

// AllowAll in a tool allow-list grants access to every registered tool.
const AllowAll = "*"

// SubAgent is one executable profile.
type SubAgent struct {
	Name        string
	Description string

	// SystemPrompt fixes the agent's specialisation. The structured output
	// contract is appended at execution time.
	SystemPrompt string

	// ToolAllowList names the tools this agent may call; AllowAll grants
	// everything.
	ToolAllowList []string

	// Priority breaks ties when several keyword routes match.
	Priority int
}

// Allowed reports whether the agent may call the named tool.
func (a *SubAgent) Allowed(tool string) bool {
	for _, entry := range a.ToolAllowList {
		if entry == AllowAll || entry == tool {
			return true
		}
	}
	return false
}

// Result is the structured outcome of one task execution.
type Result struct {
	Success         bool          `json:"success"`
	Result          any           `json:"result,omitempty"`
	Explanation     string        `json:"explanation,omitempty"`
	ToolsUsed       []string      `json:"toolsUsed,omitempty"`
	MemoryAccessed  []string      `json:"memoryAccessed,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	NextSteps       []string      `json:"nextSteps,omitempty"`
	Issues          []string      `json:"issues,omitempty"`
	ExecutionTime   time.Duration `json:"executionTime"`
	SubAgent        string        `json:"subAgent"`
	Degraded        bool          `json:"degraded,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// builtins returns the standard sub-agent set. Fresh values per call so
// each manager owns its copies.
func builtins() []*SubAgent {
	return []*SubAgent{
		{
			Name:        "general-purpose",
			Description: "Handles any task that no specialist covers.",
			SystemPrompt: "You are a capable general-purpose agent. Complete the task " +
				"directly and pragmatically, using tools when they help.",
			ToolAllowList: []string{AllowAll},
			Priority:      0,
		},
		{
			Name:        "research-agent",
			Description: "Investigates topics, gathers and synthesises information.",
			SystemPrompt: "You are a research specialist. Gather relevant information from " +
				"memory and documents, cross-check it and synthesise a sourced answer.",
			ToolAllowList: []string{"search_memory", "read_file", "list_files", "write_file", "extract_document"},
			Priority:      10,
		},
		{
			Name:        "code-agent",
			Description: "Writes, reviews and debugs code.",
			SystemPrompt: "You are a software engineering specialist. Produce working, " +
				"idiomatic code with brief reasoning about the approach.",
			ToolAllowList: []string{"read_file", "write_file", "list_files", "calculate"},
			Priority:      10,
		},
		{
			Name:        "data-agent",
			Description: "Analyses data, computes statistics and summarises findings.",
			SystemPrompt: "You are a data analysis specialist. Compute precisely, use the " +
				"calculate tool for arithmetic, and state findings with their basis.",
			ToolAllowList: []string{"calculate", "read_file", "write_file", "list_files", "extract_document"},
			Priority:      10,
		},
		{
			Name:        "content-agent",
			Description: "Writes and edits documents, reports and other prose.",
			SystemPrompt: "You are a writing specialist. Produce clear, well-structured " +
				"prose matched to the requested audience and format.",
			ToolAllowList: []string{"read_file", "write_file", "list_files", "search_memory"},
			Priority:      10,
		},
	}
}

// builtinKeywords routes task-content keywords to the built-in
// specialists. Configured profiles add their own routes on top.
var builtinKeywords = map[string]string{
	"research":    "research-agent",
	"analyze":     "research-agent",
	"investigate": "research-agent",
	"code":        "code-agent",
	"program":     "code-agent",
	"debug":       "code-agent",
	"function":    "code-agent",
	"class":       "code-agent",
	"data":        "data-agent",
	"statistics":  "data-agent",
	"chart":       "data-agent",
	"calculate":   "data-agent",
	"write":       "content-agent",
	"edit":        "content-agent",
	"document":    "content-agent",
	"report":      "content-agent",
}
