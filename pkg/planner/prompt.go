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

package planner

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/utils"
)

// systemRubric fixes the planner's role and quality bar. The output
// contract is appended per request because it embeds the inventories.
const systemRubric = `You are the planning agent of a multi-agent system. Your job is to
analyse a user request and either answer it directly or decompose it into
an ordered list of tasks for specialised sub-agents.

Task quality standards:
- Each task is one concrete, verifiable unit of work with clear success criteria.
- Use dependencies to order tasks; never create cycles.
- Assign each task to the most specialised capable sub-agent.
- Only list tools a task genuinely needs.
- Prefer few well-scoped tasks over many fragments.`

const outputContract = `Respond with a single JSON object and nothing else.

If the request needs no decomposition:
{"needsPlanning": false, "directAction": "<the complete answer or action>", "reason": "<why>"}

If it needs planning:
{
  "needsPlanning": true,
  "analysis": "<your analysis of the request>",
  "tasks": [
    {
      "id": "task-1",
      "content": "<what to do>",
      "priority": "high|medium|low",
      "estimatedDuration": "<rough estimate>",
      "assignedSubAgent": "<sub-agent name>",
      "requiredTools": ["<tool>", "..."],
      "dependencies": ["<task id>", "..."],
      "successCriteria": "<how to tell it worked>"
    }
  ],
  "executionStrategy": "<how the tasks fit together>",
  "riskAssessment": "<what could go wrong>"
}`

// AgentInfo summarises one sub-agent for the planner's inventory.
type AgentInfo struct {
	Name        string
	Description string
}

// buildMessages assembles the planning conversation: rubric and
// inventories as the system turn, memory context and the request as the
// user turn. Memory sections share p.contextBudget tokens, preferences
// first.
func (p *Planner) buildMessages(sess *session.Session) []llms.Message {
	var system strings.Builder
	system.WriteString(systemRubric)

	if len(p.agents) > 0 {
		system.WriteString("\n\nAvailable sub-agents:\n")
		for _, a := range p.agents {
			fmt.Fprintf(&system, "- %s: %s\n", a.Name, a.Description)
		}
	}
	if p.tools != nil {
		defs := p.tools.All()
		if len(defs) > 0 {
			system.WriteString("\nAvailable tools:\n")
			for _, def := range defs {
				fmt.Fprintf(&system, "- %s: %s\n", def.Name, utils.Snippet(def.Description, 120))
			}
		}
	}

	var user strings.Builder
	budget := p.contextBudget
	budget -= p.writeMemorySection(&user, "User preferences", sess.Memories.Preferences, budget)
	budget -= p.writeMemorySection(&user, "Long-term context", sess.Memories.LongTerm, budget)
	p.writeMemorySection(&user, "Recent conversation", sess.Memories.ShortTerm, budget)

	fmt.Fprintf(&user, "Request:\n%s\n\n%s", sess.Request, outputContract)

	return []llms.Message{
		llms.SystemMessage(system.String()),
		llms.UserMessage(user.String()),
	}
}

// writeMemorySection appends a titled bullet list of memories, stopping
// when the token budget runs out. Returns the tokens consumed.
func (p *Planner) writeMemorySection(sb *strings.Builder, title string, memories []*memory.Memory, budget int) int {
	if len(memories) == 0 || budget <= 0 {
		return 0
	}
	used := p.counter.Count(title) + 2
	var lines []string
	for _, mem := range memories {
		line := "- " + utils.Snippet(mem.Content, 500)
		cost := p.counter.Count(line)
		if used+cost > budget {
			break
		}
		lines = append(lines, line)
		used += cost
	}
	if len(lines) == 0 {
		return 0
	}
	fmt.Fprintf(sb, "%s:\n%s\n\n", title, strings.Join(lines, "\n"))
	return used
}
