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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/planner"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/task"
	"github.com/kadirpekel/ensemble/pkg/tools"
	"github.com/kadirpekel/ensemble/pkg/utils"
	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// maxToolRounds bounds how many times one execution may loop through tool
// calls before the agent must answer.
const maxToolRounds = 4

// contextMemoryLimit bounds each memory tier folded into the prompt.
const contextMemoryLimit = 5

const outputContract = `Respond with a single JSON object:
{
  "success": true|false,
  "result": "<the outcome of the task>",
  "explanation": "<how you got there>",
  "recommendations": ["..."], "nextSteps": ["..."], "issues": ["..."]
}
To call tools first, respond instead with:
{"toolCalls": [{"name": "<tool>", "params": {...}}]}
and wait for the results before answering.`

// agentOutput is the shape sub-agents are asked to produce. Success is a
// pointer so "absent" is distinguishable from "false".
type agentOutput struct {
	Success         *bool      `json:"success"`
	Result          any        `json:"result"`
	Explanation     string     `json:"explanation"`
	ToolCalls       []toolCall `json:"toolCalls"`
	Recommendations []string   `json:"recommendations"`
	NextSteps       []string   `json:"nextSteps"`
	Issues          []string   `json:"issues"`
}

type toolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Execute selects a sub-agent for the task and runs it. Only LLM transport
// failures surface as errors, so the caller's fallback layer can try
// alternatives; everything else, including non-conforming output, yields a
// Result.
func (m *Manager) Execute(ctx context.Context, t *task.Task, sess *session.Session, fs *vfs.FS) (*Result, error) {
	return m.ExecuteWith(ctx, m.Select(t), t, sess, fs)
}

// ExecuteDirect runs the whole request through the general-purpose agent,
// the path taken when planning produced no todos.
func (m *Manager) ExecuteDirect(ctx context.Context, request string, sess *session.Session, fs *vfs.FS) (*Result, error) {
	t := task.New(request)
	t.AssignedSubAgent = planner.GeneralPurposeAgent
	return m.Execute(ctx, t, sess, fs)
}

// ExecuteWith runs the task through a specific sub-agent.
func (m *Manager) ExecuteWith(ctx context.Context, sub *SubAgent, t *task.Task, sess *session.Session, fs *vfs.FS) (*Result, error) {
	start := time.Now()

	memoryContext, memoryIDs := m.loadContext(ctx, t, sess)
	messages := m.buildMessages(sub, t, sess, fs, memoryContext)
	tctx := &tools.ToolContext{Session: sess, FS: fs, UserID: sess.UserID}

	var (
		result    *Result
		toolsUsed []string
		issues    []string
	)
	for round := 0; ; round++ {
		stream, err := m.provider.GenerateStreaming(ctx, messages, m.llmOpts)
		if err != nil {
			m.finish(ctx, sub, sess, t, nil, start)
			return nil, fmt.Errorf("sub-agent %s: %w", sub.Name, err)
		}
		raw, _, err := llms.Collect(ctx, stream)
		if err != nil {
			m.finish(ctx, sub, sess, t, nil, start)
			return nil, fmt.Errorf("sub-agent %s: %w", sub.Name, err)
		}

		output, ok := parseOutput(raw)
		if !ok {
			result = &Result{
				Success: true,
				Result:  raw,
				Issues:  append(issues, "non-conforming output"),
			}
			break
		}

		if len(output.ToolCalls) > 0 && round < maxToolRounds {
			feedback, used, rejected := m.runToolCalls(ctx, sub, output.ToolCalls, tctx)
			toolsUsed = append(toolsUsed, used...)
			issues = append(issues, rejected...)
			messages = append(messages,
				llms.AssistantMessage(raw),
				llms.UserMessage("Tool results:\n"+feedback+"\nNow produce your final JSON answer."),
			)
			continue
		}

		success := true
		if output.Success != nil {
			success = *output.Success
		}
		result = &Result{
			Success:         success,
			Result:          output.Result,
			Explanation:     output.Explanation,
			Recommendations: output.Recommendations,
			NextSteps:       output.NextSteps,
			Issues:          append(issues, output.Issues...),
		}
		break
	}

	result.ToolsUsed = toolsUsed
	result.MemoryAccessed = memoryIDs
	result.SubAgent = sub.Name
	result.ExecutionTime = time.Since(start)

	m.finish(ctx, sub, sess, t, result, start)
	return result, nil
}

// runToolCalls executes one round of requested tool calls. Calls outside
// the allow-list are rejected here and never reach the registry.
func (m *Manager) runToolCalls(ctx context.Context, sub *SubAgent, calls []toolCall, tctx *tools.ToolContext) (feedback string, used, rejected []string) {
	var sb strings.Builder
	for _, call := range calls {
		if call.Name == "" {
			continue
		}
		if !sub.Allowed(call.Name) {
			err := fmt.Errorf("%w: %s is outside %s's allow-list", tools.ErrUnauthorized, call.Name, sub.Name)
			m.logger.Warn("tool call rejected", "agent", sub.Name, "tool", call.Name)
			rejected = append(rejected, err.Error())
			fmt.Fprintf(&sb, "%s: error: %v\n", call.Name, err)
			continue
		}

		value, err := m.executeTool(ctx, call, tctx)
		used = append(used, call.Name)
		if err != nil {
			fmt.Fprintf(&sb, "%s: error: %v\n", call.Name, err)
			continue
		}
		encoded, jsonErr := json.Marshal(value)
		if jsonErr != nil {
			fmt.Fprintf(&sb, "%s: %v\n", call.Name, value)
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", call.Name, encoded)
	}
	return sb.String(), used, rejected
}

// executeTool runs a single call under the per-tool timeout. Each call
// gets its own context, released as soon as the call returns.
func (m *Manager) executeTool(ctx context.Context, call toolCall, tctx *tools.ToolContext) (any, error) {
	if m.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.toolTimeout)
		defer cancel()
	}
	return m.tools.Execute(ctx, call.Name, call.Params, tctx)
}

// parseOutput applies the shared parse precedence to sub-agent output:
// fenced or embedded JSON decoded into the output shape. Anything that
// does not decode, or decodes to an empty shape, is non-conforming.
func parseOutput(raw string) (*agentOutput, bool) {
	payload, ok := planner.ExtractJSON(raw)
	if !ok {
		return nil, false
	}
	var output agentOutput
	if err := json.Unmarshal([]byte(payload), &output); err != nil {
		return nil, false
	}
	if output.Success == nil && output.Result == nil && len(output.ToolCalls) == 0 {
		return nil, false
	}
	return &output, true
}

// loadContext gathers the bounded memory context for a task and the ids it
// exposes.
func (m *Manager) loadContext(ctx context.Context, t *task.Task, sess *session.Session) (*memory.ContextResults, []string) {
	if m.memory == nil {
		return nil, nil
	}
	results, err := m.memory.SearchWithContext(ctx, t.Content, sess.UserID, &memory.SearchOptions{
		SessionID:       sess.ID,
		ShortTermLimit:  contextMemoryLimit,
		LongTermLimit:   contextMemoryLimit,
		PreferenceLimit: contextMemoryLimit,
		RelatedLimit:    contextMemoryLimit,
	})
	if err != nil {
		m.logger.Warn("loading sub-agent context failed", "agent", t.AssignedSubAgent, "error", err)
		return nil, nil
	}

	var ids []string
	for _, tier := range [][]*memory.Memory{results.ShortTerm, results.LongTerm, results.Preferences, results.Related} {
		for _, mem := range tier {
			ids = append(ids, mem.ID)
		}
	}
	return results, ids
}

// buildMessages renders the execution conversation: profile prompt, tool
// inventory and output contract as the system turn; task, success criteria
// and context as the user turn.
func (m *Manager) buildMessages(sub *SubAgent, t *task.Task, sess *session.Session, fs *vfs.FS, results *memory.ContextResults) []llms.Message {
	var system strings.Builder
	system.WriteString(sub.SystemPrompt)

	if m.tools != nil {
		var allowed []string
		for _, def := range m.tools.All() {
			if sub.Allowed(def.Name) {
				allowed = append(allowed, fmt.Sprintf("- %s: %s", def.Name, utils.Snippet(def.Description, 120)))
			}
		}
		if len(allowed) > 0 {
			system.WriteString("\n\nTools you may call:\n")
			system.WriteString(strings.Join(allowed, "\n"))
		}
	}
	system.WriteString("\n\n")
	system.WriteString(outputContract)

	var user strings.Builder
	fmt.Fprintf(&user, "Task: %s\n", t.Content)
	if t.SuccessCriteria != "" {
		fmt.Fprintf(&user, "Success criteria: %s\n", t.SuccessCriteria)
	}

	if results != nil {
		writeContextSection(&user, "User preferences", results.Preferences)
		writeContextSection(&user, "Relevant knowledge", results.LongTerm)
		writeContextSection(&user, "Recent conversation", results.ShortTerm)
		writeContextSection(&user, "Related memories", results.Related)
	}

	if fs != nil {
		if infos := fs.List(); len(infos) > 0 {
			user.WriteString("\nSession files:\n")
			for _, info := range infos {
				fmt.Fprintf(&user, "- %s (%d bytes)\n", info.Path, info.Size)
			}
		}
	}

	return []llms.Message{
		llms.SystemMessage(system.String()),
		llms.UserMessage(user.String()),
	}
}

func writeContextSection(sb *strings.Builder, title string, memories []*memory.Memory) {
	if len(memories) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, mem := range memories {
		fmt.Fprintf(sb, "- %s\n", utils.Snippet(mem.Content, 300))
	}
}

// finish updates statistics, emits the completion event and records the
// run on the session. A nil result marks a transport failure.
func (m *Manager) finish(ctx context.Context, sub *SubAgent, sess *session.Session, t *task.Task, result *Result, start time.Time) {
	duration := time.Since(start)
	success := result != nil && result.Success
	m.recordExecution(sub.Name, duration, success)
	m.observer.SubAgentCompleted(ctx, sub.Name, duration, success)
	if result != nil {
		sess.RecordSubAgentRun(session.SubAgentRun{
			TaskID:    t.ID,
			AgentName: sub.Name,
			Result:    result,
			Timestamp: time.Now(),
		})
	}
}
