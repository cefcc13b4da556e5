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

// Package planner turns a user request plus its loaded memory context into
// an executable Plan: either a direct action, or an ordered, dependency
// checked task list assigned to sub-agents. Malformed model output is
// never fatal; the parser degrades stage by stage down to a one-task
// fallback plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/observability"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/task"
	"github.com/kadirpekel/ensemble/pkg/tools"
	"github.com/kadirpekel/ensemble/pkg/utils"
)

// defaultContextBudget caps the memory context tokens folded into the
// planning prompt.
const defaultContextBudget = 2000

// Planner is the planning agent.
type Planner struct {
	provider      llms.Provider
	memory        *memory.Manager
	tools         *tools.Registry
	agents        []AgentInfo
	observer      observability.Observer
	logger        *slog.Logger
	counter       *utils.TokenCounter
	llmOpts       *llms.Options
	contextBudget int
}

// Option customises a Planner.
type Option func(*Planner)

// WithAgents sets the sub-agent inventory shown to the model.
func WithAgents(agents []AgentInfo) Option {
	return func(p *Planner) { p.agents = agents }
}

// WithObserver routes planning events to o.
func WithObserver(o observability.Observer) Option {
	return func(p *Planner) { p.observer = o }
}

// WithLogger sets the planner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithLLMOptions overrides generation parameters for planning calls.
func WithLLMOptions(opts *llms.Options) Option {
	return func(p *Planner) { p.llmOpts = opts }
}

// WithContextBudget caps memory context tokens in the prompt.
func WithContextBudget(tokens int) Option {
	return func(p *Planner) {
		if tokens > 0 {
			p.contextBudget = tokens
		}
	}
}

// New builds a planner. The memory manager and tool registry are optional:
// without them the planner skips context recording and todo mirroring.
func New(provider llms.Provider, mgr *memory.Manager, reg *tools.Registry, opts ...Option) *Planner {
	counter, err := utils.NewTokenCounter(provider.ModelName())
	if err != nil {
		// The nil counter falls back to length-based estimates.
		counter = nil
	}
	p := &Planner{
		provider:      provider,
		memory:        mgr,
		tools:         reg,
		observer:      observability.NopObserver{},
		logger:        slog.Default(),
		counter:       counter,
		contextBudget: defaultContextBudget,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan produces the plan for one session. LLM transport failures return an
// error so the caller's fallback layer can degrade; everything after a
// successful generation is non-fatal and at worst yields the fallback
// one-task plan.
func (p *Planner) Plan(ctx context.Context, sess *session.Session) (*task.Plan, error) {
	messages := p.buildMessages(sess)

	stream, err := p.provider.GenerateStreaming(ctx, messages, p.llmOpts)
	if err != nil {
		return nil, fmt.Errorf("planning generation: %w", err)
	}
	raw, _, err := llms.Collect(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("planning generation: %w", err)
	}

	plan := ParsePlan(raw)
	if err := plan.Normalize(); err != nil {
		p.logger.Warn("plan failed validation, using fallback plan", "error", err)
		plan = FallbackPlan()
		if err := plan.Normalize(); err != nil {
			return nil, fmt.Errorf("normalizing fallback plan: %w", err)
		}
	}

	if plan.NeedsPlanning {
		p.mirrorTodos(ctx, sess, plan)
	}
	p.recordPlanningResult(ctx, sess, plan)
	p.observer.PlanningCreated(ctx, len(plan.Tasks))

	return plan, nil
}

// mirrorTodos pushes the task list through the write_todos tool when it is
// registered. Best effort: a failure is logged, never propagated.
func (p *Planner) mirrorTodos(ctx context.Context, sess *session.Session, plan *task.Plan) {
	if p.tools == nil || !p.tools.Has("write_todos") {
		return
	}

	encoded, err := json.Marshal(plan.Tasks)
	if err != nil {
		p.logger.Warn("todo mirroring failed", "error", err)
		return
	}
	var todos []any
	if err := json.Unmarshal(encoded, &todos); err != nil {
		p.logger.Warn("todo mirroring failed", "error", err)
		return
	}

	tctx := &tools.ToolContext{Session: sess, UserID: sess.UserID}
	if _, err := p.tools.Execute(ctx, "write_todos", map[string]any{"todos": todos}, tctx); err != nil {
		p.logger.Warn("todo mirroring failed", "error", err)
	}
}

// recordPlanningResult stores a short-term planning_result memory so later
// turns can see what was decided.
func (p *Planner) recordPlanningResult(ctx context.Context, sess *session.Session, plan *task.Plan) {
	if p.memory == nil {
		return
	}

	var content string
	if plan.NeedsPlanning {
		content = fmt.Sprintf("Planned %d tasks. Analysis: %s Strategy: %s",
			len(plan.Tasks), utils.Snippet(plan.Analysis, 300), utils.Snippet(plan.ExecutionStrategy, 300))
	} else {
		content = fmt.Sprintf("No planning needed. Direct action: %s", utils.Snippet(plan.DirectAction, 300))
	}

	_, err := p.memory.AddShortTerm(ctx, &memory.Memory{
		Content:    content,
		Type:       memory.KindPlanningResult,
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		Importance: 0.4,
		Confidence: 1.0,
	})
	if err != nil {
		p.logger.Warn("recording planning result failed", "error", err)
	}
}
