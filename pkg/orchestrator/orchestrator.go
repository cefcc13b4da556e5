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

// Package orchestrator threads one request through the full lifecycle:
// recall memories, plan, execute the plan through sub-agents, write the
// outcome back to memory and persist the turn. Every fallible stage runs
// under the fallback manager, so Process never returns a Go error; residual
// failures surface as a Result with Success false.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/ensemble/pkg/agent"
	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/fallback"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/planner"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/task"
	"github.com/kadirpekel/ensemble/pkg/utils"
	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// Request is one incoming unit of work. An empty SessionID starts a fresh
// session; callers pin their own ids for multi-turn conversations.
type Request struct {
	UserID    string
	SessionID string
	Request   string
	Files     map[string][]byte
}

// Orchestrator owns the request lifecycle.
type Orchestrator struct {
	planner   *planner.Planner
	agents    *agent.Manager
	memory    *memory.Manager
	fallback  *fallback.Manager
	sessions  session.Service
	extractor *Extractor
	logger    *slog.Logger
	deadlines config.DeadlineConfig
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithSessionService persists completed turns through svc.
func WithSessionService(svc session.Service) Option {
	return func(o *Orchestrator) { o.sessions = svc }
}

// WithExtractor enables LLM-driven long-term memory extraction after each
// request.
func WithExtractor(e *Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDeadlines overrides the request/llm/tool time budgets.
func WithDeadlines(d config.DeadlineConfig) Option {
	return func(o *Orchestrator) { o.deadlines = d }
}

// New builds an orchestrator over the assembled runtime components.
func New(p *planner.Planner, agents *agent.Manager, mgr *memory.Manager, fb *fallback.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:  p,
		agents:   agents,
		memory:   mgr,
		fallback: fb,
		sessions: session.NewInMemoryService(),
		logger:   slog.Default(),
	}
	o.deadlines.SetDefaults()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one request end to end and returns the session with its
// FinalResult set. It never returns an error and never panics.
func (o *Orchestrator) Process(ctx context.Context, req Request) *session.Session {
	ctx, cancel := context.WithTimeout(ctx, o.deadlines.Request)
	defer cancel()

	sess := session.New(req.SessionID, req.UserID, req.Request)
	fs := vfs.New()
	if len(req.Files) > 0 {
		if err := fs.Seed(req.Files); err != nil {
			o.logger.Warn("seeding session files failed", "session", sess.ID, "error", err)
		}
		sess.Files = req.Files
	}

	sess.FinalResult = o.run(ctx, sess, fs)
	return sess
}

// emptyRequestResponse answers requests with no content. Nothing gets
// planned or dispatched for them.
const emptyRequestResponse = "I didn't receive a request. Tell me what you need and I'll get started."

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, fs *vfs.FS) (result *session.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("request lifecycle panicked", "session", sess.ID, "panic", r)
			result = &session.Result{
				Success:  false,
				Error:    fmt.Sprintf("internal failure: %v", r),
				Duration: sess.Elapsed(),
			}
		}
	}()

	if strings.TrimSpace(sess.Request) == "" {
		sess.Response = emptyRequestResponse
		o.appendTurn(ctx, sess, true)
		return &session.Result{
			Success:  true,
			Response: emptyRequestResponse,
			Duration: sess.Elapsed(),
		}
	}

	o.loadMemories(ctx, sess)
	o.plan(ctx, sess)

	response, failed := o.executePlan(ctx, sess, fs)
	sess.Response = response
	sess.Files = fs.Snapshot()

	stored := o.persist(ctx, sess, fs)
	o.appendTurn(ctx, sess, !failed)

	return &session.Result{
		Success:        !failed,
		Response:       response,
		Duration:       sess.Elapsed(),
		MemoriesStored: stored,
		SubAgentsUsed:  sess.SubAgentsUsed(),
		TodosCompleted: sess.TodosCompleted(),
		Files:          fileNames(fs),
	}
}

// loadMemories recalls the four context tiers for the request. Recall is
// best-effort: a failing memory backend degrades to an empty snapshot.
func (o *Orchestrator) loadMemories(ctx context.Context, sess *session.Session) {
	if o.memory == nil {
		return
	}
	res := o.fallback.Execute(ctx, func(ctx context.Context) (any, error) {
		return o.memory.SearchWithContext(ctx, sess.Request, sess.UserID, &memory.SearchOptions{SessionID: sess.ID})
	}, fallback.Context{
		Component:     fallback.ComponentMemory,
		OperationType: "recall",
		Strategy:      fallback.StrategyDegraded,
		DegradedHandler: func(context.Context, error) (any, error) {
			return &memory.ContextResults{}, nil
		},
	})
	if !res.Success {
		o.logger.Warn("memory recall failed", "session", sess.ID, "error", res.Err)
		return
	}
	if results, ok := res.Value.(*memory.ContextResults); ok {
		sess.Memories = session.MemorySnapshot{
			ShortTerm:   results.ShortTerm,
			LongTerm:    results.LongTerm,
			Preferences: results.Preferences,
			Related:     results.Related,
		}
	}
}

// plan runs the planning agent under the degraded strategy. When planning
// cannot serve at all, the request itself becomes the direct action.
func (o *Orchestrator) plan(ctx context.Context, sess *session.Session) {
	res := o.fallback.Execute(ctx, func(ctx context.Context) (any, error) {
		lctx, cancel := context.WithTimeout(ctx, o.deadlines.LLM)
		defer cancel()
		return o.planner.Plan(lctx, sess)
	}, fallback.Context{
		Component:     fallback.ComponentPlanning,
		OperationType: "plan",
		Strategy:      fallback.StrategyDegraded,
		DegradedHandler: func(context.Context, error) (any, error) {
			return planner.DegradedPlan(sess.Request), nil
		},
	})

	plan, ok := res.Value.(*task.Plan)
	if !res.Success || !ok {
		o.logger.Warn("planning failed", "session", sess.ID, "error", res.Err)
		sess.PlanMetadata = session.PlanMetadata{Degraded: true}
		sess.DirectAction = sess.Request
		return
	}

	sess.PlanMetadata = session.PlanMetadata{
		Analysis:          plan.Analysis,
		ExecutionStrategy: plan.ExecutionStrategy,
		RiskAssessment:    plan.RiskAssessment,
		Degraded:          res.Degraded,
	}
	if plan.NeedsPlanning {
		sess.Todos = plan.Tasks
	} else {
		sess.DirectAction = plan.DirectAction
		if sess.DirectAction == "" {
			sess.DirectAction = sess.Request
		}
	}
}

// executePlan dispatches the todos in plan order, one at a time, running
// only tasks whose dependencies completed. Without todos the whole request
// goes to the general-purpose agent.
func (o *Orchestrator) executePlan(ctx context.Context, sess *session.Session, fs *vfs.FS) (string, bool) {
	if len(sess.Todos) == 0 {
		request := sess.DirectAction
		if request == "" {
			request = sess.Request
		}
		result := o.dispatch(ctx, task.New(request), sess, fs, true)
		return renderResult(result), !result.Success
	}

	byID := task.ByID(sess.Todos)
	var parts []string
	anyFailed := false
	for _, t := range sess.Todos {
		if !t.Ready(byID) {
			if t.Status == task.StatusPending {
				anyFailed = true
				parts = append(parts, fmt.Sprintf("Skipped %q: unmet dependencies.", utils.Snippet(t.Content, 80)))
			}
			continue
		}
		if err := t.Transition(task.StatusInProgress); err != nil {
			continue
		}

		result := o.dispatch(ctx, t, sess, fs, false)
		if result.Success {
			if err := t.Transition(task.StatusCompleted); err != nil {
				o.logger.Warn("task transition failed", "task", t.ID, "error", err)
			}
			parts = append(parts, renderResult(result))
			continue
		}
		if err := t.Transition(task.StatusFailed); err != nil {
			o.logger.Warn("task transition failed", "task", t.ID, "error", err)
		}
		anyFailed = true
		parts = append(parts, fmt.Sprintf("Task %q failed: %s", utils.Snippet(t.Content, 80), resultError(result)))
	}
	return strings.Join(parts, "\n\n"), anyFailed
}

// dispatch runs one task through the sub-agent fallback chain: the selected
// agent first, general-purpose as the alternative, a degraded marker as the
// last resort.
func (o *Orchestrator) dispatch(ctx context.Context, t *task.Task, sess *session.Session, fs *vfs.FS, direct bool) *agent.Result {
	if direct {
		t.AssignedSubAgent = planner.GeneralPurposeAgent
	}

	fctx := fallback.Context{
		Component:     fallback.ComponentSubAgents,
		OperationType: "task_execution",
		Strategy:      fallback.StrategyAlternative,
		DegradedHandler: func(_ context.Context, cause error) (any, error) {
			return &agent.Result{Success: false, Degraded: true, Error: cause.Error()}, nil
		},
	}
	if !direct && t.AssignedSubAgent != planner.GeneralPurposeAgent {
		fctx.Alternatives = []fallback.Alternative{{
			Name: planner.GeneralPurposeAgent,
			Run: func(ctx context.Context) (any, error) {
				general, ok := o.agents.Get(planner.GeneralPurposeAgent)
				if !ok {
					return nil, fmt.Errorf("general-purpose agent not registered")
				}
				return o.agents.ExecuteWith(ctx, general, t, sess, fs)
			},
		}}
	}

	res := o.fallback.Execute(ctx, func(ctx context.Context) (any, error) {
		return o.agents.Execute(ctx, t, sess, fs)
	}, fctx)

	if !res.Success {
		return &agent.Result{Success: false, Degraded: true, Error: errString(res.Err), SubAgent: t.AssignedSubAgent}
	}
	result, ok := res.Value.(*agent.Result)
	if !ok {
		return &agent.Result{Success: false, Error: "sub-agent produced no result"}
	}
	if res.Degraded {
		result.Degraded = true
	}
	return result
}

// renderResult flattens an agent result into response text.
func renderResult(r *agent.Result) string {
	switch v := r.Result.(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		if encoded, err := json.Marshal(v); err == nil {
			return string(encoded)
		}
	}
	if r.Explanation != "" {
		return r.Explanation
	}
	if r.Error != "" {
		return "The request could not be completed: " + r.Error
	}
	return ""
}

func resultError(r *agent.Result) string {
	if r.Error != "" {
		return r.Error
	}
	if len(r.Issues) > 0 {
		return strings.Join(r.Issues, "; ")
	}
	return "sub-agent reported failure"
}

func errString(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}

func fileNames(fs *vfs.FS) []string {
	infos := fs.List()
	if len(infos) == 0 {
		return nil
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Path)
	}
	return names
}
