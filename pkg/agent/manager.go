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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/observability"
	"github.com/kadirpekel/ensemble/pkg/planner"
	"github.com/kadirpekel/ensemble/pkg/task"
	"github.com/kadirpekel/ensemble/pkg/tools"
)

// Stats is a read-only snapshot of one sub-agent's execution history.
type Stats struct {
	TasksExecuted    int64
	AvgExecutionTime time.Duration
	SuccessRate      float64
}

// agentStats accumulates under the manager's lock.
type agentStats struct {
	tasksExecuted int64
	successes     int64
	totalDuration time.Duration
}

// Manager owns the sub-agent profiles and executes tasks through them.
type Manager struct {
	provider llms.Provider
	memory   *memory.Manager
	tools    *tools.Registry
	observer observability.Observer
	logger   *slog.Logger
	llmOpts  *llms.Options

	// toolTimeout caps each tool execution; zero means no cap.
	toolTimeout time.Duration

	mu       sync.RWMutex
	agents   map[string]*SubAgent
	order    []string
	keywords map[string]string
	stats    map[string]*agentStats
}

// Option customises a Manager.
type Option func(*Manager)

// WithObserver routes sub-agent completion events to o.
func WithObserver(o observability.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLLMOptions overrides generation parameters for sub-agent calls.
func WithLLMOptions(opts *llms.Options) Option {
	return func(m *Manager) { m.llmOpts = opts }
}

// WithToolTimeout bounds each tool execution's deadline.
func WithToolTimeout(d time.Duration) Option {
	return func(m *Manager) { m.toolTimeout = d }
}

// WithProfiles applies configured sub-agent profiles. A profile matching a
// built-in name overrides its prompt, description and allow-list; any
// other name registers a new sub-agent. Keywords add routes either way.
func WithProfiles(profiles []config.AgentConfig) Option {
	return func(m *Manager) {
		for i := range profiles {
			m.applyProfile(&profiles[i])
		}
	}
}

// NewManager builds a manager with the built-in sub-agents registered.
func NewManager(provider llms.Provider, mgr *memory.Manager, reg *tools.Registry, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		memory:   mgr,
		tools:    reg,
		observer: observability.NopObserver{},
		logger:   slog.Default(),
		agents:   make(map[string]*SubAgent),
		keywords: make(map[string]string, len(builtinKeywords)),
		stats:    make(map[string]*agentStats),
	}
	for _, a := range builtins() {
		m.agents[a.Name] = a
		m.order = append(m.order, a.Name)
	}
	for keyword, name := range builtinKeywords {
		m.keywords[keyword] = name
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) applyProfile(cfg *config.AgentConfig) {
	existing, ok := m.agents[cfg.Name]
	if !ok {
		existing = &SubAgent{Name: cfg.Name, ToolAllowList: []string{AllowAll}, Priority: 10}
		m.agents[cfg.Name] = existing
		m.order = append(m.order, cfg.Name)
	}
	if cfg.Description != "" {
		existing.Description = cfg.Description
	}
	if cfg.SystemPrompt != "" {
		existing.SystemPrompt = cfg.SystemPrompt
	}
	if len(cfg.AllowedTools) > 0 {
		existing.ToolAllowList = append([]string(nil), cfg.AllowedTools...)
	}
	for _, keyword := range cfg.Keywords {
		m.keywords[strings.ToLower(keyword)] = cfg.Name
	}
}

// Register adds or replaces a sub-agent profile.
func (m *Manager) Register(a *SubAgent) error {
	if a == nil || a.Name == "" {
		return fmt.Errorf("sub-agent has no name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.Name]; !ok {
		m.order = append(m.order, a.Name)
	}
	m.agents[a.Name] = a
	return nil
}

// Get returns a registered sub-agent by name.
func (m *Manager) Get(name string) (*SubAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[name]
	return a, ok
}

// Summaries lists the registered sub-agents for the planner's inventory,
// in registration order.
func (m *Manager) Summaries() []planner.AgentInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]planner.AgentInfo, 0, len(m.order))
	for _, name := range m.order {
		a := m.agents[name]
		infos = append(infos, planner.AgentInfo{Name: a.Name, Description: a.Description})
	}
	return infos
}

// Select picks the sub-agent for a task: the explicit assignment when it
// names a registered agent, else the highest-priority keyword match, else
// general-purpose.
func (m *Manager) Select(t *task.Task) *SubAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t.AssignedSubAgent != "" {
		if a, ok := m.agents[t.AssignedSubAgent]; ok {
			return a
		}
	}

	content := strings.ToLower(t.Content)
	var best *SubAgent
	var bestNames []string
	for keyword, name := range m.keywords {
		if !strings.Contains(content, keyword) {
			continue
		}
		a, ok := m.agents[name]
		if !ok {
			continue
		}
		if best == nil || a.Priority > best.Priority {
			best = a
			bestNames = []string{name}
		} else if a.Priority == best.Priority && a.Name != best.Name {
			bestNames = append(bestNames, name)
		}
	}
	if best != nil {
		// Equal-priority conflicts resolve deterministically by name.
		if len(bestNames) > 1 {
			sort.Strings(bestNames)
			best = m.agents[bestNames[0]]
		}
		return best
	}

	return m.agents[planner.GeneralPurposeAgent]
}

// Stats returns the named agent's execution statistics.
func (m *Manager) Stats(name string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stats[name]
	if !ok || s.tasksExecuted == 0 {
		return Stats{}
	}
	return Stats{
		TasksExecuted:    s.tasksExecuted,
		AvgExecutionTime: s.totalDuration / time.Duration(s.tasksExecuted),
		SuccessRate:      float64(s.successes) / float64(s.tasksExecuted),
	}
}

func (m *Manager) recordExecution(name string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[name]
	if !ok {
		s = &agentStats{}
		m.stats[name] = s
	}
	s.tasksExecuted++
	s.totalDuration += duration
	if success {
		s.successes++
	}
}
