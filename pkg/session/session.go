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

// Package session carries the per-request working state threaded through
// planning and sub-agent execution, and a Service that persists completed
// turns so multi-turn context survives the process.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/task"
)

// MemorySnapshot is the recalled context loaded at the start of a session.
type MemorySnapshot struct {
	ShortTerm   []*memory.Memory `json:"shortTerm,omitempty"`
	LongTerm    []*memory.Memory `json:"longTerm,omitempty"`
	Preferences []*memory.Memory `json:"preferences,omitempty"`
	Related     []*memory.Memory `json:"related,omitempty"`
}

// PlanMetadata carries the planner's reasoning alongside the task list.
type PlanMetadata struct {
	Analysis          string `json:"analysis,omitempty"`
	ExecutionStrategy string `json:"executionStrategy,omitempty"`
	RiskAssessment    string `json:"riskAssessment,omitempty"`
	Degraded          bool   `json:"degraded,omitempty"`
}

// SubAgentRun records one dispatched task.
type SubAgentRun struct {
	TaskID    string    `json:"taskId"`
	AgentName string    `json:"agentName"`
	Result    any       `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the terminal outcome of a session, returned to the caller.
type Result struct {
	Success        bool          `json:"success"`
	Response       string        `json:"response,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	MemoriesStored int           `json:"memoriesStored"`
	SubAgentsUsed  []string      `json:"subAgentsUsed,omitempty"`
	TodosCompleted int           `json:"todosCompleted"`
	Files          []string      `json:"files,omitempty"`
}

// Session is the working state of one request. The orchestrator owns it;
// sub-agents append their runs through the mutex-guarded methods so
// concurrent dispatch stays safe.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Request      string            `json:"request"`
	Files        map[string][]byte `json:"-"`
	Memories     MemorySnapshot    `json:"memories"`
	Todos        []*task.Task      `json:"todos,omitempty"`
	PlanMetadata PlanMetadata      `json:"planMetadata"`
	DirectAction string            `json:"directAction,omitempty"`
	Response     string            `json:"response,omitempty"`
	StartTime    time.Time         `json:"startTime"`
	FinalResult  *Result           `json:"finalResult,omitempty"`

	mu              sync.Mutex
	subAgentResults []SubAgentRun
}

// New starts a session for one request. A fresh id is assigned when none
// is given, so multi-turn callers can pin their own session ids.
func New(id, userID, request string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		Request:   request,
		Files:     make(map[string][]byte),
		StartTime: time.Now(),
	}
}

// RecordSubAgentRun appends one dispatched task's outcome.
func (s *Session) RecordSubAgentRun(run SubAgentRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	s.subAgentResults = append(s.subAgentResults, run)
}

// SubAgentResults returns a copy of the recorded runs in dispatch order.
func (s *Session) SubAgentResults() []SubAgentRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubAgentRun(nil), s.subAgentResults...)
}

// SubAgentsUsed returns the distinct agent names in first-use order.
func (s *Session) SubAgentsUsed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	for _, run := range s.subAgentResults {
		if !seen[run.AgentName] {
			seen[run.AgentName] = true
			names = append(names, run.AgentName)
		}
	}
	return names
}

// TodosCompleted counts tasks that reached the completed status.
func (s *Session) TodosCompleted() int {
	n := 0
	for _, t := range s.Todos {
		if t.Status == task.StatusCompleted {
			n++
		}
	}
	return n
}

// FileNames lists the session's file inventory.
func (s *Session) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for name := range s.Files {
		names = append(names, name)
	}
	return names
}

// Elapsed is the time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}
