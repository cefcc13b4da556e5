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

// Package task defines the unit of work produced by planning and executed
// by sub-agents: the Task status machine and the Plan that orders tasks by
// their dependencies.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks of equal readiness.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a recognised priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status is the task's position in its lifecycle.
type Status string

const (
	// StatusPending means the task has not started.
	StatusPending Status = "pending"

	// StatusInProgress means a sub-agent is executing the task. At most one
	// task per session holds this status at a time.
	StatusInProgress Status = "in_progress"

	// StatusCompleted means the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed means the task finished unsuccessfully.
	StatusFailed Status = "failed"

	// StatusBlocked means the task is parked behind unmet dependencies.
	StatusBlocked Status = "blocked"

	// StatusCancelled means the task will never run.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the allowed status graph. Cancellation from any
// non-terminal status is handled separately in Transition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusBlocked},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusBlocked:    {StatusPending},
}

// Task is one unit of work within a session.
type Task struct {
	ID                string   `json:"id"`
	Content           string   `json:"content"`
	Priority          Priority `json:"priority,omitempty"`
	Status            Status   `json:"status,omitempty"`
	AssignedSubAgent  string   `json:"assignedSubAgent,omitempty"`
	RequiredTools     []string `json:"requiredTools,omitempty"`
	Dependencies      []string `json:"dependencies,omitempty"`
	SuccessCriteria   string   `json:"successCriteria,omitempty"`
	EstimatedDuration string   `json:"estimatedDuration,omitempty"`

	// Result holds the sub-agent outcome once the task is terminal.
	Result any `json:"result,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// New creates a pending task.
func New(content string) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.New().String(),
		Content:   content,
		Priority:  PriorityMedium,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Normalize fills the fields a model-produced task may omit so the task
// satisfies the lifecycle contract: a stable id, pending status, a valid
// priority and creation timestamps.
func (t *Task) Normalize() {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityMedium
	}
	t.Status = StatusPending
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// Transition moves the task to status, enforcing the lifecycle graph:
// pending → in_progress → completed or failed, blocked and pending swap
// freely, and any non-terminal status may be cancelled.
func (t *Task) Transition(to Status) error {
	if to == StatusCancelled {
		if t.Status.IsTerminal() {
			return fmt.Errorf("task %s: cannot cancel %s task", t.ID, t.Status)
		}
		t.Status = StatusCancelled
		t.UpdatedAt = time.Now()
		return nil
	}
	for _, allowed := range transitions[t.Status] {
		if allowed == to {
			t.Status = to
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("task %s: invalid transition %s -> %s", t.ID, t.Status, to)
}

// Ready reports whether the task is pending with every dependency completed.
// Dependencies missing from byID never become ready.
func (t *Task) Ready(byID map[string]*Task) bool {
	if t.Status != StatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		d, ok := byID[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ByID indexes tasks for dependency lookups. Tasks without an id are
// skipped.
func ByID(tasks []*Task) map[string]*Task {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t.ID != "" {
			byID[t.ID] = t
		}
	}
	return byID
}

// CountInProgress returns how many tasks are currently executing.
func CountInProgress(tasks []*Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == StatusInProgress {
			n++
		}
	}
	return n
}
