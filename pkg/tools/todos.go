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

	"github.com/kadirpekel/ensemble/pkg/task"
)

// WriteTodosTool maintains the session's todo list. The planner mirrors
// its plan through this tool, and sub-agents update statuses as work
// progresses.
type WriteTodosTool struct {
	definition Definition
}

var _ Tool = (*WriteTodosTool)(nil)

type writeTodosArgs struct {
	Todos []todoArg `json:"todos" jsonschema:"description=Todo items to write"`
	Merge bool      `json:"merge,omitempty" jsonschema:"description=Merge with existing todos by id instead of replacing the whole list"`
}

type todoArg struct {
	ID           string   `json:"id,omitempty"`
	Content      string   `json:"content"`
	Priority     string   `json:"priority,omitempty" jsonschema:"enum=high,enum=medium,enum=low"`
	Status       string   `json:"status,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// NewWriteTodosTool constructs the write_todos built-in.
func NewWriteTodosTool() *WriteTodosTool {
	return &WriteTodosTool{
		definition: Definition{
			Name:        "write_todos",
			Description: "Create or update the session todo list. With merge=true, items are matched by id and updated in place; otherwise the list is replaced.",
			Parameters:  schemaFor(&writeTodosArgs{}),
			Category:    "session",
		},
	}
}

func (t *WriteTodosTool) Definition() Definition {
	return t.definition
}

func (t *WriteTodosTool) Execute(_ context.Context, params map[string]any, tctx *ToolContext) (any, error) {
	if tctx == nil || tctx.Session == nil {
		return nil, fmt.Errorf("no active session")
	}

	rawTodos, ok := params["todos"]
	if !ok {
		return nil, fmt.Errorf("todos is required")
	}

	// Round-trip through JSON so both typed and decoded-map payloads land
	// on the same task struct.
	encoded, err := json.Marshal(rawTodos)
	if err != nil {
		return nil, fmt.Errorf("encoding todos: %w", err)
	}
	var incoming []*task.Task
	if err := json.Unmarshal(encoded, &incoming); err != nil {
		return nil, fmt.Errorf("todos must be an array of todo objects: %w", err)
	}
	for i, item := range incoming {
		if item == nil || item.Content == "" {
			return nil, fmt.Errorf("todo %d has no content", i)
		}
	}

	merge, _ := params["merge"].(bool)

	sess := tctx.Session
	if merge {
		byID := task.ByID(sess.Todos)
		for _, item := range incoming {
			existing, ok := byID[item.ID]
			if !ok {
				normalizeIncoming(item)
				sess.Todos = append(sess.Todos, item)
				continue
			}
			existing.Content = item.Content
			if item.Priority.Valid() {
				existing.Priority = item.Priority
			}
			if item.Status != "" && item.Status != existing.Status {
				if err := existing.Transition(item.Status); err != nil {
					return nil, err
				}
			}
			if item.Dependencies != nil {
				existing.Dependencies = item.Dependencies
			}
		}
	} else {
		for _, item := range incoming {
			normalizeIncoming(item)
		}
		sess.Todos = incoming
	}

	return map[string]any{
		"count":     len(sess.Todos),
		"completed": sess.TodosCompleted(),
	}, nil
}

// normalizeIncoming fills defaults but keeps a status the caller set
// explicitly, so a replace can carry completed items across.
func normalizeIncoming(t *task.Task) {
	status := t.Status
	t.Normalize()
	switch status {
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled,
		task.StatusInProgress, task.StatusBlocked:
		t.Status = status
	}
}
