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

package task

import (
	"fmt"
)

// Plan is the planning agent's output: either a direct action that bypasses
// task decomposition, or an analysed, dependency-ordered task list.
type Plan struct {
	NeedsPlanning     bool    `json:"needsPlanning"`
	DirectAction      string  `json:"directAction,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Analysis          string  `json:"analysis,omitempty"`
	Tasks             []*Task `json:"tasks,omitempty"`
	ExecutionStrategy string  `json:"executionStrategy,omitempty"`
	RiskAssessment    string  `json:"riskAssessment,omitempty"`
}

// Normalize prepares every task for execution and orders them so that
// dependencies come first. A plan that cannot be ordered (cycle, empty task
// list) is returned as an error; callers substitute their fallback plan.
func (p *Plan) Normalize() error {
	if !p.NeedsPlanning {
		p.Tasks = nil
		return nil
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan: needsPlanning is set but no tasks were produced")
	}
	for _, t := range p.Tasks {
		t.Normalize()
	}
	sorted, err := TopoSort(p.Tasks)
	if err != nil {
		return err
	}
	p.Tasks = sorted
	return nil
}

// TopoSort orders tasks so every task appears after its dependencies,
// using Kahn's algorithm. Ties preserve the declared order. Unknown
// dependency ids are ignored (the task can still run); a cycle is an error.
func TopoSort(tasks []*Task) ([]*Task, error) {
	byID := ByID(tasks)

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		indegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			if _, known := byID[dep]; !known {
				continue
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	// Queue seeded in declared order so the sort is stable.
	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	sorted := make([]*Task, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(tasks) {
		return nil, fmt.Errorf("plan: dependency cycle among %d of %d tasks", len(tasks)-len(sorted), len(tasks))
	}
	return sorted, nil
}
