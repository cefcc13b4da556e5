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
	"encoding/json"
	"strings"

	"github.com/kadirpekel/ensemble/pkg/task"
)

// GeneralPurposeAgent is the assignment every fallback path routes to.
const GeneralPurposeAgent = "general-purpose"

// FallbackTaskContent is the single task produced when nothing of the
// model's output could be salvaged.
const FallbackTaskContent = "Process user request"

// ExtractJSON pulls the most plausible JSON payload out of model output:
// the first fenced code block if one exists, otherwise the outermost
// object literal. The boolean reports whether anything was found.
func ExtractJSON(raw string) (string, bool) {
	if block, ok := fencedBlock(raw); ok {
		return block, true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], true
	}
	return "", false
}

// fencedBlock returns the contents of the first ``` fence, stripping an
// optional language tag.
func fencedBlock(raw string) (string, bool) {
	open := strings.Index(raw, "```")
	if open < 0 {
		return "", false
	}
	rest := raw[open+3:]
	if newline := strings.Index(rest, "\n"); newline >= 0 {
		// The fence line may carry a language tag ("json").
		rest = rest[newline+1:]
	}
	closing := strings.Index(rest, "```")
	if closing < 0 {
		return "", false
	}
	block := strings.TrimSpace(rest[:closing])
	if block == "" {
		return "", false
	}
	return block, true
}

// ParsePlan turns raw model output into a Plan. Parse precedence: fenced
// JSON block, whole-payload JSON, key/value text scraping, and finally the
// one-task fallback plan. It never fails and never panics; the worst input
// still yields an executable plan.
func ParsePlan(raw string) *task.Plan {
	if block, ok := fencedBlock(raw); ok {
		if plan, ok := decodePlan(block); ok {
			return plan
		}
	}
	if payload, ok := wholePayload(raw); ok {
		if plan, ok := decodePlan(payload); ok {
			return plan
		}
	}
	if plan, ok := scrapePlan(raw); ok {
		return plan
	}
	return FallbackPlan()
}

// FallbackPlan is the plan of last resort: one general-purpose task.
func FallbackPlan() *task.Plan {
	t := task.New(FallbackTaskContent)
	t.AssignedSubAgent = GeneralPurposeAgent
	return &task.Plan{
		NeedsPlanning: true,
		Reason:        "planner output could not be parsed",
		Tasks:         []*task.Task{t},
	}
}

// DegradedPlan short-circuits planning entirely: the whole request becomes
// a direct action for the general-purpose agent.
func DegradedPlan(request string) *task.Plan {
	return &task.Plan{
		NeedsPlanning: false,
		DirectAction:  request,
		Reason:        "planning degraded",
	}
}

func wholePayload(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// decodePlan unmarshals and sanity-checks one candidate payload. A plan
// claiming needsPlanning with no tasks is rejected so the next stage gets
// a chance.
func decodePlan(payload string) (*task.Plan, bool) {
	var plan task.Plan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, false
	}
	if plan.NeedsPlanning && len(plan.Tasks) == 0 {
		return nil, false
	}
	if !plan.NeedsPlanning && plan.DirectAction == "" {
		return nil, false
	}
	return &plan, true
}

// scrapePlan scans free text for the planner's fixed key set. A recognised
// "no planning" answer becomes a direct action; any recognised analysis
// becomes a one-task plan.
func scrapePlan(raw string) (*task.Plan, bool) {
	var (
		found         bool
		needsPlanning = true
		directAction  string
		analysis      string
	)
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), `",`))
		switch strings.ToLower(strings.TrimSpace(strings.Trim(key, `"*- `))) {
		case "needsplanning":
			needsPlanning = !strings.EqualFold(value, "false")
			found = true
		case "directaction":
			directAction = value
			found = true
		case "analysis":
			analysis = value
			found = true
		}
	}
	if !found {
		return nil, false
	}

	if !needsPlanning && directAction != "" {
		return &task.Plan{NeedsPlanning: false, DirectAction: directAction, Analysis: analysis}, true
	}

	content := analysis
	if content == "" {
		content = FallbackTaskContent
	}
	t := task.New(content)
	t.AssignedSubAgent = GeneralPurposeAgent
	return &task.Plan{
		NeedsPlanning: true,
		Analysis:      analysis,
		Tasks:         []*task.Task{t},
	}, true
}
