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

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/planner"
	"github.com/kadirpekel/ensemble/pkg/utils"
)

const extractorRubric = `You extract durable memories about the user from one completed exchange.
Look for stable facts, stated preferences and recurring interests. Ignore
anything that only matters within this conversation.

Respond with a single JSON object:
{"memories": [{"type": "fact|preference|interest", "content": "<one self-contained sentence>", "importance": 0.0-1.0}]}
Return {"memories": []} when nothing is worth keeping.`

// ExtractedMemory is one candidate long-term entry produced by the rubric.
type ExtractedMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// Kind maps the rubric's type vocabulary onto memory kinds. Unknown types
// land as extracted facts rather than being dropped.
func (e ExtractedMemory) Kind() memory.Kind {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case "fact":
		return memory.KindFact
	case "preference":
		return memory.KindPreference
	case "interest":
		return memory.KindInterest
	default:
		return memory.KindExtractedFact
	}
}

// ClampedImportance bounds the model-reported importance to [0, 1].
func (e ExtractedMemory) ClampedImportance() float64 {
	switch {
	case e.Importance < 0:
		return 0
	case e.Importance > 1:
		return 1
	default:
		return e.Importance
	}
}

// Extractor prompts the LLM with the extraction rubric after each request.
type Extractor struct {
	provider llms.Provider
	opts     *llms.Options
}

// NewExtractor builds an extractor over the given provider.
func NewExtractor(provider llms.Provider, opts *llms.Options) *Extractor {
	return &Extractor{provider: provider, opts: opts}
}

// Extract returns the long-term memory candidates for one exchange. An
// unparseable model response yields no memories and no error.
func (e *Extractor) Extract(ctx context.Context, request, response string) ([]ExtractedMemory, error) {
	messages := []llms.Message{
		llms.SystemMessage(extractorRubric),
		llms.UserMessage(fmt.Sprintf("Request:\n%s\n\nResponse:\n%s",
			utils.Truncate(request, 2000), utils.Truncate(response, 4000))),
	}

	stream, err := e.provider.GenerateStreaming(ctx, messages, e.opts)
	if err != nil {
		return nil, err
	}
	raw, _, err := llms.Collect(ctx, stream)
	if err != nil {
		return nil, err
	}

	payload, ok := planner.ExtractJSON(raw)
	if !ok {
		return nil, nil
	}
	var out struct {
		Memories []ExtractedMemory `json:"memories"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, nil
	}

	entries := out.Memories[:0]
	for _, entry := range out.Memories {
		if strings.TrimSpace(entry.Content) == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
