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

package llms

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/ensemble/pkg/config"
)

// genParams are the generation parameters after per-call options have been
// layered over the provider configuration.
type genParams struct {
	temperature      float64
	maxTokens        int
	topP             *float64
	frequencyPenalty *float64
	presencePenalty  *float64
	stop             []string
}

func resolveParams(cfg *config.LLMConfig, opts *Options) genParams {
	p := genParams{
		temperature:      0.7,
		maxTokens:        cfg.MaxTokens,
		topP:             cfg.TopP,
		frequencyPenalty: cfg.FrequencyPenalty,
		presencePenalty:  cfg.PresencePenalty,
		stop:             cfg.Stop,
	}
	if cfg.Temperature != nil {
		p.temperature = *cfg.Temperature
	}

	if opts == nil {
		return p
	}
	if opts.Temperature != nil {
		p.temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		p.maxTokens = opts.MaxTokens
	}
	if opts.TopP != nil {
		p.topP = opts.TopP
	}
	if opts.FrequencyPenalty != nil {
		p.frequencyPenalty = opts.FrequencyPenalty
	}
	if opts.PresencePenalty != nil {
		p.presencePenalty = opts.PresencePenalty
	}
	if len(opts.Stop) > 0 {
		p.stop = opts.Stop
	}
	return p
}

// emit sends a chunk unless the context is done. Returns false when the
// consumer is gone and the producer should stop.
func emit(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// apiErrorMessage extracts the error message from a provider error body of
// the form {"error": {"message": ...}}. Falls back to the raw body.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}
