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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/ensemble/pkg/config"
)

func anthropicTestConfig(baseURL string) *config.LLMConfig {
	return &config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		APIKey:   "sk-ant-test",
		BaseURL:  baseURL,
	}
}

func TestNewAnthropicProvider_RequiresKey(t *testing.T) {
	_, err := NewAnthropicProvider(&config.LLMConfig{Provider: config.LLMProviderAnthropic, Model: "claude-sonnet-4-20250514"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestAnthropicProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("unexpected api key header %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("unexpected version header %q", got)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.System != "You are terse." {
			t.Errorf("system not folded, got %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.MaxTokens <= 0 {
			t.Error("max_tokens is mandatory for the messages API")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":12,\"output_tokens\":0}}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi \"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"there\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	defer provider.Close()

	text, tokens, err := provider.Generate(context.Background(), []Message{
		SystemMessage("You are terse."),
		UserMessage("Say hi."),
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Hi there" {
		t.Errorf("Generate() text = %q, want %q", text, "Hi there")
	}
	if tokens != 19 {
		t.Errorf("Generate() tokens = %d, want 19 (input+output)", tokens)
	}
}

func TestAnthropicProvider_BuildRequest_Roles(t *testing.T) {
	provider, err := NewAnthropicProvider(anthropicTestConfig(""))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	req := provider.buildRequest([]Message{
		SystemMessage("rubric one"),
		SystemMessage("rubric two"),
		UserMessage("question"),
		AssistantMessage("answer"),
	}, nil)

	if req.System != "rubric one\n\nrubric two" {
		t.Errorf("system = %q, want joined rubrics", req.System)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %+v", req.Messages)
	}
	if !req.Stream {
		t.Error("requests are always streamed")
	}
}

func TestAnthropicProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "model not found"}}`)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	_, _, err = provider.Generate(context.Background(), []Message{UserMessage("hi")}, nil)
	llmErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("Generate() error = %T, want *llms.Error", err)
	}
	if llmErr.Kind != KindInvalidRequest || llmErr.Status != http.StatusBadRequest {
		t.Errorf("unexpected classification: %+v", llmErr)
	}
}
