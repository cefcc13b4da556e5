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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/ensemble/pkg/config"
)

func openAITestConfig(baseURL string) *config.LLMConfig {
	return &config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test",
		BaseURL:  baseURL,
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(&config.LLMConfig{Provider: config.LLMProviderOpenAI, Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOpenAIProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected streaming request")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\", world\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5,\"total_tokens\":15}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	defer provider.Close()

	text, tokens, err := provider.Generate(context.Background(), []Message{
		SystemMessage("You are terse."),
		UserMessage("Say hello."),
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Hello, world" {
		t.Errorf("Generate() text = %q, want %q", text, "Hello, world")
	}
	if tokens != 15 {
		t.Errorf("Generate() tokens = %d, want 15", tokens)
	}
}

func TestOpenAIProvider_GenerateStreaming_ChunkOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var types []ChunkType
	var text string
	for chunk := range ch {
		types = append(types, chunk.Type)
		text += chunk.Text
	}
	if text != "ab" {
		t.Errorf("streamed text = %q, want ab", text)
	}
	if len(types) == 0 || types[len(types)-1] != ChunkDone {
		t.Errorf("stream must end with a done chunk, got %v", types)
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	_, _, err = provider.Generate(context.Background(), []Message{UserMessage("hi")}, nil)
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Generate() error = %v, want *llms.Error", err)
	}
	if llmErr.Kind != KindInvalidRequest {
		t.Errorf("error kind = %s, want %s", llmErr.Kind, KindInvalidRequest)
	}
	if llmErr.Status != http.StatusUnauthorized {
		t.Errorf("error status = %d, want 401", llmErr.Status)
	}
	if llmErr.Message != "invalid api key" {
		t.Errorf("error message = %q, want provider message", llmErr.Message)
	}
}

func TestOpenAIProvider_BuildRequest_Options(t *testing.T) {
	provider, err := NewOpenAIProvider(&config.LLMConfig{
		Provider:    config.LLMProviderOpenAI,
		Model:       "gpt-4o",
		APIKey:      "sk-test",
		Temperature: config.Float64Ptr(0.3),
		MaxTokens:   4096,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	req := provider.buildRequest([]Message{UserMessage("hi")}, &Options{
		Temperature: config.Float64Ptr(1.1),
		MaxTokens:   256,
		Stop:        []string{"DONE"},
	})

	if req.Temperature != 1.1 {
		t.Errorf("temperature = %v, want 1.1", req.Temperature)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 256 {
		t.Errorf("max tokens = %v, want 256", req.MaxTokens)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "DONE" {
		t.Errorf("stop = %v, want [DONE]", req.Stop)
	}
	if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
		t.Error("usage reporting must be requested for streams")
	}
}
