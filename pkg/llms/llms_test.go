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
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"
)

func TestCollect(t *testing.T) {
	ch := make(chan StreamChunk, 4)
	ch <- StreamChunk{Type: ChunkText, Text: "Hello"}
	ch <- StreamChunk{Type: ChunkText, Text: ", world"}
	ch <- StreamChunk{Type: ChunkDone, Tokens: 42}
	close(ch)

	text, tokens, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "Hello, world" {
		t.Errorf("Collect() text = %q, want %q", text, "Hello, world")
	}
	if tokens != 42 {
		t.Errorf("Collect() tokens = %d, want 42", tokens)
	}
}

func TestCollect_ErrorChunk(t *testing.T) {
	wantErr := &Error{Kind: KindTransport, Message: "boom"}
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Type: ChunkText, Text: "partial"}
	ch <- StreamChunk{Type: ChunkError, Err: wantErr}
	close(ch)

	text, _, err := Collect(context.Background(), ch)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Collect() error = %v, want %v", err, wantErr)
	}
	if text != "partial" {
		t.Errorf("Collect() text = %q, want partial output preserved", text)
	}
}

func TestCollect_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan StreamChunk) // never written, never closed
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := Collect(ctx, ch)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Collect() error = %v, want context.Canceled", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Collect did not return after cancellation")
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusBadRequest, KindInvalidRequest},
		{http.StatusUnauthorized, KindInvalidRequest},
		{http.StatusInternalServerError, KindTransport},
		{http.StatusBadGateway, KindTransport},
	}
	for _, tt := range tests {
		if got := kindForStatus(tt.status); got != tt.want {
			t.Errorf("kindForStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestWrapTransportError(t *testing.T) {
	err := wrapTransportError(context.DeadlineExceeded)
	if err.Kind != KindTimeout {
		t.Errorf("deadline error kind = %s, want %s", err.Kind, KindTimeout)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("wrapped error must unwrap to the cause")
	}

	err = wrapTransportError(errors.New("connection refused"))
	if err.Kind != KindTransport {
		t.Errorf("generic error kind = %s, want %s", err.Kind, KindTransport)
	}
}

func TestResolveParams(t *testing.T) {
	cfg := &config.LLMConfig{
		Temperature: config.Float64Ptr(0.2),
		MaxTokens:   2048,
		Stop:        []string{"END"},
	}

	got := resolveParams(cfg, nil)
	if got.temperature != 0.2 || got.maxTokens != 2048 {
		t.Errorf("config params not applied: %+v", got)
	}

	got = resolveParams(cfg, &Options{
		Temperature: config.Float64Ptr(0.9),
		MaxTokens:   512,
		Stop:        []string{"STOP"},
	})
	if got.temperature != 0.9 {
		t.Errorf("option temperature not applied, got %v", got.temperature)
	}
	if got.maxTokens != 512 {
		t.Errorf("option max tokens not applied, got %d", got.maxTokens)
	}
	if len(got.stop) != 1 || got.stop[0] != "STOP" {
		t.Errorf("option stop not applied, got %v", got.stop)
	}
}

func TestNewFromConfig_Unsupported(t *testing.T) {
	_, err := NewFromConfig(&config.LLMConfig{Provider: "mistral", APIKey: "k"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestRegistry_CreateFromConfig(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	provider, err := r.CreateFromConfig("primary", &config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test",
	})
	if err != nil {
		t.Fatalf("CreateFromConfig() error = %v", err)
	}
	if provider.ModelName() != "gpt-4o" {
		t.Errorf("ModelName() = %q, want gpt-4o", provider.ModelName())
	}

	got, ok := r.Get("primary")
	if !ok || got != provider {
		t.Error("provider not registered under its name")
	}

	if _, err := r.CreateFromConfig("primary", &config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test",
	}); err == nil {
		t.Error("expected duplicate name error")
	}
}
