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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/httpclient"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	config  *config.LLMConfig
	client  *httpclient.Client
	baseURL string
}

var _ Provider = (*AnthropicProvider)(nil)

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
	System        string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamEvent struct {
	Type    string                 `json:"type"`
	Delta   *anthropicDelta        `json:"delta,omitempty"`
	Message *anthropicMessageStart `json:"message,omitempty"`
	Usage   *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicMessageStart struct {
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider builds a provider from config.
func NewAnthropicProvider(cfg *config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &AnthropicProvider{
		config:  cfg,
		baseURL: baseURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, opts *Options) (string, int, error) {
	ch, err := p.GenerateStreaming(ctx, messages, opts)
	if err != nil {
		return "", 0, err
	}
	return Collect(ctx, ch)
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, opts))
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("failed to marshal request: %v", err), Err: err}
	}

	ch := make(chan StreamChunk, streamBufferSize)
	go func() {
		defer close(ch)
		if err := p.stream(ctx, body, ch); err != nil {
			emit(ctx, ch, StreamChunk{Type: ChunkError, Err: err})
		}
	}()
	return ch, nil
}

// buildRequest folds system-role messages into the top-level system field;
// the messages API only accepts user and assistant turns.
func (p *AnthropicProvider) buildRequest(messages []Message, opts *Options) anthropicRequest {
	params := resolveParams(p.config, opts)

	var systemParts []string
	reqMessages := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case RoleAssistant:
			reqMessages = append(reqMessages, anthropicMessage{Role: "assistant", Content: msg.Content})
		default:
			reqMessages = append(reqMessages, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	maxTokens := params.maxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return anthropicRequest{
		Model:         p.config.Model,
		Messages:      reqMessages,
		MaxTokens:     maxTokens,
		Temperature:   params.temperature,
		TopP:          params.topP,
		StopSequences: params.stop,
		Stream:        true,
		System:        strings.Join(systemParts, "\n\n"),
	}
}

func (p *AnthropicProvider) stream(ctx context.Context, body []byte, ch chan<- StreamChunk) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Message: err.Error(), Err: err}
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(resp.Body)
			return newStatusError(resp.StatusCode, apiErrorMessage(errBody))
		}
	}
	if err != nil {
		return wrapTransportError(err)
	}

	var inputTokens, outputTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("malformed stream event: %v", err), Err: err}
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				inputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				if !emit(ctx, ch, StreamChunk{Type: ChunkText, Text: event.Delta.Text}) {
					return ctx.Err()
				}
			}
		case "message_delta":
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			emit(ctx, ch, StreamChunk{Type: ChunkDone, Tokens: inputTokens + outputTokens})
			return nil
		case "error":
			return &Error{Kind: KindTransport, Message: payload}
		}
	}
	if err := scanner.Err(); err != nil {
		return wrapTransportError(err)
	}

	emit(ctx, ch, StreamChunk{Type: ChunkDone, Tokens: inputTokens + outputTokens})
	return nil
}
