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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat completions API. Any OpenAI-compatible
// endpoint (Ollama, vLLM, OpenRouter) works through BaseURL.
type OpenAIProvider struct {
	config  *config.LLMConfig
	client  *httpclient.Client
	baseURL string
}

var _ Provider = (*OpenAIProvider)(nil)

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Temperature      float64         `json:"temperature"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Stream           bool            `json:"stream"`
	StreamOptions    *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

type openAIStreamChoice struct {
	Delta struct {
		Content string `json:"content,omitempty"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewOpenAIProvider builds a provider from config.
func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &OpenAIProvider{
		config:  cfg,
		baseURL: baseURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, opts *Options) (string, int, error) {
	ch, err := p.GenerateStreaming(ctx, messages, opts)
	if err != nil {
		return "", 0, err
	}
	return Collect(ctx, ch)
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
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

func (p *OpenAIProvider) buildRequest(messages []Message, opts *Options) openAIRequest {
	params := resolveParams(p.config, opts)

	reqMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		reqMessages = append(reqMessages, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := openAIRequest{
		Model:            p.config.Model,
		Messages:         reqMessages,
		Temperature:      params.temperature,
		TopP:             params.topP,
		FrequencyPenalty: params.frequencyPenalty,
		PresencePenalty:  params.presencePenalty,
		Stop:             params.stop,
		Stream:           true,
		StreamOptions:    &streamOptions{IncludeUsage: true},
	}
	if params.maxTokens > 0 {
		req.MaxTokens = &params.maxTokens
	}
	return req
}

func (p *OpenAIProvider) stream(ctx context.Context, body []byte, ch chan<- StreamChunk) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Message: err.Error(), Err: err}
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

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

	var totalTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openAIStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("malformed stream chunk: %v", err), Err: err}
		}

		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !emit(ctx, ch, StreamChunk{Type: ChunkText, Text: choice.Delta.Content}) {
					return ctx.Err()
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return wrapTransportError(err)
	}

	emit(ctx, ch, StreamChunk{Type: ChunkDone, Tokens: totalTokens})
	return nil
}
