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
	"fmt"

	"google.golang.org/genai"

	"github.com/kadirpekel/ensemble/pkg/config"
)

// GeminiProvider generates through the official google.golang.org/genai SDK.
type GeminiProvider struct {
	config *config.LLMConfig
	client *genai.Client
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider builds a provider from config.
func NewGeminiProvider(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	// Constructors should not require a context; the client performs no
	// I/O until the first call.
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, opts *Options) (string, int, error) {
	ch, err := p.GenerateStreaming(ctx, messages, opts)
	if err != nil {
		return "", 0, err
	}
	return Collect(ctx, ch)
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
	contents, genConfig := p.buildRequest(messages, opts)

	ch := make(chan StreamChunk, streamBufferSize)
	go func() {
		defer close(ch)

		var totalTokens int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, genConfig) {
			if err != nil {
				emit(ctx, ch, StreamChunk{Type: ChunkError, Err: wrapTransportError(err)})
				return
			}
			if resp.UsageMetadata != nil {
				totalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text == "" || part.Thought {
					continue
				}
				if !emit(ctx, ch, StreamChunk{Type: ChunkText, Text: part.Text}) {
					return
				}
			}
		}

		emit(ctx, ch, StreamChunk{Type: ChunkDone, Tokens: totalTokens})
	}()
	return ch, nil
}

// buildRequest converts the conversation into genai contents. System turns
// become the system instruction, assistant turns use the "model" role.
func (p *GeminiProvider) buildRequest(messages []Message, opts *Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	params := resolveParams(p.config, opts)

	var systemParts []*genai.Part
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, &genai.Part{Text: msg.Content})
			}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(params.temperature)),
	}
	if len(systemParts) > 0 {
		genConfig.SystemInstruction = &genai.Content{Parts: systemParts}
	}
	if params.maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(params.maxTokens)
	}
	if params.topP != nil {
		genConfig.TopP = genai.Ptr(float32(*params.topP))
	}
	if len(params.stop) > 0 {
		genConfig.StopSequences = params.stop
	}

	return contents, genConfig
}
