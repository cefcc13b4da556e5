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

// Package llms provides the language model provider contract and the
// OpenAI, Anthropic and Gemini implementations. Providers stream tokens
// through a bounded channel; Generate is the drained form of the stream.
package llms

import (
	"context"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Options override the provider's configured generation parameters for a
// single call. Nil pointers leave the configured value in place; a nil
// *Options uses the configuration as is.
type Options struct {
	Temperature      *float64
	MaxTokens        int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkDone  ChunkType = "done"
	ChunkError ChunkType = "error"
)

// StreamChunk is one unit of streamed output. A stream is a sequence of
// text chunks terminated by exactly one done or error chunk, after which
// the channel is closed.
type StreamChunk struct {
	Type   ChunkType
	Text   string
	Tokens int
	Err    error
}

// streamBufferSize bounds the producer/consumer gap so a stalled consumer
// applies backpressure instead of growing memory.
const streamBufferSize = 100

// Provider generates text from a conversation.
type Provider interface {
	// Generate returns the full response text and the total tokens used.
	Generate(ctx context.Context, messages []Message, opts *Options) (string, int, error)

	// GenerateStreaming returns a channel of chunks. The producer always
	// closes the channel; canceling ctx ends the stream.
	GenerateStreaming(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error)

	// ModelName reports the configured model.
	ModelName() string

	// Close releases provider resources.
	Close() error
}

// Collect drains a stream into the concatenated text and token count,
// returning the first error chunk if any. Cancellation surfaces as the
// context's error.
func Collect(ctx context.Context, ch <-chan StreamChunk) (string, int, error) {
	var sb strings.Builder
	var tokens int
	for {
		select {
		case <-ctx.Done():
			return sb.String(), tokens, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), tokens, nil
			}
			switch chunk.Type {
			case ChunkText:
				sb.WriteString(chunk.Text)
			case ChunkDone:
				tokens = chunk.Tokens
			case ChunkError:
				return sb.String(), tokens, chunk.Err
			}
		}
	}
}
