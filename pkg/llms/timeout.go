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
	"time"
)

// WithCallTimeout decorates a provider so every call carries its own
// deadline on top of whatever the caller's context imposes. A zero timeout
// returns the provider unchanged.
func WithCallTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{inner: p, timeout: d}
}

type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

var _ Provider = (*timeoutProvider)(nil)

func (p *timeoutProvider) Generate(ctx context.Context, messages []Message, opts *Options) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.inner.Generate(ctx, messages, opts)
}

// GenerateStreaming holds the deadline open until the inner stream is
// drained, then releases it. When the caller cancels or the deadline
// fires, the forwarder stops sending, drains the inner stream so its
// producer can finish, and discards the partial output.
func (p *timeoutProvider) GenerateStreaming(ctx context.Context, messages []Message, opts *Options) (<-chan StreamChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	stream, err := p.inner.GenerateStreaming(ctx, messages, opts)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan StreamChunk, streamBufferSize)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range stream {
			select {
			case out <- chunk:
			case <-ctx.Done():
				for range stream {
				}
				return
			}
		}
	}()
	return out, nil
}

func (p *timeoutProvider) ModelName() string { return p.inner.ModelName() }

func (p *timeoutProvider) Close() error { return p.inner.Close() }
