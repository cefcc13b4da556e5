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

package utils

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTokenCounter_Count(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}

	short := counter.Count("hello")
	long := counter.Count("hello world, this is a longer sentence with more tokens in it")

	if short <= 0 {
		t.Errorf("Count(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Errorf("Count(long) = %d, want > Count(short) = %d", long, short)
	}
}

func TestTokenCounter_UnknownModelFallsBack(t *testing.T) {
	counter, err := NewTokenCounter("totally-made-up-model")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}
	if got := counter.Count("some text"); got <= 0 {
		t.Errorf("Count() = %d, want > 0", got)
	}
}

func TestTokenCounter_CountMessages(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}

	messages := []Message{
		{Role: "user", Content: "What is the weather today?"},
		{Role: "assistant", Content: "I cannot check the weather."},
	}

	total := counter.CountMessages(messages)
	contentOnly := counter.Count(messages[0].Content) + counter.Count(messages[1].Content)

	// Framing overhead means the transcript counts more than the raw content.
	if total <= contentOnly {
		t.Errorf("CountMessages() = %d, want > %d", total, contentOnly)
	}
}

func TestTokenCounter_FitWithinLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}

	messages := []Message{
		{Role: "user", Content: strings.Repeat("old message content ", 50)},
		{Role: "assistant", Content: strings.Repeat("middle response ", 50)},
		{Role: "user", Content: "latest question"},
	}

	lastTokens := counter.CountMessages(messages[2:])

	fitted := counter.FitWithinLimit(messages, lastTokens+5)
	if len(fitted) != 1 {
		t.Fatalf("FitWithinLimit() kept %d messages, want 1", len(fitted))
	}
	if fitted[0].Content != "latest question" {
		t.Errorf("FitWithinLimit() kept %q, want most recent message", fitted[0].Content)
	}

	all := counter.FitWithinLimit(messages, 100000)
	if len(all) != 3 {
		t.Errorf("FitWithinLimit() with large budget kept %d messages, want 3", len(all))
	}
}

func TestTokenCounter_NilSafe(t *testing.T) {
	var counter *TokenCounter
	if got := counter.Count("12345678"); got != 2 {
		t.Errorf("nil counter Count() = %d, want estimate 2", got)
	}
	if counter.Model() != "" {
		t.Errorf("nil counter Model() = %q, want empty", counter.Model())
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("EstimateTokens() = %d, want 2", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d, want 0", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "he"},
		{"zero max", "hello", 0, ""},
		{"multibyte runes", "héllo wörld", 8, "héllo..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.text, tt.max); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	got := Snippet("  line one\n\tline   two  ", 50)
	if got != "line one line two" {
		t.Errorf("Snippet() = %q, want %q", got, "line one line two")
	}
}

func TestEnsureDataDir(t *testing.T) {
	base := t.TempDir()

	dir, err := EnsureDataDir(base)
	if err != nil {
		t.Fatalf("EnsureDataDir() error = %v", err)
	}
	if dir != filepath.Join(base, ".ensemble") {
		t.Errorf("EnsureDataDir() = %q, want %q", dir, filepath.Join(base, ".ensemble"))
	}

	// Idempotent.
	if _, err := EnsureDataDir(base); err != nil {
		t.Errorf("EnsureDataDir() second call error = %v", err)
	}
}
