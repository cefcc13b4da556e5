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

package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.Deadlines.Request != 5*time.Minute {
		t.Errorf("expected 5m request deadline, got %v", cfg.Deadlines.Request)
	}
	if cfg.Deadlines.LLM != 30*time.Second || cfg.Deadlines.Tool != 30*time.Second {
		t.Errorf("expected 30s llm/tool deadlines, got %v/%v", cfg.Deadlines.LLM, cfg.Deadlines.Tool)
	}
	if cfg.Memory.ShortTermRetention != 24*time.Hour {
		t.Errorf("expected 24h retention, got %v", cfg.Memory.ShortTermRetention)
	}
	if cfg.Memory.MaxShortTerm != 100 || cfg.Memory.MaxLongTerm != 10000 {
		t.Errorf("unexpected memory caps: %d/%d", cfg.Memory.MaxShortTerm, cfg.Memory.MaxLongTerm)
	}
	if cfg.Fallback.Retry.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Fallback.Retry.MaxRetries)
	}
	if cfg.Fallback.Breaker.FailureThreshold != 5 {
		t.Errorf("expected breaker threshold 5, got %d", cfg.Fallback.Breaker.FailureThreshold)
	}
	if !cfg.Fallback.DegradedEnabled() {
		t.Error("expected degraded mode enabled by default")
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Vector.Enabled {
		t.Error("expected vector index disabled by default")
	}
	if cfg.Vector.Provider != "chromem" {
		t.Errorf("expected chromem provider, got %s", cfg.Vector.Provider)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("unexpected server address: %s", cfg.Server.Address())
	}
	if !cfg.Server.Auth.IsExcluded("/healthz") || !cfg.Server.Auth.IsExcluded("/metrics") {
		t.Error("expected health and metrics excluded from auth by default")
	}
	if cfg.Server.Auth.IsExcluded("/v1/requests") {
		t.Error("request endpoint must not bypass auth")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLLMConfig_Detection(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	var cfg LLMConfig
	cfg.SetDefaults()

	if cfg.Provider != LLMProviderOpenAI {
		t.Errorf("expected openai detection, got %s", cfg.Provider)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected gpt-4o default, got %s", cfg.Model)
	}
	if cfg.APIKey != "sk-openai" {
		t.Errorf("expected key from env, got %q", cfg.APIKey)
	}
}

func TestLLMConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LLMConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg:  LLMConfig{Provider: LLMProviderAnthropic, APIKey: "k"},
		},
		{
			name:    "missing key",
			cfg:     LLMConfig{Provider: LLMProviderAnthropic},
			wantErr: "api_key",
		},
		{
			name:    "bad provider",
			cfg:     LLMConfig{Provider: "ollama", APIKey: "k"},
			wantErr: "invalid provider",
		},
		{
			name:    "temperature out of range",
			cfg:     LLMConfig{Provider: LLMProviderOpenAI, APIKey: "k", Temperature: Float64Ptr(2.5)},
			wantErr: "temperature",
		},
		{
			name:    "top_p out of range",
			cfg:     LLMConfig{Provider: LLMProviderOpenAI, APIKey: "k", TopP: Float64Ptr(1.5)},
			wantErr: "top_p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        DatabaseConfig
		wantDriver string
		wantDSN    string
	}{
		{
			name:       "sqlite",
			cfg:        DatabaseConfig{Driver: DriverSQLite, Path: "/tmp/test.db"},
			wantDriver: "sqlite3",
			wantDSN:    "/tmp/test.db",
		},
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver: DriverPostgres, Host: "db", Port: 5432,
				Username: "u", Password: "p", Database: "ensemble", SSLMode: "disable",
			},
			wantDriver: "postgres",
			wantDSN:    "host=db port=5432 user=u password=p dbname=ensemble sslmode=disable",
		},
		{
			name: "mysql",
			cfg: DatabaseConfig{
				Driver: DriverMySQL, Host: "db", Port: 3306,
				Username: "u", Password: "p", Database: "ensemble",
			},
			wantDriver: "mysql",
			wantDSN:    "u:p@tcp(db:3306)/ensemble?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DriverName(); got != tt.wantDriver {
				t.Errorf("DriverName() = %q, want %q", got, tt.wantDriver)
			}
			if got := tt.cfg.DSN(); got != tt.wantDSN {
				t.Errorf("DSN() = %q, want %q", got, tt.wantDSN)
			}
		})
	}
}

func TestFallbackConfig_Validate(t *testing.T) {
	var cfg FallbackConfig
	cfg.SetDefaults()
	cfg.Strategies = map[string]string{"planning": "degraded", "subagents": "alternative"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Strategies["tools"] = "give_up"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "give_up") {
		t.Fatalf("expected invalid strategy error, got %v", err)
	}
}

func TestFallbackConfig_DegradedEnabled(t *testing.T) {
	var cfg FallbackConfig
	cfg.SetDefaults()
	if !cfg.DegradedEnabled() {
		t.Error("expected degraded enabled by default")
	}

	cfg.EnableDegraded = BoolPtr(false)
	if cfg.DegradedEnabled() {
		t.Error("expected degraded disabled when set to false")
	}
}

func TestVectorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     VectorConfig
		wantErr string
	}{
		{
			name: "disabled skips checks",
			cfg:  VectorConfig{Enabled: false},
		},
		{
			name: "chromem",
			cfg:  VectorConfig{Enabled: true, Provider: "chromem", Dimension: 1536},
		},
		{
			name:    "qdrant without host",
			cfg:     VectorConfig{Enabled: true, Provider: "qdrant", Dimension: 1536},
			wantErr: "host",
		},
		{
			name:    "pinecone without key",
			cfg:     VectorConfig{Enabled: true, Provider: "pinecone", IndexHost: "h", Dimension: 1536},
			wantErr: "api_key",
		},
		{
			name:    "unknown provider",
			cfg:     VectorConfig{Enabled: true, Provider: "weaviate", Dimension: 1536},
			wantErr: "invalid provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthConfig_Validate(t *testing.T) {
	cfg := AuthConfig{Enabled: true}
	cfg.SetDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when enabled without jwks_url")
	}

	cfg.JWKSURL = "https://issuer/.well-known/jwks.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfig_DuplicateAgentNames(t *testing.T) {
	cfg := Config{
		LLM: LLMConfig{Provider: LLMProviderAnthropic, APIKey: "k"},
		Agents: []AgentConfig{
			{Name: "research-agent"},
			{Name: "research-agent"},
		},
	}
	cfg.SetDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}
