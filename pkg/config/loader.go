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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/ensemble/pkg/config/provider"
)

// Loader reads configuration from a provider, expands environment
// references, decodes, defaults and validates it. With Watch it reloads on
// source changes and notifies subscribers.
type Loader struct {
	provider provider.Provider
	logger   *slog.Logger

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a loader on top of the given provider.
func NewLoader(p provider.Provider, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{provider: p, logger: logger}
}

// Load reads and parses the configuration from the provider.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the most recently loaded configuration, or nil before the
// first successful Load.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after each successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch reloads the configuration whenever the provider signals a change.
// Failed reloads keep the previous configuration and log a warning. The
// watch stops when ctx is canceled or the provider closes its channel.
func (l *Loader) Watch(ctx context.Context) error {
	events, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	if events == nil {
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				cfg, err := l.Load(ctx)
				if err != nil {
					l.logger.Warn("Config reload failed, keeping previous", "error", err)
					continue
				}
				l.logger.Info("Config reloaded", "source", l.provider.Type())

				l.mu.RLock()
				callbacks := make([]func(*Config), len(l.onChange))
				copy(callbacks, l.onChange)
				l.mu.RUnlock()

				for _, fn := range callbacks {
					fn(cfg)
				}
			}
		}
	}()
	return nil
}

// Close releases the underlying provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// LoadConfig is a convenience for the common one-shot case: load and parse
// the given file without watching.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	p, err := provider.New(provider.Config{Type: provider.TypeFile, Path: path})
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return NewLoader(p, nil).Load(ctx)
}

// ParseConfig parses raw YAML or JSON bytes into a validated Config.
func ParseConfig(data []byte) (*Config, error) {
	raw, err := parseBytes(data)
	if err != nil {
		return nil, err
	}

	raw = expandEnvVars(raw)

	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// parseBytes accepts YAML or JSON.
func parseBytes(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("config is neither valid YAML nor valid JSON")
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnvVars walks the raw config tree and substitutes environment
// variable references in string values. Unset variables expand to their
// default, or to the empty string when no default is given.
func expandEnvVars(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = expandValue(v)
	}
	return out
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

func expandString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok {
			return value
		}
		return groups[2]
	})
}

// decodeConfig maps the raw tree onto the Config struct. Decoding reuses
// the yaml tags and coerces strings into durations and slices so values
// injected through environment variables still land in typed fields.
// Unknown keys are rejected; a typoed section silently falling back to
// defaults is much harder to debug than an upfront error.
func decodeConfig(raw map[string]any) (*Config, error) {
	var cfg Config
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           &cfg,
		Metadata:         &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(md.Unused, ", "))
	}
	return &cfg, nil
}
