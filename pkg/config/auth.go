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
	"fmt"
	"time"
)

// AuthConfig configures JWT validation against an external identity
// provider's JWKS endpoint.
type AuthConfig struct {
	// Enabled turns authentication on. Off by default so local runs
	// work without an identity provider.
	Enabled bool `yaml:"enabled,omitempty"`

	// JWKSURL is the JSON Web Key Set endpoint of the identity provider.
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience is the expected aud claim. Empty skips the check.
	Audience string `yaml:"audience,omitempty"`

	// RefreshInterval controls how often the key set is refetched.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// ExcludedPaths bypass authentication, for health and metrics probes.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty"`
}

// SetDefaults applies default values.
func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{"/healthz", "/metrics"}
	}
}

// Validate checks the auth configuration.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("jwks_url is required when auth is enabled")
	}
	return nil
}

// IsExcluded reports whether the given request path bypasses authentication.
func (c *AuthConfig) IsExcluded(path string) bool {
	for _, p := range c.ExcludedPaths {
		if p == path {
			return true
		}
	}
	return false
}
