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

// MemoryConfig tunes the tiered memory manager.
type MemoryConfig struct {
	// ShortTermRetention is how long short-term memories live.
	ShortTermRetention time.Duration `yaml:"short_term_retention,omitempty"`

	// MaxShortTerm caps short-term entries per user and session; the oldest
	// entries are evicted past the cap.
	MaxShortTerm int `yaml:"max_short_term,omitempty"`

	// MaxLongTerm caps long-term entries per user; lowest-importance entries
	// are evicted past the cap.
	MaxLongTerm int `yaml:"max_long_term,omitempty"`

	// ConsolidationThreshold is the minimum importance for a short-term
	// memory to be promoted to long-term storage.
	ConsolidationThreshold float64 `yaml:"consolidation_threshold,omitempty"`

	// PreferenceUpdateThreshold is the minimum confidence for an incoming
	// preference to overwrite an existing one's content outright rather
	// than append to it.
	PreferenceUpdateThreshold float64 `yaml:"preference_update_threshold,omitempty"`

	// MergeSimilarityThreshold is the token-set similarity above which two
	// long-term memories are merged instead of stored separately.
	MergeSimilarityThreshold float64 `yaml:"merge_similarity_threshold,omitempty"`

	// CleanupInterval is the cadence of background expiry sweeps per active
	// user.
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`

	// ConsolidationInterval is the cadence of background promotion sweeps
	// per active user.
	ConsolidationInterval time.Duration `yaml:"consolidation_interval,omitempty"`
}

// SetDefaults applies default values.
func (c *MemoryConfig) SetDefaults() {
	if c.ShortTermRetention == 0 {
		c.ShortTermRetention = 24 * time.Hour
	}
	if c.MaxShortTerm == 0 {
		c.MaxShortTerm = 100
	}
	if c.MaxLongTerm == 0 {
		c.MaxLongTerm = 10000
	}
	if c.ConsolidationThreshold == 0 {
		c.ConsolidationThreshold = 0.8
	}
	if c.PreferenceUpdateThreshold == 0 {
		c.PreferenceUpdateThreshold = 0.7
	}
	if c.MergeSimilarityThreshold == 0 {
		c.MergeSimilarityThreshold = 0.9
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Hour
	}
	if c.ConsolidationInterval == 0 {
		c.ConsolidationInterval = 6 * time.Hour
	}
}

// Validate checks the memory configuration.
func (c *MemoryConfig) Validate() error {
	if c.MaxShortTerm < 1 {
		return fmt.Errorf("max_short_term must be at least 1")
	}
	if c.MaxLongTerm < 1 {
		return fmt.Errorf("max_long_term must be at least 1")
	}
	for name, v := range map[string]float64{
		"consolidation_threshold":     c.ConsolidationThreshold,
		"preference_update_threshold": c.PreferenceUpdateThreshold,
		"merge_similarity_threshold":  c.MergeSimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.CleanupInterval < time.Second || c.ConsolidationInterval < time.Second {
		return fmt.Errorf("background intervals must be at least 1s")
	}
	return nil
}
