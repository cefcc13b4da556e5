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

import "fmt"

// AgentConfig declares a sub-agent profile. A profile whose name matches a
// built-in overrides that built-in; any other name defines a new sub-agent.
type AgentConfig struct {
	// Name identifies the sub-agent in task assignments.
	Name string `yaml:"name"`

	// Description is shown to the planner when assigning tasks.
	Description string `yaml:"description,omitempty"`

	// SystemPrompt replaces the profile's default instructions.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Keywords route matching task descriptions to this sub-agent.
	Keywords []string `yaml:"keywords,omitempty"`

	// AllowedTools restricts the tools this sub-agent may call. Empty means
	// all registered tools.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`

	// Model overrides the global LLM model for this sub-agent.
	Model string `yaml:"model,omitempty"`

	// Temperature overrides the global sampling temperature.
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {}

// Validate checks the agent profile.
func (c *AgentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}
