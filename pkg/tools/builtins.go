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

package tools

import (
	"fmt"

	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/memory"
)

// RegisterBuiltins adds the built-in tool set to the registry. The memory
// manager backs search_memory; documentRoot comes from the tools
// configuration.
func RegisterBuiltins(r *Registry, manager *memory.Manager, cfg *config.ToolsConfig) error {
	documentRoot := ""
	if cfg != nil {
		documentRoot = cfg.DocumentRoot
	}
	builtins := []Tool{
		NewCalculateTool(),
		NewWriteTodosTool(),
		NewSearchMemoryTool(manager),
		NewReadFileTool(),
		NewWriteFileTool(),
		NewListFilesTool(),
		NewExtractDocumentTool(documentRoot),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("registering built-in %s: %w", t.Definition().Name, err)
		}
	}
	return nil
}
