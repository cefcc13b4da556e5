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

package orchestrator

import (
	"context"
	"fmt"

	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/utils"
	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// persist writes the turn back to memory: one short-term conversation entry
// always, plus whatever the extractor promotes to long-term. Memory writes
// are best-effort; a failing backend costs recall, not the response.
func (o *Orchestrator) persist(ctx context.Context, sess *session.Session, fs *vfs.FS) int {
	if o.memory == nil {
		return 0
	}

	stored := 0
	content := fmt.Sprintf("Request: %s\nResponse: %s",
		sess.Request, utils.Truncate(sess.Response, 2000))
	_, err := o.memory.AddShortTerm(ctx, &memory.Memory{
		Content:    content,
		Type:       memory.KindConversation,
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		Importance: 0.5,
		Confidence: 1.0,
		Metadata: map[string]any{
			"subAgentsUsed":  sess.SubAgentsUsed(),
			"todosCompleted": sess.TodosCompleted(),
			"files":          fileNames(fs),
		},
	})
	if err != nil {
		o.logger.Warn("storing conversation memory failed", "session", sess.ID, "error", err)
	} else {
		stored++
	}

	if o.extractor != nil && sess.Response != "" {
		lctx, cancel := context.WithTimeout(ctx, o.deadlines.LLM)
		entries, err := o.extractor.Extract(lctx, sess.Request, sess.Response)
		cancel()
		if err != nil {
			o.logger.Warn("long-term extraction failed", "session", sess.ID, "error", err)
			return stored
		}
		for _, entry := range entries {
			_, err := o.memory.AddLongTerm(ctx, &memory.Memory{
				Content:    entry.Content,
				Type:       entry.Kind(),
				UserID:     sess.UserID,
				SessionID:  sess.ID,
				Importance: entry.ClampedImportance(),
				Confidence: 0.8,
			})
			if err != nil {
				o.logger.Warn("storing extracted memory failed", "session", sess.ID, "error", err)
				continue
			}
			stored++
		}
	}
	return stored
}

// appendTurn records the completed exchange on the session service.
func (o *Orchestrator) appendTurn(ctx context.Context, sess *session.Session, success bool) {
	if o.sessions == nil {
		return
	}
	err := o.sessions.AppendTurn(ctx, &session.Turn{
		UserID:        sess.UserID,
		SessionID:     sess.ID,
		Request:       sess.Request,
		Response:      sess.Response,
		SubAgentsUsed: sess.SubAgentsUsed(),
		Success:       success,
	})
	if err != nil {
		o.logger.Warn("persisting turn failed", "session", sess.ID, "error", err)
	}
}
