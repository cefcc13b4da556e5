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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ensemble/pkg/auth"
	"github.com/kadirpekel/ensemble/pkg/orchestrator"
	"github.com/kadirpekel/ensemble/pkg/session"
)

// requestBody is the POST /v1/requests payload. File contents arrive
// base64-encoded per encoding/json's []byte convention.
type requestBody struct {
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id,omitempty"`
	Request   string            `json:"request"`
	Files     map[string][]byte `json:"files,omitempty"`
}

type requestResponse struct {
	SessionID string          `json:"session_id"`
	Result    *session.Result `json:"result"`
}

type sessionResponse struct {
	SessionID string          `json:"session_id"`
	Turns     []*session.Turn `json:"turns"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Authenticated callers inherit their token subject as the user id.
	if body.UserID == "" {
		if claims := auth.ClaimsFrom(r.Context()); claims != nil {
			body.UserID = claims.Subject
		}
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if body.Request == "" {
		writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	sess := s.orch.Process(r.Context(), orchestrator.Request{
		UserID:    body.UserID,
		SessionID: body.SessionID,
		Request:   body.Request,
		Files:     body.Files,
	})

	writeJSON(w, http.StatusOK, requestResponse{
		SessionID: sess.ID,
		Result:    sess.FinalResult,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		if claims := auth.ClaimsFrom(r.Context()); claims != nil {
			userID = claims.Subject
		}
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	turns, err := s.sessions.Turns(r.Context(), userID, sessionID, 0)
	if err != nil {
		s.logger.Error("loading session turns failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "loading session failed")
		return
	}
	if len(turns) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sessionID, Turns: turns})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
