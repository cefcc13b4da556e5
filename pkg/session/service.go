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

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a session id resolves to no turns.
var ErrSessionNotFound = errors.New("session not found")

// Turn is one completed request/response exchange.
type Turn struct {
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	Request       string    `json:"request"`
	Response      string    `json:"response"`
	SubAgentsUsed []string  `json:"subAgentsUsed,omitempty"`
	Success       bool      `json:"success"`
	SequenceNum   int64     `json:"sequenceNum"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Service persists completed turns per (user, session).
type Service interface {
	// AppendTurn records one exchange, assigning the next sequence number
	// within its session.
	AppendTurn(ctx context.Context, t *Turn) error

	// Turns returns a session's turns in sequence order, the most recent
	// `limit` when limit > 0.
	Turns(ctx context.Context, userID, sessionID string, limit int) ([]*Turn, error)

	// TurnCount reports how many turns the session holds.
	TurnCount(ctx context.Context, userID, sessionID string) (int, error)

	// DeleteSession drops all turns of one session.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// Close releases service resources.
	Close() error
}

// InMemoryService is the default Service, also used in tests.
type InMemoryService struct {
	mu    sync.RWMutex
	turns map[string][]*Turn
}

var _ Service = (*InMemoryService)(nil)

// NewInMemoryService creates an empty in-process turn store.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{turns: make(map[string][]*Turn)}
}

func turnKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// AppendTurn records one exchange.
func (s *InMemoryService) AppendTurn(_ context.Context, t *Turn) error {
	if t.UserID == "" || t.SessionID == "" {
		return errors.New("turn requires userId and sessionId")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := turnKey(t.UserID, t.SessionID)
	stored := *t
	stored.SequenceNum = int64(len(s.turns[key])) + 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.turns[key] = append(s.turns[key], &stored)
	t.SequenceNum = stored.SequenceNum
	return nil
}

// Turns returns a session's turns in sequence order.
func (s *InMemoryService) Turns(_ context.Context, userID, sessionID string, limit int) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[turnKey(userID, sessionID)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*Turn, len(all))
	for i, t := range all {
		copied := *t
		out[i] = &copied
	}
	return out, nil
}

// TurnCount reports how many turns the session holds.
func (s *InMemoryService) TurnCount(_ context.Context, userID, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[turnKey(userID, sessionID)]), nil
}

// DeleteSession drops all turns of one session.
func (s *InMemoryService) DeleteSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, turnKey(userID, sessionID))
	return nil
}

// Close is a no-op for the in-process service.
func (s *InMemoryService) Close() error {
	return nil
}
