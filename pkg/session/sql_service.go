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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/ensemble/pkg/config"

	// Database drivers are selected by config at runtime.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLService persists turns in a relational database so multi-turn context
// survives restarts. Supports the sqlite, postgres and mysql dialects.
type SQLService struct {
	db      *sql.DB
	dialect string
}

var _ Service = (*SQLService)(nil)

// NewSQLService wraps an open database handle. The schema and its indexes
// are created when absent.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	switch dialect {
	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect %q (valid: sqlite, postgres, mysql)", dialect)
	}
	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing session schema: %w", err)
	}
	return s, nil
}

// NewSQLServiceFromConfig opens the configured database and builds a
// service over it.
func NewSQLServiceFromConfig(cfg *config.DatabaseConfig) (*SQLService, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.Driver == config.DriverSQLite {
		// SQLite serialises writers; a single connection avoids lock errors.
		db.SetMaxOpenConns(1)
	}

	svc, err := NewSQLService(db, cfg.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return svc, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	boolType := "BOOLEAN"
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS session_turns (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    sequence_num BIGINT NOT NULL,
    request TEXT NOT NULL,
    response TEXT,
    sub_agents TEXT,
    success %s NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id, sequence_num)
)`, boolType)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating session_turns table: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_turns_session ON session_turns(user_id, session_id, created_at)`
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		// MySQL before 8.0.13 has no IF NOT EXISTS for indexes; a
		// duplicate-index error here is harmless.
		if s.dialect != config.DriverMySQL {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLService) rebind(query string) string {
	if s.dialect != config.DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// AppendTurn records one exchange with the session's next sequence number.
// The read-then-insert runs in a transaction so concurrent appenders cannot
// claim the same number.
func (s *SQLService) AppendTurn(ctx context.Context, t *Turn) error {
	if t.UserID == "" || t.SessionID == "" {
		return fmt.Errorf("turn requires userId and sessionId")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_turns WHERE user_id = ? AND session_id = ?`),
		t.UserID, t.SessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocating sequence number: %w", err)
	}

	agents, err := json.Marshal(t.SubAgentsUsed)
	if err != nil {
		return fmt.Errorf("encoding sub-agent list: %w", err)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO session_turns (user_id, session_id, sequence_num, request, response, sub_agents, success, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		t.UserID, t.SessionID, seq, t.Request, t.Response, string(agents), t.Success, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	t.SequenceNum = seq
	t.CreatedAt = createdAt
	return nil
}

// Turns returns a session's turns in sequence order, the most recent
// `limit` when limit > 0.
func (s *SQLService) Turns(ctx context.Context, userID, sessionID string, limit int) ([]*Turn, error) {
	query := `
SELECT user_id, session_id, sequence_num, request, response, sub_agents, success, created_at
FROM session_turns
WHERE user_id = ? AND session_id = ?
ORDER BY sequence_num ASC`
	args := []any{userID, sessionID}

	if limit > 0 {
		query = `
SELECT user_id, session_id, sequence_num, request, response, sub_agents, success, created_at
FROM (
    SELECT user_id, session_id, sequence_num, request, response, sub_agents, success, created_at
    FROM session_turns
    WHERE user_id = ? AND session_id = ?
    ORDER BY sequence_num DESC
    LIMIT ?
) sub ORDER BY sequence_num ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var agents sql.NullString
		var response sql.NullString
		if err := rows.Scan(&t.UserID, &t.SessionID, &t.SequenceNum, &t.Request,
			&response, &agents, &t.Success, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Response = response.String
		if agents.Valid && agents.String != "" && agents.String != "null" {
			if err := json.Unmarshal([]byte(agents.String), &t.SubAgentsUsed); err != nil {
				return nil, fmt.Errorf("decoding sub-agent list: %w", err)
			}
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// TurnCount reports how many turns the session holds.
func (s *SQLService) TurnCount(ctx context.Context, userID, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM session_turns WHERE user_id = ? AND session_id = ?`),
		userID, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return n, nil
}

// DeleteSession drops all turns of one session.
func (s *SQLService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM session_turns WHERE user_id = ? AND session_id = ?`),
		userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLService) Close() error {
	return s.db.Close()
}
