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

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/ensemble/pkg/config"

	// Database drivers are selected by config at runtime.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists memories in a relational database. It supports the
// sqlite, postgres and mysql dialects; structured attributes (tags,
// metadata, embedding, relationships) are stored as JSON columns.
//
// Predicates on scalar columns are pushed into the WHERE clause; relevance
// scoring, ordering and pagination run in Go over the filtered rows so both
// stores share exactly one evaluation semantics.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// sqlColumns is the insertion/selection order of the memories table.
const sqlColumns = `id, content, type, category, tags, importance, confidence, user_id, session_id,
metadata, embedding, tier, expires_at, extracted_from, consolidated, consolidated_at,
relationships, created_at, updated_at, last_accessed, access_count, version`

// NewSQLStore wraps an open database handle. The schema and its indexes
// are created when absent.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect %q (valid: sqlite, postgres, mysql)", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing memory schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromConfig opens the configured database and builds a store
// over it.
func NewSQLStoreFromConfig(cfg *config.DatabaseConfig) (*SQLStore, error) {
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

	store, err := NewSQLStore(db, cfg.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	floatType := "REAL"
	boolType := "BOOLEAN"
	switch s.dialect {
	case config.DriverPostgres:
		floatType = "DOUBLE PRECISION"
	case config.DriverMySQL:
		floatType = "DOUBLE"
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memories (
    id VARCHAR(64) PRIMARY KEY,
    content TEXT NOT NULL,
    type VARCHAR(64) NOT NULL,
    category VARCHAR(255),
    tags TEXT,
    importance %[1]s NOT NULL DEFAULT 0,
    confidence %[1]s NOT NULL DEFAULT 0,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    metadata TEXT,
    embedding TEXT,
    tier VARCHAR(32) NOT NULL,
    expires_at TIMESTAMP NULL,
    extracted_from VARCHAR(64),
    consolidated %[2]s NOT NULL DEFAULT FALSE,
    consolidated_at TIMESTAMP NULL,
    relationships TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    last_accessed TIMESTAMP NOT NULL,
    access_count BIGINT NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1
)`, floatType, boolType)

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_memories_user_tier ON memories(user_id, tier)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(user_id, session_id, tier, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(user_id, category)`,
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating memories table: %w", err)
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			// MySQL before 8.0.13 has no IF NOT EXISTS for indexes; a
			// duplicate-index error here is harmless.
			if s.dialect == config.DriverMySQL {
				continue
			}
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
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

// Insert stores m, assigning an id when unset.
func (s *SQLStore) Insert(ctx context.Context, m *Memory) (string, error) {
	entry := m.Clone()
	prepareInsert(entry, func() string { return uuid.New().String() })

	tags, err := marshalJSON(entry.Tags)
	if err != nil {
		return "", err
	}
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return "", err
	}
	embedding, err := marshalJSON(entry.Embedding)
	if err != nil {
		return "", err
	}
	relationships, err := marshalJSON(entry.Relationships)
	if err != nil {
		return "", err
	}

	query := s.rebind(`INSERT INTO memories (` + sqlColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.Content, string(entry.Type), entry.Category, tags,
		entry.Importance, entry.Confidence, entry.UserID, entry.SessionID,
		metadata, embedding, string(entry.Tier), nullTime(entry.ExpiresAt),
		entry.ExtractedFrom, entry.Consolidated, nullTime(entry.ConsolidatedAt),
		relationships, entry.CreatedAt, entry.UpdatedAt, entry.LastAccessed,
		entry.AccessCount, entry.Version,
	)
	if err != nil {
		return "", fmt.Errorf("inserting memory: %w", err)
	}
	return entry.ID, nil
}

// Query pushes scalar predicates into SQL, evaluates relevance in Go, then
// applies access accounting to the selected rows in one statement.
func (s *SQLStore) Query(ctx context.Context, q *Query) ([]*Memory, error) {
	where, args := predicatesSQL(q.Predicates)

	query := `SELECT ` + sqlColumns + ` FROM memories`
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading memories: %w", err)
	}

	selected := evaluate(q, candidates)
	if len(selected) == 0 {
		return nil, nil
	}

	now := timeNow()
	placeholders := make([]string, len(selected))
	touchArgs := make([]any, 0, len(selected)+1)
	touchArgs = append(touchArgs, now)
	for i, m := range selected {
		placeholders[i] = "?"
		touchArgs = append(touchArgs, m.ID)
		m.LastAccessed = now
		m.AccessCount++
	}
	touch := s.rebind(`UPDATE memories SET last_accessed = ?, access_count = access_count + 1
WHERE id IN (` + strings.Join(placeholders, ", ") + `)`)
	if _, err := s.db.ExecContext(ctx, touch, touchArgs...); err != nil {
		return nil, fmt.Errorf("recording memory access: %w", err)
	}
	return selected, nil
}

// Update applies fields inside a transaction with an optimistic version
// check, bumping the version by exactly one.
func (s *SQLStore) Update(ctx context.Context, id string, fields map[Field]any) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+sqlColumns+` FROM memories WHERE id = ?`), id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows || err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for f, v := range fields {
		if err := applyField(m, f, v); err != nil {
			return false, err
		}
	}

	query := s.rebind(`UPDATE memories SET content = ?, type = ?, category = ?, importance = ?,
confidence = ?, expires_at = ?, consolidated = ?, consolidated_at = ?,
updated_at = ?, version = version + 1
WHERE id = ? AND version = ?`)
	res, err := tx.ExecContext(ctx, query,
		m.Content, string(m.Type), m.Category, m.Importance, m.Confidence,
		nullTime(m.ExpiresAt), m.Consolidated, nullTime(m.ConsolidatedAt),
		timeNow(), id, m.Version,
	)
	if err != nil {
		return false, fmt.Errorf("updating memory %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, fmt.Errorf("updating memory %s: concurrent modification", id)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing update: %w", err)
	}
	return true, nil
}

// Delete removes the row; a second delete reports false.
func (s *SQLStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM memories WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("deleting memory %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Count returns how many rows satisfy the predicates.
func (s *SQLStore) Count(ctx context.Context, preds ...Predicate) (int, error) {
	where, args := predicatesSQL(preds)
	query := `SELECT COUNT(*) FROM memories`
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return n, nil
}

// FindByID returns one memory with access accounting applied.
func (s *SQLStore) FindByID(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sqlColumns+` FROM memories WHERE id = ?`), id)
	m, err := scanMemory(row)
	if err != nil {
		return nil, err
	}

	now := timeNow()
	touch := s.rebind(`UPDATE memories SET last_accessed = ?, access_count = access_count + 1 WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, touch, now, id); err != nil {
		return nil, fmt.Errorf("recording memory access: %w", err)
	}
	m.LastAccessed = now
	m.AccessCount++
	return m, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlFields whitelists columns predicates may reference.
var sqlFields = map[Field]bool{
	FieldID: true, FieldContent: true, FieldType: true, FieldCategory: true,
	FieldImportance: true, FieldConfidence: true, FieldUserID: true,
	FieldSessionID: true, FieldTier: true, FieldExpiresAt: true,
	FieldExtractedFrom: true, FieldConsolidated: true, FieldConsolidatedAt: true,
	FieldCreatedAt: true, FieldUpdatedAt: true, FieldLastAccessed: true,
	FieldAccessCount: true, FieldVersion: true,
}

// predicatesSQL translates the conjunction into a WHERE fragment with ?
// placeholders. Field names are whitelisted; values travel as arguments.
func predicatesSQL(preds []Predicate) (string, []any) {
	var clauses []string
	var args []any
	for _, p := range preds {
		if !sqlFields[p.Field] {
			continue
		}
		col := string(p.Field)
		switch p.Op {
		case OpEquals:
			if p.Value == nil {
				clauses = append(clauses, col+" IS NULL")
				continue
			}
			clauses = append(clauses, col+" = ?")
			args = append(args, sqlValue(p.Value))
		case OpNotEquals:
			if p.Value == nil {
				clauses = append(clauses, col+" IS NOT NULL")
				continue
			}
			clauses = append(clauses, col+" <> ?")
			args = append(args, sqlValue(p.Value))
		case OpLess:
			clauses = append(clauses, col+" < ?")
			args = append(args, sqlValue(p.Value))
		case OpAtMost:
			clauses = append(clauses, col+" <= ?")
			args = append(args, sqlValue(p.Value))
		case OpGreater:
			clauses = append(clauses, col+" > ?")
			args = append(args, sqlValue(p.Value))
		case OpAtLeast:
			clauses = append(clauses, col+" >= ?")
			args = append(args, sqlValue(p.Value))
		case OpContains:
			substr, _ := p.Value.(string)
			clauses = append(clauses, "LOWER("+col+") LIKE ?")
			args = append(args, "%"+strings.ToLower(substr)+"%")
		case OpIn:
			if len(p.Values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := make([]string, len(p.Values))
			for i, v := range p.Values {
				marks[i] = "?"
				args = append(args, sqlValue(v))
			}
			clauses = append(clauses, col+" IN ("+strings.Join(marks, ", ")+")")
		case OpBetween:
			clauses = append(clauses, col+" BETWEEN ? AND ?")
			args = append(args, sqlValue(p.Lo), sqlValue(p.Hi))
		}
	}
	return strings.Join(clauses, " AND "), args
}

// sqlValue converts enum-typed values to their database representation.
func sqlValue(v any) any {
	switch t := v.(type) {
	case Kind:
		return string(t)
	case Tier:
		return string(t)
	default:
		return v
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		m              Memory
		kind, tier     string
		category       sql.NullString
		sessionID      sql.NullString
		extractedFrom  sql.NullString
		tags           sql.NullString
		metadata       sql.NullString
		embedding      sql.NullString
		relationships  sql.NullString
		expiresAt      sql.NullTime
		consolidatedAt sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.Content, &kind, &category, &tags, &m.Importance, &m.Confidence,
		&m.UserID, &sessionID, &metadata, &embedding, &tier, &expiresAt,
		&extractedFrom, &m.Consolidated, &consolidatedAt, &relationships,
		&m.CreatedAt, &m.UpdatedAt, &m.LastAccessed, &m.AccessCount, &m.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning memory: %w", err)
	}

	m.Type = Kind(kind)
	m.Tier = Tier(tier)
	m.Category = category.String
	m.SessionID = sessionID.String
	m.ExtractedFrom = extractedFrom.String
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if consolidatedAt.Valid {
		t := consolidatedAt.Time
		m.ConsolidatedAt = &t
	}
	if err := unmarshalJSON(tags, &m.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &m.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(embedding, &m.Embedding); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(relationships, &m.Relationships); err != nil {
		return nil, err
	}
	return &m, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding memory field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("decoding memory field: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
