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
	"database/sql"
	"fmt"
	"sync"

	// Database drivers registered for the supported backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool shares database handles between components that point at the same
// DSN, such as the memory store and the session service. SQLite handles are
// pinned to a single connection to avoid lock contention.
type DBPool struct {
	mu    sync.Mutex
	conns map[string]*pooledConn
}

type pooledConn struct {
	db   *sql.DB
	refs int
}

// NewDBPool creates an empty pool.
func NewDBPool() *DBPool {
	return &DBPool{conns: make(map[string]*pooledConn)}
}

// Open returns a database handle for the given configuration, reusing an
// existing handle when one is already open for the same DSN.
func (p *DBPool) Open(cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DriverName() + "|" + cfg.DSN()
	if conn, ok := p.conns[key]; ok {
		conn.refs++
		return conn.db, nil
	}

	dsn := cfg.DSN()
	if cfg.Driver == DriverSQLite {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dsn)
	}

	db, err := sql.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer. More connections just produce
		// SQLITE_BUSY under concurrent writes.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	p.conns[key] = &pooledConn{db: db, refs: 1}
	return db, nil
}

// Release decrements the reference count for the given configuration and
// closes the handle when no users remain.
func (p *DBPool) Release(cfg *DatabaseConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DriverName() + "|" + cfg.DSN()
	conn, ok := p.conns[key]
	if !ok {
		return nil
	}
	conn.refs--
	if conn.refs > 0 {
		return nil
	}
	delete(p.conns, key)
	return conn.db.Close()
}

// Close closes every handle in the pool regardless of reference counts.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, conn := range p.conns {
		if err := conn.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, key)
	}
	return firstErr
}
