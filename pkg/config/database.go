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
	"path/filepath"

	"github.com/kadirpekel/ensemble/pkg/utils"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DatabaseConfig configures the SQL backend shared by the memory store and
// the session service.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql.
	Driver string `yaml:"driver,omitempty"`

	// Path is the database file for sqlite. Defaults under the data dir.
	Path string `yaml:"path,omitempty"`

	// Host and Port locate a postgres or mysql server.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Username and Password authenticate against the server.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Database is the database name.
	Database string `yaml:"database,omitempty"`

	// SSLMode is passed through to postgres (disable, require, ...).
	SSLMode string `yaml:"ssl_mode,omitempty"`

	// MaxOpenConns limits the pool size. SQLite is pinned to one.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`

	// MaxIdleConns limits idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty"`
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			if dataDir, err := utils.EnsureDataDir(""); err == nil {
				c.Path = filepath.Join(dataDir, "ensemble.db")
			} else {
				c.Path = "ensemble.db"
			}
		}
	case DriverPostgres:
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverMySQL:
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 3306
		}
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("path is required for sqlite")
		}
	case DriverPostgres, DriverMySQL:
		if c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Driver)
		}
		if c.Database == "" {
			return fmt.Errorf("database is required for %s", c.Driver)
		}
	default:
		return fmt.Errorf("invalid driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	return nil
}

// DriverName returns the database/sql driver name to open with.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == DriverSQLite {
		return "sqlite3"
	}
	return c.Driver
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverSQLite:
		return c.Path
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	default:
		return ""
	}
}
