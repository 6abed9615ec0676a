package identitystore

import "fmt"

// Type selects the SQL backend behind the Identity Store Port.
type Type string

const (
	// TypeSQLite is the default, single-node backend — convenient for a
	// single shared-root deployment with no external database.
	TypeSQLite Type = "sqlite"
	// TypePostgres is the HA-capable backend.
	TypePostgres Type = "postgres"
)

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the libpq connection string consumed by gorm.io/driver/postgres.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config configures the store construction in New.
type Config struct {
	Type     Type
	SQLite   struct{ Path string }
	Postgres PostgresConfig
}

// ApplyDefaults fills in unset fields the same way dittofs'
// store.Config.ApplyDefaults does.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = TypeSQLite
	}
	if c.Type == TypeSQLite && c.SQLite.Path == "" {
		c.SQLite.Path = "sftpcloud.db"
	}
	if c.Type == TypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}
}

// Validate checks the configuration for obvious mistakes before New opens
// a connection.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case TypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Type)
	}
	return nil
}
