package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Dialect identifies the SQL flavour behind a SQL handle.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// SQL is a pooled database/sql handle plus its dialect.
type SQL struct {
	DB      *sql.DB
	Dialect Dialect
}

// OpenSQL opens and pings a PostgreSQL or SQLite database. For SQLite, dsn
// may be a bare file path.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	driver := "postgres"
	if dialect == SQLite {
		driver = "sqlite"
		dsn = sqliteDSN(dsn)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == SQLite {
		// one writer at a time; avoids SQLITE_BUSY under concurrent requests
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(50)
		conn.SetMaxIdleConns(20)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &SQL{DB: conn, Dialect: dialect}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the pool.
func (s *SQL) Close() error {
	return s.DB.Close()
}

// Rebind rewrites '?' placeholders into the dialect's native form.
func (s *SQL) Rebind(query string) string {
	if s.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate creates tables and indexes when they do not exist yet.
func (s *SQL) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.Dialect == SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.Dialect, err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id BIGSERIAL PRIMARY KEY,
		user_a_id BIGINT NOT NULL REFERENCES users(id),
		user_b_id BIGINT NOT NULL REFERENCES users(id),
		pair_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_user_a_idx ON conversations (user_a_id)`,
	`CREATE INDEX IF NOT EXISTS conversations_user_b_idx ON conversations (user_b_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id),
		sender_id BIGINT NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at, id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_a_id INTEGER NOT NULL REFERENCES users(id),
		user_b_id INTEGER NOT NULL REFERENCES users(id),
		pair_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_user_a_idx ON conversations (user_a_id)`,
	`CREATE INDEX IF NOT EXISTS conversations_user_b_idx ON conversations (user_b_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		sender_id INTEGER NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at, id)`,
}
