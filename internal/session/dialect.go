package session

import (
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect captures the few SQL differences between the supported backends.
// Queries are written with $n placeholders and rebound per dialect.
type Dialect struct {
	Name         string
	Driver       string
	positional   bool
	lockRow      string
	schema       string
	maxOpenConns int
	dsnParams    []string
}

var (
	Postgres = Dialect{
		Name:    "postgres",
		Driver:  "postgres",
		lockRow: " FOR UPDATE",
	}
	SQLite = Dialect{
		Name:       "sqlite",
		Driver:       "sqlite",
		positional:   true,
		maxOpenConns: 1,
		dsnParams:    []string{"_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)"},
		schema: `CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	messages   TEXT NOT NULL DEFAULT '[]',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	}
)

var placeholder = regexp.MustCompile(`\$\d+`)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported session driver: %s", name)
	}
}

func (d Dialect) rebind(q string) string {
	if !d.positional {
		return q
	}
	return placeholder.ReplaceAllString(q, "?")
}

// DSN appends the connection parameters the dialect depends on, unless the
// caller already set them.
func (d Dialect) DSN(dsn string) string {
	var missing []string
	for _, p := range d.dsnParams {
		name, _, _ := strings.Cut(p, "(")
		if !strings.Contains(dsn, name+"(") {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

const (
	selectSessionSQL  = `SELECT messages, metadata FROM sessions WHERE session_id = $1`
	ensureSessionSQL  = `INSERT INTO sessions (session_id, messages, metadata) VALUES ($1, '[]', '{}') ON CONFLICT (session_id) DO NOTHING`
	updateMessagesSQL = `UPDATE sessions SET messages = $2 WHERE session_id = $1`
	deleteSessionSQL  = `DELETE FROM sessions WHERE session_id = $1`
)

func (d Dialect) selectQuery() string       { return d.rebind(selectSessionSQL) }
func (d Dialect) selectLockedQuery() string { return d.rebind(selectSessionSQL + d.lockRow) }
func (d Dialect) ensureQuery() string       { return d.rebind(ensureSessionSQL) }
func (d Dialect) updateQuery() string       { return d.rebind(updateMessagesSQL) }
func (d Dialect) deleteQuery() string       { return d.rebind(deleteSessionSQL) }
