package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect hides the few differences between the SQL backends.
type dialect struct {
	name      string
	sqlDriver string
	timestamp string // column type for timestamps
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var (
	sqliteDialect = dialect{
		name:      DriverSQLite,
		sqlDriver: "sqlite",
		timestamp: "DATETIME",
	}
	postgresDialect = dialect{
		name:      DriverPostgres,
		sqlDriver: "pgx",
		timestamp: "TIMESTAMPTZ",
		numbered:  true,
	}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return sqliteDialect, nil
	case DriverPostgres, "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// rebind rewrites ? placeholders for dialects that number them.
// Queries in this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ddl substitutes dialect-specific column types into a schema statement.
func (d dialect) ddl(stmt string) string {
	return strings.ReplaceAll(stmt, "TIMESTAMP_T", d.timestamp)
}

// sqliteDSN builds a modernc.org/sqlite DSN for a database file.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}
