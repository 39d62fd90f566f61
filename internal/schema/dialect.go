package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect maps semantic column types to a SQL engine and knows that engine's
// placeholder style.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// ColumnType returns the physical type of c.
	ColumnType(c Column) string
	// Checks returns the CHECK expressions the engine needs to enforce c's
	// semantic type beyond what ColumnType already guarantees.
	Checks(c Column) []string
	// Rebind rewrites '?' placeholders into the engine's style.
	Rebind(query string) string
}

// SQLite is the dialect for modernc.org/sqlite. SQLite has no UUID, length or JSON
// enforcement of its own, so those columns and booleans get CHECKs.
var SQLite Dialect = sqliteDialect{}

// Postgres is the dialect for github.com/lib/pq.
var Postgres Dialect = postgresDialect{}

// DialectFor returns the dialect registered under a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return SQLite, nil
	case "postgres":
		return Postgres, nil
	}
	return nil, fmt.Errorf("unknown dialect %q: only 'sqlite' and 'postgres' are supported", driver)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) ColumnType(c Column) string {
	switch c.Type {
	case Integer, Boolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) Checks(c Column) []string {
	switch c.Type {
	case UUID:
		return []string{fmt.Sprintf("length(%[1]s) = 36 AND %[1]s = lower(%[1]s)", c.Name)}
	case Varchar:
		return []string{fmt.Sprintf("length(%s) <= %d", c.Name, c.Length)}
	case Boolean:
		return []string{fmt.Sprintf("%s IN (0, 1)", c.Name)}
	case JSON:
		return []string{fmt.Sprintf("json_valid(%s)", c.Name)}
	}
	return nil
}

func (sqliteDialect) Rebind(query string) string { return query }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) ColumnType(c Column) string {
	switch c.Type {
	case UUID:
		return "UUID"
	case Varchar:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case Integer:
		return "INTEGER"
	case Boolean:
		return "BOOLEAN"
	case Timestamp:
		return "TIMESTAMPTZ"
	case JSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (postgresDialect) Checks(Column) []string { return nil }

func (postgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
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

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
