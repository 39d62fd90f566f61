package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/torva/torva/internal/schema"
)

// timeLayout is fixed-width so that TEXT timestamps in SQLite sort
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// requiredTime parses a NOT NULL timestamp column. SQLite hands back the
// stored text; lib/pq hands back a time.Time that database/sql renders as
// RFC 3339.
func requiredTime(ns sql.NullString, column string) (time.Time, error) {
	if !ns.Valid {
		return time.Time{}, fmt.Errorf("column %s: unexpected NULL", column)
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", column, err)
	}
	return t, nil
}

func optionalTime(ns sql.NullString, column string) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", column, err)
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

func nullBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	return &nb.Bool
}

func nullJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

// model maps one table onto a Go struct. columns lists the table's columns
// in declaration order; values and scan use the same order.
type model[T any] struct {
	table   string
	columns []string
	key     []string
	values  func(*T) []any
	scan    func(rowScanner) (T, error)
}

func (m model[T]) selectList(alias string) string {
	if alias == "" {
		return strings.Join(m.columns, ", ")
	}
	cols := make([]string, len(m.columns))
	for i, c := range m.columns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (m model[T]) keyWhere(alias string) string {
	conds := make([]string, len(m.key))
	for i, k := range m.key {
		if alias != "" {
			k = alias + "." + k
		}
		conds[i] = k + " = ?"
	}
	return strings.Join(conds, " AND ")
}

func queryAll[T any](ctx context.Context, s *Store, m model[T], op, query string, args ...any) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify(op, m.table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := m.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, m.table, err)
	}
	return out, nil
}

func queryOne[T any](ctx context.Context, s *Store, m model[T], op, query string, args ...any) (*T, error) {
	v, err := m.scan(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(op, m.table, err)
	}
	return &v, nil
}

func insertRow[T any](ctx context.Context, s *Store, m model[T], v *T) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.reg.PhysicalName(m.table), m.selectList(""), placeholders(len(m.columns)))
	if _, err := s.db.ExecContext(ctx, s.rebind(query), m.values(v)...); err != nil {
		return classify("inserting into "+m.table, m.table, err)
	}
	return nil
}

// updateRow writes every column except the key and created_at. It returns
// ErrNotFound when no row has v's key.
func updateRow[T any](ctx context.Context, s *Store, m model[T], v *T) error {
	vals := m.values(v)
	var sets []string
	var args []any
	keyArgs := make([]any, len(m.key))
	for i, c := range m.columns {
		if j := slices.Index(m.key, c); j >= 0 {
			keyArgs[j] = vals[i]
			continue
		}
		if c == schema.CreatedAt {
			continue
		}
		sets = append(sets, c+" = ?")
		args = append(args, vals[i])
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		s.reg.PhysicalName(m.table), strings.Join(sets, ", "), m.keyWhere(""))
	res, err := s.db.ExecContext(ctx, s.rebind(query), append(args, keyArgs...)...)
	if err != nil {
		return classify("updating "+m.table, m.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func getByKey[T any](ctx context.Context, s *Store, m model[T], key ...any) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		m.selectList(""), s.reg.PhysicalName(m.table), m.keyWhere(""))
	return queryOne(ctx, s, m, "getting "+m.table, query, key...)
}

// listRecent returns up to limit rows, newest first. Rows created in the same
// instant are ordered by descending id so the order is total.
func listRecent[T any](ctx context.Context, s *Store, m model[T], limit int) ([]T, error) {
	order := make([]string, 0, len(m.key)+1)
	if t, ok := s.reg.Table(m.table); ok && t.HasTimestamps() {
		order = append(order, schema.CreatedAt+" DESC")
	}
	for _, k := range m.key {
		order = append(order, k+" DESC")
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ?",
		m.selectList(""), s.reg.PhysicalName(m.table), strings.Join(order, ", "))
	return queryAll(ctx, s, m, "listing "+m.table, query, limit)
}

func deleteByKey[T any](ctx context.Context, s *Store, m model[T], key ...any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.reg.PhysicalName(m.table), m.keyWhere(""))
	res, err := s.db.ExecContext(ctx, s.rebind(query), key...)
	if err != nil {
		return 0, classify("deleting from "+m.table, m.table, err)
	}
	return res.RowsAffected()
}

// checkEnum rejects a value outside a column's closed set before the write
// reaches the database.
func (s *Store) checkEnum(table, column, value string) error {
	t, ok := s.reg.Table(table)
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	c, ok := t.Column(column)
	if !ok {
		return fmt.Errorf("unknown column %s.%s", table, column)
	}
	if !c.ValidEnum(value) {
		return &ConstraintError{
			Kind:       KindCheck,
			Table:      table,
			Constraint: schema.ConstraintName(s.reg, table, column, "check"),
			Err:        fmt.Errorf("%s %q is not one of %v", column, value, c.Enum),
		}
	}
	return nil
}

// checkJSON rejects malformed JSON before it reaches the database.
func (s *Store) checkJSON(table, column string, raw json.RawMessage) error {
	if len(raw) == 0 || json.Valid(raw) {
		return nil
	}
	return &ConstraintError{
		Kind:       KindCheck,
		Table:      table,
		Constraint: schema.ConstraintName(s.reg, table, column, "check"),
		Err:        fmt.Errorf("%s is not valid JSON", column),
	}
}

// assignID gives a new row a random id, or rewrites a caller-supplied one into
// the lowercase hyphenated form that lookups use.
func (s *Store) assignID(table string, id *string) error {
	if *id == "" {
		*id = uuid.NewString()
		return nil
	}
	return s.canonicalUUID(table, "id", id)
}

// canonicalUUID rewrites *v into lowercase hyphenated form and rejects values
// that are not UUIDs. Nil and empty values are left to NOT NULL.
func (s *Store) canonicalUUID(table, column string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	u, err := uuid.Parse(*v)
	if err != nil {
		return &ConstraintError{
			Kind:       KindCheck,
			Table:      table,
			Constraint: schema.ConstraintName(s.reg, table, column, "check"),
			Err:        fmt.Errorf("%s %q is not a UUID", column, *v),
		}
	}
	*v = u.String()
	return nil
}
