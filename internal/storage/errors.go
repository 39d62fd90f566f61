package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConstraint matches every *ConstraintError.
var ErrConstraint = errors.New("constraint violation")

// ErrUnavailable matches every *UnavailableError.
var ErrUnavailable = errors.New("storage unavailable")

// ConstraintKind names the integrity rule a write broke.
type ConstraintKind string

const (
	KindUnique     ConstraintKind = "unique"
	KindForeignKey ConstraintKind = "foreign_key"
	KindCheck      ConstraintKind = "check"
	KindNotNull    ConstraintKind = "not_null"
	KindPrimaryKey ConstraintKind = "primary_key"
)

// ConstraintError reports a write rejected by a schema constraint, either by
// the database or by the store's own validation before the write.
type ConstraintError struct {
	Kind       ConstraintKind
	Table      string
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("%s constraint violated on %s", e.Kind, e.Table)
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// UnavailableError reports that the database could not be reached.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// classify maps a driver error onto the store's error taxonomy. table is the
// logical table the statement targeted. Unrecognised errors are returned
// wrapped with op.
func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	var ue *UnavailableError
	if errors.As(err, &ce) || errors.As(err, &ue) {
		return err
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		if e := classifySQLite(op, table, se); e != nil {
			return e
		}
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		if e := classifyPostgres(op, table, pe); e != nil {
			return e
		}
	}

	// context.DeadlineExceeded satisfies net.Error; keep it as is.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return &UnavailableError{Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return &UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classifySQLite(op, table string, se *sqlite.Error) error {
	code := se.Code()
	detail := sqliteDetail(se.Error())

	kind := ConstraintKind("")
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		kind = KindUnique
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		kind = KindPrimaryKey
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		kind = KindForeignKey
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		kind = KindCheck
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		kind = KindNotNull
	}
	if kind == "" && code&0xff == sqlite3.SQLITE_CONSTRAINT {
		kind = sqliteKindFromMessage(se.Error())
	}
	if kind != "" {
		return &ConstraintError{Kind: kind, Table: table, Constraint: detail, Err: se}
	}

	switch code & 0xff {
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return &UnavailableError{Op: op, Err: se}
	}
	return nil
}

// sqliteDetail extracts the constraint detail SQLite appends to its message,
// e.g. "torva_category.name" or "torva_conversation_status_check".
func sqliteDetail(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	detail := msg[i+len(marker):]
	// The driver appends the numeric code in parentheses.
	if i := strings.LastIndex(detail, " ("); i >= 0 {
		detail = detail[:i]
	}
	return strings.TrimSpace(detail)
}

func sqliteKindFromMessage(msg string) ConstraintKind {
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return KindUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return KindForeignKey
	case strings.Contains(msg, "CHECK constraint failed"):
		return KindCheck
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return KindNotNull
	}
	return KindCheck
}

func classifyPostgres(op, table string, pe *pq.Error) error {
	switch pe.Code {
	case "23505":
		kind := KindUnique
		if strings.HasSuffix(pe.Constraint, "_pkey") {
			kind = KindPrimaryKey
		}
		return &ConstraintError{Kind: kind, Table: table, Constraint: pe.Constraint, Err: pe}
	case "23503":
		return &ConstraintError{Kind: KindForeignKey, Table: table, Constraint: pe.Constraint, Err: pe}
	case "23514", "22001", "22P02":
		return &ConstraintError{Kind: KindCheck, Table: table, Constraint: pe.Constraint, Err: pe}
	case "23502":
		return &ConstraintError{Kind: KindNotNull, Table: table, Constraint: pe.Column, Err: pe}
	case "57P01", "57P02", "57P03":
		return &UnavailableError{Op: op, Err: pe}
	}
	switch pe.Code.Class() {
	case "23":
		return &ConstraintError{Kind: KindCheck, Table: table, Constraint: pe.Constraint, Err: pe}
	case "08":
		return &UnavailableError{Op: op, Err: pe}
	}
	return nil
}
