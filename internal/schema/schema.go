// Package schema declares relational tables as plain configuration structs
// and compiles them into dialect-specific DDL.
package schema

import "slices"

// Type is the semantic type of a column. Dialects map it to a physical type.
type Type int

const (
	UUID Type = iota
	Varchar
	Text
	Integer
	Boolean
	Timestamp
	JSON
)

func (t Type) String() string {
	switch t {
	case UUID:
		return "uuid"
	case Varchar:
		return "varchar"
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	case Timestamp:
		return "timestamp"
	case JSON:
		return "json"
	}
	return "unknown"
}

// Action is the referential action applied when a referenced row is deleted.
type Action string

const (
	NoAction Action = "NO ACTION"
	Cascade  Action = "CASCADE"
	Restrict Action = "RESTRICT"
	SetNull  Action = "SET NULL"
)

// ForeignKey points a column at a column of another (or the same) table.
type ForeignKey struct {
	Table    string
	Column   string
	OnDelete Action
}

// Column is one column of a table.
//
// Default holds a literal value rendered as a SQL string literal. Enum, when
// non-empty, restricts the column to a closed set of string values.
type Column struct {
	Name       string
	Type       Type
	Length     int
	Nullable   bool
	Default    string
	Enum       []string
	Unique     bool
	References *ForeignKey
}

// Index is a secondary index over one or more columns.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is a logical table. Name is unprefixed; the registry applies the
// namespace prefix when producing physical names.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Indexes    []Index
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasTimestamps reports whether the table carries a created_at/updated_at pair.
func (t *Table) HasTimestamps() bool {
	_, created := t.Column(CreatedAt)
	_, updated := t.Column(UpdatedAt)
	return created && updated
}

// ForeignKeys returns the columns that reference another table.
func (t *Table) ForeignKeys() []Column {
	var fks []Column
	for _, c := range t.Columns {
		if c.References != nil {
			fks = append(fks, c)
		}
	}
	return fks
}

// Names of the timestamp pair shared by most tables.
const (
	CreatedAt = "created_at"
	UpdatedAt = "updated_at"
)

// Timestamps returns the created_at/updated_at column pair. Both are required;
// the store sets them to the same instant on insert and refreshes updated_at
// on every update.
func Timestamps() []Column {
	return []Column{
		{Name: CreatedAt, Type: Timestamp},
		{Name: UpdatedAt, Type: Timestamp},
	}
}

// ValidEnum reports whether v is allowed by c. Columns without an enum accept
// any value.
func (c Column) ValidEnum(v string) bool {
	return len(c.Enum) == 0 || slices.Contains(c.Enum, v)
}
