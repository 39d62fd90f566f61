package schema

import (
	"fmt"
	"strings"
)

// Compile emits the DDL that creates every table and index of r in d.
// Tables are ordered so that referenced tables come first. All statements
// are idempotent.
func Compile(r *Registry, d Dialect) ([]string, error) {
	order, err := creationOrder(r)
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, t := range order {
		stmts = append(stmts, createTable(r, d, t))
		for _, idx := range t.Indexes {
			stmts = append(stmts, createIndex(r, t, idx))
		}
	}
	return stmts, nil
}

// CompileDrop emits DROP statements in reverse creation order.
func CompileDrop(r *Registry) ([]string, error) {
	order, err := creationOrder(r)
	if err != nil {
		return nil, err
	}
	stmts := make([]string, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+r.PhysicalName(order[i].Name))
	}
	return stmts, nil
}

// ConstraintName returns the physical name of a named table constraint.
// kind is one of "pkey", "fkey", "check" or "key".
func ConstraintName(r *Registry, table, column, kind string) string {
	if column == "" {
		return r.PhysicalName(table) + "_" + kind
	}
	return r.PhysicalName(table) + "_" + column + "_" + kind
}

func createTable(r *Registry, d Dialect, t *Table) string {
	var lines []string
	for _, c := range t.Columns {
		lines = append(lines, "\t"+columnDef(d, c))
	}

	lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s PRIMARY KEY (%s)",
		ConstraintName(r, t.Name, "", "pkey"), strings.Join(t.PrimaryKey, ", ")))

	for _, c := range t.Columns {
		if c.Unique {
			lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s UNIQUE (%s)",
				ConstraintName(r, t.Name, c.Name, "key"), c.Name))
		}
	}

	for _, c := range t.Columns {
		checks := d.Checks(c)
		if len(c.Enum) > 0 {
			quoted := make([]string, len(c.Enum))
			for i, v := range c.Enum {
				quoted[i] = quoteLiteral(v)
			}
			checks = append(checks, fmt.Sprintf("%s IN (%s)", c.Name, strings.Join(quoted, ", ")))
		}
		if len(checks) > 0 {
			lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s CHECK (%s)",
				ConstraintName(r, t.Name, c.Name, "check"), strings.Join(checks, " AND ")))
		}
	}

	for _, c := range t.ForeignKeys() {
		fk := c.References
		action := fk.OnDelete
		if action == "" {
			action = NoAction
		}
		lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
			ConstraintName(r, t.Name, c.Name, "fkey"), c.Name, r.PhysicalName(fk.Table), fk.Column, action))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", r.PhysicalName(t.Name), strings.Join(lines, ",\n"))
}

func columnDef(d Dialect, c Column) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte(' ')
	b.WriteString(d.ColumnType(c))
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(quoteLiteral(c.Default))
	}
	return b.String()
}

func createIndex(r *Registry, t *Table, idx Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, r.PhysicalName(idx.Name), r.PhysicalName(t.Name), strings.Join(idx.Columns, ", "))
}

// creationOrder sorts tables so every referenced table precedes the tables
// referencing it. Self-references are ignored; registration order breaks ties.
func creationOrder(r *Registry) ([]*Table, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.tables))
	order := make([]*Table, 0, len(r.tables))

	var visit func(t *Table) error
	visit = func(t *Table) error {
		switch state[t.Name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("foreign key cycle through table %q", t.Name)
		}
		state[t.Name] = visiting
		for _, c := range t.ForeignKeys() {
			if c.References.Table == t.Name {
				continue
			}
			if err := visit(r.byName[c.References.Table]); err != nil {
				return err
			}
		}
		state[t.Name] = done
		order = append(order, t)
		return nil
	}

	for _, t := range r.tables {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return order, nil
}
