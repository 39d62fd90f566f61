package schema

import (
	"errors"
	"fmt"
)

// Registry holds every table and relation of an application schema. It is
// built once at startup and passed by reference to whatever needs it.
type Registry struct {
	prefix    string
	tables    []*Table
	byName    map[string]*Table
	relations map[string][]Relation
}

// NewRegistry validates tables and relations and returns a Registry whose
// physical table and index names carry prefix.
func NewRegistry(prefix string, tables []*Table, relations []Relation) (*Registry, error) {
	if !validPrefix(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q: want letters, digits and underscores, not starting with a digit", prefix)
	}
	r := &Registry{
		prefix:    prefix,
		byName:    make(map[string]*Table, len(tables)),
		relations: make(map[string][]Relation),
	}

	for _, t := range tables {
		if t.Name == "" {
			return nil, errors.New("table with empty name")
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		r.byName[t.Name] = t
		r.tables = append(r.tables, t)
	}

	indexNames := make(map[string]string)
	for _, t := range r.tables {
		if err := r.validateTable(t); err != nil {
			return nil, fmt.Errorf("table %q: %w", t.Name, err)
		}
		for _, idx := range t.Indexes {
			if owner, dup := indexNames[idx.Name]; dup {
				return nil, fmt.Errorf("index %q declared on both %q and %q", idx.Name, owner, t.Name)
			}
			indexNames[idx.Name] = t.Name
		}
	}

	for _, rel := range relations {
		if err := r.validateRelation(rel); err != nil {
			return nil, fmt.Errorf("relation %s.%s: %w", rel.Source, rel.Name, err)
		}
		for _, existing := range r.relations[rel.Source] {
			if existing.Name == rel.Name {
				return nil, fmt.Errorf("relation %s.%s declared twice", rel.Source, rel.Name)
			}
		}
		r.relations[rel.Source] = append(r.relations[rel.Source], rel)
	}

	if err := r.checkAmbiguity(); err != nil {
		return nil, err
	}
	if err := r.checkForeignKeyCoverage(); err != nil {
		return nil, err
	}
	return r, nil
}

// Prefix returns the namespace prefix applied to physical names.
func (r *Registry) Prefix() string { return r.prefix }

// Tables returns the tables in registration order.
func (r *Registry) Tables() []*Table { return r.tables }

// Table returns the table with the given logical name.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// PhysicalName returns the prefixed name of a table or index.
func (r *Registry) PhysicalName(name string) string {
	return r.prefix + name
}

// Relations returns the relations whose source is table.
func (r *Registry) Relations(table string) []Relation {
	return r.relations[table]
}

// Relation returns the named relation of table.
func (r *Registry) Relation(table, name string) (Relation, bool) {
	for _, rel := range r.relations[table] {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relation{}, false
}

// Inverse returns the opposite direction of rel.
func (r *Registry) Inverse(rel Relation) (Relation, bool) {
	for _, o := range r.relations[rel.Target] {
		if rel.pairs(o) {
			return o, true
		}
	}
	return Relation{}, false
}

func (r *Registry) validateTable(t *Table) error {
	if len(t.Columns) == 0 {
		return errors.New("no columns")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true

		if c.Type == Varchar && c.Length <= 0 {
			return fmt.Errorf("varchar column %q needs a length", c.Name)
		}
		if len(c.Enum) > 0 && c.Type != Varchar && c.Type != Text {
			return fmt.Errorf("enum column %q must be a string type", c.Name)
		}
		if c.Default != "" && !c.ValidEnum(c.Default) {
			return fmt.Errorf("default %q of column %q is not one of %v", c.Default, c.Name, c.Enum)
		}
		if fk := c.References; fk != nil {
			target, ok := r.byName[fk.Table]
			if !ok {
				return fmt.Errorf("column %q references unknown table %q", c.Name, fk.Table)
			}
			tc, ok := target.Column(fk.Column)
			if !ok {
				return fmt.Errorf("column %q references unknown column %s.%s", c.Name, fk.Table, fk.Column)
			}
			if tc.Type != c.Type {
				return fmt.Errorf("column %q (%s) references %s.%s of type %s", c.Name, c.Type, fk.Table, fk.Column, tc.Type)
			}
			if fk.OnDelete == SetNull && !c.Nullable {
				return fmt.Errorf("column %q is not nullable but uses ON DELETE SET NULL", c.Name)
			}
		}
	}

	if len(t.PrimaryKey) == 0 {
		return errors.New("no primary key")
	}
	for _, name := range t.PrimaryKey {
		c, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("primary key column %q does not exist", name)
		}
		if c.Nullable {
			return fmt.Errorf("primary key column %q is nullable", name)
		}
	}
	for _, idx := range t.Indexes {
		if len(idx.Columns) == 0 {
			return fmt.Errorf("index %q has no columns", idx.Name)
		}
		for _, name := range idx.Columns {
			if !seen[name] {
				return fmt.Errorf("index %q uses unknown column %q", idx.Name, name)
			}
		}
	}
	return nil
}

func (r *Registry) validateRelation(rel Relation) error {
	if rel.Name == "" {
		return errors.New("empty name")
	}
	src, ok := r.byName[rel.Source]
	if !ok {
		return fmt.Errorf("unknown source table %q", rel.Source)
	}
	dst, ok := r.byName[rel.Target]
	if !ok {
		return fmt.Errorf("unknown target table %q", rel.Target)
	}
	if len(rel.SourceColumns) == 0 || len(rel.SourceColumns) != len(rel.TargetColumns) {
		return errors.New("source and target columns must be non-empty and of equal length")
	}
	for _, name := range rel.SourceColumns {
		if _, ok := src.Column(name); !ok {
			return fmt.Errorf("unknown column %s.%s", rel.Source, name)
		}
	}
	for _, name := range rel.TargetColumns {
		if _, ok := dst.Column(name); !ok {
			return fmt.Errorf("unknown column %s.%s", rel.Target, name)
		}
	}
	if rel.Source == rel.Target && rel.RelationName == "" {
		return errors.New("self-relation needs a relation name")
	}

	// Every relation must be backed by a declared foreign key.
	fkTable, fkCols, refTable, refCols := src, rel.SourceColumns, dst, rel.TargetColumns
	if rel.Kind == Many {
		fkTable, fkCols, refTable, refCols = dst, rel.TargetColumns, src, rel.SourceColumns
	}
	for i, name := range fkCols {
		c, _ := fkTable.Column(name)
		if c.References == nil || c.References.Table != refTable.Name || c.References.Column != refCols[i] {
			return fmt.Errorf("%s.%s is not a foreign key to %s.%s", fkTable.Name, name, refTable.Name, refCols[i])
		}
	}
	return nil
}

// checkAmbiguity rejects several same-kind relations between the same pair of
// tables unless each carries a distinct relation name.
func (r *Registry) checkAmbiguity() error {
	type edge struct {
		source, target string
		kind           Kind
	}
	groups := make(map[edge][]Relation)
	for _, t := range r.tables {
		for _, rel := range r.relations[t.Name] {
			e := edge{rel.Source, rel.Target, rel.Kind}
			groups[e] = append(groups[e], rel)
		}
	}
	for e, rels := range groups {
		if len(rels) < 2 {
			continue
		}
		names := make(map[string]bool, len(rels))
		for _, rel := range rels {
			if rel.RelationName == "" || names[rel.RelationName] {
				return fmt.Errorf("ambiguous %s relations from %q to %q: give each a distinct relation name", e.kind, e.source, e.target)
			}
			names[rel.RelationName] = true
		}
	}
	return nil
}

// checkForeignKeyCoverage requires both directions of every foreign key.
func (r *Registry) checkForeignKeyCoverage() error {
	for _, t := range r.tables {
		for _, c := range t.ForeignKeys() {
			var one *Relation
			for _, rel := range r.relations[t.Name] {
				if rel.Kind == One && rel.Target == c.References.Table &&
					len(rel.SourceColumns) == 1 && rel.SourceColumns[0] == c.Name {
					one = &rel
					break
				}
			}
			if one == nil {
				return fmt.Errorf("foreign key %s.%s has no one-relation", t.Name, c.Name)
			}
			if _, ok := r.Inverse(*one); !ok {
				return fmt.Errorf("foreign key %s.%s has no many-relation on %q", t.Name, c.Name, c.References.Table)
			}
		}
	}
	return nil
}

// validPrefix reports whether prefix can lead an unquoted SQL identifier.
// The empty prefix is allowed.
func validPrefix(prefix string) bool {
	for i, ch := range prefix {
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
