package schema

import "slices"

// Kind is the cardinality of a relation as seen from its source table.
type Kind int

const (
	One Kind = iota
	Many
)

func (k Kind) String() string {
	if k == Many {
		return "many"
	}
	return "one"
}

// Relation is a navigable edge from Source to Target. The join condition is
// Target.TargetColumns[i] = Source.SourceColumns[i].
//
// A child->parent edge is One (source columns are the foreign key, target
// columns the referenced key). A parent->children edge is Many (source columns
// are the referenced key, target columns the foreign key). RelationName pairs
// the two directions of the same foreign key and is required when a table has
// more than one edge to the same target.
type Relation struct {
	Name          string
	Kind          Kind
	Source        string
	Target        string
	SourceColumns []string
	TargetColumns []string
	RelationName  string
}

// BelongsTo declares the child->parent edge of a single-column foreign key.
func BelongsTo(name, source, fk, target, ref string) Relation {
	return Relation{
		Name:          name,
		Kind:          One,
		Source:        source,
		Target:        target,
		SourceColumns: []string{fk},
		TargetColumns: []string{ref},
	}
}

// HasMany declares the parent->children edge of a single-column foreign key.
func HasMany(name, source, ref, target, fk string) Relation {
	return Relation{
		Name:          name,
		Kind:          Many,
		Source:        source,
		Target:        target,
		SourceColumns: []string{ref},
		TargetColumns: []string{fk},
	}
}

// Named sets the relation name used to pair both directions of an edge.
func (r Relation) Named(relationName string) Relation {
	r.RelationName = relationName
	return r
}

// pairs reports whether r and o are the two directions of the same edge.
func (r Relation) pairs(o Relation) bool {
	if r.Kind == o.Kind || r.Source != o.Target || r.Target != o.Source {
		return false
	}
	if r.RelationName != o.RelationName {
		return false
	}
	return slices.Equal(r.SourceColumns, o.TargetColumns) && slices.Equal(r.TargetColumns, o.SourceColumns)
}
