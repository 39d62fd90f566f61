package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/torva/torva/internal/schema"
)

// ErrUnknownTable is returned by the table-generic accessors for a table the
// store has no model for.
var ErrUnknownTable = errors.New("unknown table")

// ErrUnknownRelation is returned when loading a relation the registry does not
// declare.
var ErrUnknownRelation = errors.New("unknown relation")

// tableModel is the type-erased view of a model used by the table-generic
// accessors and relation loading.
type tableModel interface {
	columnNames() []string
	keyColumns() []string
	list(ctx context.Context, s *Store, limit int) (any, error)
	get(ctx context.Context, s *Store, key ...any) (any, error)
	remove(ctx context.Context, s *Store, key ...any) (int64, error)
	fetchMany(ctx context.Context, s *Store, query string, args ...any) (any, error)
	fetchOne(ctx context.Context, s *Store, query string, args ...any) (any, error)
	aliased(alias string) string
}

func (m model[T]) columnNames() []string { return m.columns }
func (m model[T]) keyColumns() []string  { return m.key }

func (m model[T]) aliased(alias string) string { return m.selectList(alias) }

func (m model[T]) list(ctx context.Context, s *Store, limit int) (any, error) {
	return listRecent(ctx, s, m, limit)
}

func (m model[T]) get(ctx context.Context, s *Store, key ...any) (any, error) {
	return getByKey(ctx, s, m, key...)
}

func (m model[T]) remove(ctx context.Context, s *Store, key ...any) (int64, error) {
	return deleteByKey(ctx, s, m, key...)
}

func (m model[T]) fetchMany(ctx context.Context, s *Store, query string, args ...any) (any, error) {
	return queryAll(ctx, s, m, "loading "+m.table, query, args...)
}

// fetchOne returns a nil interface rather than a typed nil when no row matches.
func (m model[T]) fetchOne(ctx context.Context, s *Store, query string, args ...any) (any, error) {
	v, err := queryOne(ctx, s, m, "loading "+m.table, query, args...)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

var models = map[string]tableModel{
	TableCustomer:      customerModel,
	TableAccount:       accountModel,
	TableSession:       sessionModel,
	TableCategory:      categoryModel,
	TableConversation:  conversationModel,
	TableMessage:       messageModel,
	TableKnowledgeBase: knowledgeBaseModel,
	TableFeedback:      feedbackModel,
}

func modelFor(table string) (tableModel, error) {
	m, ok := models[table]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTable, table)
	}
	return m, nil
}

// ListRecent returns up to limit rows of table, newest first, as a typed
// slice (e.g. []Customer). The slice is empty, never nil, when the table is.
func (s *Store) ListRecent(ctx context.Context, table string, limit int) (any, error) {
	m, err := modelFor(table)
	if err != nil {
		return nil, err
	}
	return m.list(ctx, s, limit)
}

// GetByID returns the row of table whose primary key is id as a typed
// pointer (e.g. *Customer), or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, table, id string) (any, error) {
	m, err := modelFor(table)
	if err != nil {
		return nil, err
	}
	if len(m.keyColumns()) != 1 {
		return nil, fmt.Errorf("table %q has a composite key", table)
	}
	return m.get(ctx, s, id)
}

// DeleteByID removes the row of table whose primary key is id and reports
// how many rows the statement deleted. Cascades are left to the database.
func (s *Store) DeleteByID(ctx context.Context, table, id string) (int64, error) {
	m, err := modelFor(table)
	if err != nil {
		return 0, err
	}
	if len(m.keyColumns()) != 1 {
		return 0, fmt.Errorf("table %q has a composite key", table)
	}
	return m.remove(ctx, s, id)
}

// LoadRelation returns the rows reached from the row of table with primary
// key id through the named relation. A one-relation yields a typed pointer or
// nil; a many-relation yields a typed slice ordered oldest first.
//
// The query joins the target against an aliased copy of the source, so
// self-relations such as category parent/children resolve the same way as
// any other edge.
func (s *Store) LoadRelation(ctx context.Context, table, relation, id string) (any, error) {
	rel, ok := s.reg.Relation(table, relation)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, table, relation)
	}
	src, _ := s.reg.Table(rel.Source)
	if len(src.PrimaryKey) != 1 {
		return nil, fmt.Errorf("loading %s.%s: source table has a composite key", table, relation)
	}
	target, err := modelFor(rel.Target)
	if err != nil {
		return nil, err
	}

	query := relationQuery(s.reg, rel, src.PrimaryKey[0], target)
	if rel.Kind == schema.One {
		return target.fetchOne(ctx, s, query, id)
	}
	return target.fetchMany(ctx, s, query, id)
}

func relationQuery(reg *schema.Registry, rel schema.Relation, sourceKey string, target tableModel) string {
	on := make([]string, len(rel.SourceColumns))
	for i := range rel.SourceColumns {
		on[i] = fmt.Sprintf("t.%s = s.%s", rel.TargetColumns[i], rel.SourceColumns[i])
	}

	var order []string
	if t, ok := reg.Table(rel.Target); ok && t.HasTimestamps() {
		order = append(order, "t."+schema.CreatedAt+" ASC")
	}
	for _, k := range target.keyColumns() {
		order = append(order, "t."+k+" ASC")
	}

	return fmt.Sprintf("SELECT %s FROM %s t JOIN %s s ON %s WHERE s.%s = ? ORDER BY %s",
		target.aliased("t"), reg.PhysicalName(rel.Target), reg.PhysicalName(rel.Source),
		strings.Join(on, " AND "), sourceKey, strings.Join(order, ", "))
}
