package procedure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/torva/torva/internal/storage"
)

// Namespace groups the procedures of one table.
type Namespace struct {
	Name  string
	Table string
}

// Namespaces lists every namespace the router serves.
var Namespaces = []Namespace{
	{Name: "customer", Table: storage.TableCustomer},
	{Name: "category", Table: storage.TableCategory},
	{Name: "conversation", Table: storage.TableConversation},
	{Name: "message", Table: storage.TableMessage},
	{Name: "knowledgeBase", Table: storage.TableKnowledgeBase},
	{Name: "feedback", Table: storage.TableFeedback},
}

var (
	listSchema   = json.RawMessage(`{"type":"object","properties":{}}`)
	byIDSchema   = json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","format":"uuid"},"with":{"type":"array","items":{"type":"string"}}},"required":["id"]}`)
	deleteSchema = json.RawMessage(`{"type":"string","format":"uuid"}`)
)

func (ns Namespace) procedures(store Store, limit int) []*Procedure {
	return []*Procedure{
		{
			Name:        ns.Name + ".all",
			Namespace:   ns.Name,
			Table:       ns.Table,
			Kind:        Query,
			Description: fmt.Sprintf("List up to %d %s rows, most recently created first.", limit, ns.Name),
			InputSchema: listSchema,
			Handler:     ns.listRecent(store, limit),
		},
		{
			Name:        ns.Name + ".byId",
			Namespace:   ns.Name,
			Table:       ns.Table,
			Kind:        Query,
			Description: fmt.Sprintf("Get one %s by id, optionally with related rows. Returns null when absent.", ns.Name),
			InputSchema: byIDSchema,
			Handler:     ns.getByID(store),
		},
		{
			Name:        ns.Name + ".delete",
			Namespace:   ns.Name,
			Table:       ns.Table,
			Kind:        Mutation,
			Protected:   true,
			Description: fmt.Sprintf("Delete one %s by id. Dependent rows are removed by the database.", ns.Name),
			InputSchema: deleteSchema,
			Handler:     ns.delete(store),
		},
	}
}

func (ns Namespace) listRecent(store Store, limit int) Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return store.ListRecent(ctx, ns.Table, limit)
	}
}

// ByIDInput is the input of <namespace>.byId.
type ByIDInput struct {
	ID   string   `json:"id"`
	With []string `json:"with,omitempty"`
}

func (ns Namespace) getByID(store Store) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in ByIDInput
		if err := decodeInput(raw, &in); err != nil {
			return nil, err
		}
		id, err := parseID(in.ID)
		if err != nil {
			return nil, err
		}
		reg := store.Registry()
		for _, name := range in.With {
			if _, ok := reg.Relation(ns.Table, name); !ok {
				return nil, fmt.Errorf("%w: %s has no relation %q", ErrInvalidInput, ns.Name, name)
			}
		}

		row, err := store.GetByID(ctx, ns.Table, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(in.With) == 0 {
			return row, nil
		}

		related := make([]any, len(in.With))
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range in.With {
			g.Go(func() error {
				v, err := store.LoadRelation(gctx, ns.Table, name, id)
				if err != nil {
					return fmt.Errorf("loading %s: %w", name, err)
				}
				related[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		out := &Row{Value: row, Relations: make(map[string]any, len(in.With))}
		for i, name := range in.With {
			out.Relations[name] = related[i]
		}
		return out, nil
	}
}

// DeleteResult reports the outcome of <namespace>.delete. RowsAffected is 0
// when no row had the id.
type DeleteResult struct {
	ID           string `json:"id"`
	RowsAffected int64  `json:"rowsAffected"`
}

func (ns Namespace) delete(store Store) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var s string
		if err := decodeInput(raw, &s); err != nil {
			return nil, err
		}
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		n, err := store.DeleteByID(ctx, ns.Table, id)
		if err != nil {
			return nil, err
		}
		return DeleteResult{ID: id, RowsAffected: n}, nil
	}
}

// Row is a row plus eagerly loaded relations. It marshals as the row's own
// fields with one extra field per relation.
type Row struct {
	Value     any
	Relations map[string]any
}

func (r *Row) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(r.Value)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, fmt.Errorf("row is not a JSON object: %w", err)
	}
	for name, v := range r.Relations {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[name] = b
	}
	return json.Marshal(fields)
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// parseID accepts only the 36-character hyphenated UUID form and returns it
// in canonical lowercase.
func parseID(s string) (string, error) {
	if len(s) != 36 {
		return "", fmt.Errorf("%w: id %q is not a UUID", ErrInvalidInput, s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: id %q is not a UUID", ErrInvalidInput, s)
	}
	return u.String(), nil
}
