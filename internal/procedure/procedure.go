// Package procedure exposes the torva tables through named access
// procedures: list-recent, get-by-id and delete, grouped by namespace.
package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/torva/torva/internal/schema"
)

var (
	// ErrUnauthorized is returned when a protected procedure runs without an
	// authenticated caller.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput is returned for input that fails validation before the
	// store is touched.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownProcedure is returned by Call for a name no procedure has.
	ErrUnknownProcedure = errors.New("unknown procedure")
)

// DefaultListLimit caps list-recent results when no limit is configured.
const DefaultListLimit = 10

// Kind distinguishes read-only queries from mutations.
type Kind int

const (
	Query Kind = iota
	Mutation
)

func (k Kind) String() string {
	if k == Mutation {
		return "mutation"
	}
	return "query"
}

// Store is the storage surface procedures need. *storage.Store satisfies it.
type Store interface {
	Registry() *schema.Registry
	ListRecent(ctx context.Context, table string, limit int) (any, error)
	GetByID(ctx context.Context, table, id string) (any, error)
	DeleteByID(ctx context.Context, table, id string) (int64, error)
	LoadRelation(ctx context.Context, table, relation, id string) (any, error)
}

// Handler runs a procedure. input is the raw JSON the caller sent and may be
// empty.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Procedure is one named entry point, e.g. "customer.byId".
type Procedure struct {
	Name        string
	Namespace   string
	Table       string
	Kind        Kind
	Protected   bool
	Description string
	// InputSchema is a JSON Schema fragment describing the accepted input.
	InputSchema json.RawMessage
	Handler     Handler
}

// Guard decides whether a protected procedure may run for the caller in ctx.
type Guard func(ctx context.Context, p *Procedure) error

// RequireCaller is the default guard: an authenticated caller must be present.
func RequireCaller(ctx context.Context, p *Procedure) error {
	if _, ok := CallerFrom(ctx); !ok {
		return fmt.Errorf("%w: %s requires an authenticated caller", ErrUnauthorized, p.Name)
	}
	return nil
}

// Options configures NewRouter.
type Options struct {
	// ListLimit caps list-recent results. Zero selects DefaultListLimit.
	ListLimit int
	// Guard runs before every protected procedure. Nil selects RequireCaller.
	Guard Guard
}

// Router dispatches calls to procedures by name.
type Router struct {
	procs map[string]*Procedure
	guard Guard
}

// NewRouter registers the list-recent, get-by-id and delete procedures of
// every namespace against store.
func NewRouter(store Store, opts Options) (*Router, error) {
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	if opts.Guard == nil {
		opts.Guard = RequireCaller
	}

	r := &Router{procs: make(map[string]*Procedure), guard: opts.Guard}
	reg := store.Registry()
	for _, ns := range Namespaces {
		if _, ok := reg.Table(ns.Table); !ok {
			return nil, fmt.Errorf("namespace %s: table %q not in registry", ns.Name, ns.Table)
		}
		for _, p := range ns.procedures(store, opts.ListLimit) {
			if err := r.Register(p); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Register adds p to the router.
func (r *Router) Register(p *Procedure) error {
	if p.Name == "" || p.Handler == nil {
		return errors.New("procedure needs a name and a handler")
	}
	if _, dup := r.procs[p.Name]; dup {
		return fmt.Errorf("procedure %q registered twice", p.Name)
	}
	r.procs[p.Name] = p
	return nil
}

// Lookup returns the procedure called name.
func (r *Router) Lookup(name string) (*Procedure, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// Procedures returns every registered procedure sorted by name.
func (r *Router) Procedures() []*Procedure {
	out := make([]*Procedure, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named procedure, applying the guard to protected ones.
func (r *Router) Call(ctx context.Context, name string, input json.RawMessage) (any, error) {
	p, ok := r.procs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcedure, name)
	}
	if p.Protected {
		if err := r.guard(ctx, p); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	out, err := p.Handler(ctx, input)
	slog.Debug("procedure call",
		"procedure", name,
		"kind", p.Kind.String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}
