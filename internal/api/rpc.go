package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/torva/torva/internal/procedure"
	"github.com/torva/torva/internal/schema"
	"github.com/torva/torva/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Backend is the storage surface the HTTP handler needs beyond procedures.
// *storage.Store satisfies it.
type Backend interface {
	SessionLookup
	Ping(ctx context.Context) error
	Registry() *schema.Registry
	Dialect() schema.Dialect
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Router *procedure.Router
	Store  Backend
	// Token is the API token that authenticates service callers.
	Token string
}

// NewHandler returns the RPC HTTP handler:
//
//	GET  /health        store reachability
//	GET  /schema        compiled DDL for the store's dialect
//	GET  /rpc/{proc}    query procedures, input in ?input=<json>
//	POST /rpc/{proc}    mutation procedures, input in the body
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/health", handleHealth(deps))
	r.Get("/schema", handleSchema(deps))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Token, deps.Store))
		r.Get("/rpc/{proc}", handleRPC(deps))
		r.Post("/rpc/{proc}", handleRPC(deps))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method_not_allowed", "%s not allowed on %s", r.Method, r.URL.Path)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not_found", "no route for %s", r.URL.Path)
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func handleSchema(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := deps.Store.Dialect()
		if name := r.URL.Query().Get("dialect"); name != "" {
			var err error
			if d, err = schema.DialectFor(name); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		ddl, err := SchemaDDL(deps.Store.Registry(), d)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "compiling schema: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, ddl)
	}
}

// SchemaDDL renders the registry as one semicolon-terminated statement per
// line block.
func SchemaDDL(reg *schema.Registry, d schema.Dialect) (string, error) {
	stmts, err := schema.Compile(reg, d)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString(";\n\n")
	}
	return b.String(), nil
}

func handleRPC(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "proc")
		p, ok := deps.Router.Lookup(name)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown procedure %q", name)
			return
		}

		var input json.RawMessage
		switch {
		case r.Method == http.MethodGet && p.Kind == procedure.Query:
			if s := r.URL.Query().Get("input"); s != "" {
				input = json.RawMessage(s)
			}
		case r.Method == http.MethodPost && p.Kind == procedure.Mutation:
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			defer r.Body.Close()
			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
				return
			}
			input = body
		default:
			allow := http.MethodGet
			if p.Kind == procedure.Mutation {
				allow = http.MethodPost
			}
			w.Header().Set("Allow", allow)
			httpError(w, http.StatusMethodNotAllowed, "method_not_allowed", "%s is a %s; use %s", name, p.Kind, allow)
			return
		}

		out, err := deps.Router.Call(r.Context(), name, input)
		if err != nil {
			writeCallError(w, name, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"data": out},
		})
	}
}

// errorStatus maps a procedure or storage error to an HTTP status and error
// type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, procedure.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, procedure.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, procedure.ErrUnknownProcedure):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrConstraint):
		return http.StatusConflict, "constraint_violation"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeCallError(w http.ResponseWriter, name string, err error) {
	code, errType := errorStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Error("procedure failed", "procedure", name, "error", err)
	}
	httpError(w, code, errType, "%v", err)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
