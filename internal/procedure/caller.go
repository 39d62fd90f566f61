package procedure

import "context"

// CallerKind tells service callers apart from signed-in customers.
type CallerKind string

const (
	// CallerService authenticated with the server API token.
	CallerService CallerKind = "service"
	// CallerCustomer authenticated with a live session token.
	CallerCustomer CallerKind = "customer"
)

// Caller is the authenticated identity behind a call.
type Caller struct {
	Kind       CallerKind
	CustomerID string
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
