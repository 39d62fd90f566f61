package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/torva/torva/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	reg, err := storage.NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	s, err := storage.Open(context.Background(), storage.Options{DataDir: ":memory:", Registry: reg})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRouter(t *testing.T, s *storage.Store, opts Options) *Router {
	t.Helper()
	r, err := NewRouter(s, opts)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func authed() context.Context {
	return WithCaller(context.Background(), Caller{Kind: CallerService})
}

func TestNewRouter_RegistersEveryNamespace(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})

	procs := r.Procedures()
	if len(procs) != 3*len(Namespaces) {
		t.Fatalf("got %d procedures, want %d", len(procs), 3*len(Namespaces))
	}
	for _, ns := range Namespaces {
		for _, suffix := range []string{".all", ".byId", ".delete"} {
			p, ok := r.Lookup(ns.Name + suffix)
			if !ok {
				t.Errorf("procedure %s%s missing", ns.Name, suffix)
				continue
			}
			wantProtected := suffix == ".delete"
			if p.Protected != wantProtected {
				t.Errorf("%s Protected = %v, want %v", p.Name, p.Protected, wantProtected)
			}
		}
	}
	for i := 1; i < len(procs); i++ {
		if procs[i-1].Name > procs[i].Name {
			t.Errorf("Procedures not sorted: %s before %s", procs[i-1].Name, procs[i].Name)
		}
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})
	p, _ := r.Lookup("customer.all")
	if err := r.Register(p); err == nil {
		t.Error("expected error registering customer.all twice")
	}
}

func TestCall_UnknownProcedure(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})

	_, err := r.Call(context.Background(), "invoice.all", nil)
	if !errors.Is(err, ErrUnknownProcedure) {
		t.Errorf("error = %v, want ErrUnknownProcedure", err)
	}
}

func TestAll_LimitAndOrder(t *testing.T) {
	s := openTestStore(t)
	r := newTestRouter(t, s, Options{ListLimit: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.CreateCategory(ctx, &storage.Category{Name: fmt.Sprintf("cat-%d", i)}); err != nil {
			t.Fatalf("CreateCategory: %v", err)
		}
	}

	out, err := r.Call(ctx, "category.all", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	cats := out.([]storage.Category)
	if len(cats) != 3 {
		t.Fatalf("got %d categories, want 3", len(cats))
	}
	for i := 1; i < len(cats); i++ {
		if cats[i].CreatedAt.After(cats[i-1].CreatedAt) {
			t.Errorf("categories not newest first at %d", i)
		}
	}
}

func TestAll_Empty(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})

	out, err := r.Call(context.Background(), "feedback.all", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	b, _ := json.Marshal(out)
	if string(b) != "[]" {
		t.Errorf("feedback.all = %s, want []", b)
	}
}

func TestByID_Missing(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})

	out, err := r.Call(context.Background(), "customer.byId", json.RawMessage(`{"id":"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55"}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != nil {
		t.Errorf("customer.byId = %#v, want nil", out)
	}
}

func TestByID_InvalidInput(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})

	inputs := []string{
		``,
		`"not an object"`,
		`{"id":"123"}`,
		`{"id":"{9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55}"}`,
		`{"id":"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55","extra":1}`,
		`{"id":"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55","with":["invoices"]}`,
	}
	for _, in := range inputs {
		_, err := r.Call(context.Background(), "customer.byId", json.RawMessage(in))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %s: error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestByID_NormalisesCase(t *testing.T) {
	s := openTestStore(t)
	r := newTestRouter(t, s, Options{})
	ctx := context.Background()

	c := &storage.Customer{Email: "case@example.com", Name: "Case"}
	if err := s.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	in, _ := json.Marshal(ByIDInput{ID: strings.ToUpper(c.ID)})
	out, err := r.Call(ctx, "customer.byId", in)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got, ok := out.(*storage.Customer); !ok || got.ID != c.ID {
		t.Errorf("customer.byId = %#v, want %s", out, c.ID)
	}
}

func TestDelete_RequiresCaller(t *testing.T) {
	s := openTestStore(t)
	r := newTestRouter(t, s, Options{})
	ctx := context.Background()

	c := &storage.Customer{Email: "guard@example.com", Name: "Guard"}
	if err := s.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	in, _ := json.Marshal(c.ID)

	if _, err := r.Call(ctx, "customer.delete", in); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unauthenticated delete: error = %v, want ErrUnauthorized", err)
	}
	if _, err := s.GetCustomer(ctx, c.ID); err != nil {
		t.Fatalf("customer gone after rejected delete: %v", err)
	}

	out, err := r.Call(authed(), "customer.delete", in)
	if err != nil {
		t.Fatalf("authenticated delete: %v", err)
	}
	if res := out.(DeleteResult); res.ID != c.ID || res.RowsAffected != 1 {
		t.Errorf("DeleteResult = %+v", res)
	}

	out, err = r.Call(authed(), "customer.delete", in)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if res := out.(DeleteResult); res.RowsAffected != 0 {
		t.Errorf("second delete RowsAffected = %d, want 0", res.RowsAffected)
	}
}

func TestDelete_InvalidInput(t *testing.T) {
	r := newTestRouter(t, openTestStore(t), Options{})

	for _, in := range []string{``, `null`, `{"id":"x"}`, `"x"`} {
		_, err := r.Call(authed(), "customer.delete", json.RawMessage(in))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %q: error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestCustomGuard(t *testing.T) {
	s := openTestStore(t)
	onlyService := func(ctx context.Context, p *Procedure) error {
		c, ok := CallerFrom(ctx)
		if !ok || c.Kind != CallerService {
			return fmt.Errorf("%w: %s is for service callers", ErrUnauthorized, p.Name)
		}
		return nil
	}
	r := newTestRouter(t, s, Options{Guard: onlyService})

	in := json.RawMessage(`"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55"`)
	customerCtx := WithCaller(context.Background(), Caller{Kind: CallerCustomer, CustomerID: "x"})
	if _, err := r.Call(customerCtx, "message.delete", in); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("customer caller: error = %v, want ErrUnauthorized", err)
	}
	if _, err := r.Call(authed(), "message.delete", in); err != nil {
		t.Errorf("service caller: %v", err)
	}
	// Queries never consult the guard.
	if _, err := r.Call(context.Background(), "message.all", nil); err != nil {
		t.Errorf("message.all without caller: %v", err)
	}
}

func TestDelete_CategoryRestricted(t *testing.T) {
	s := openTestStore(t)
	r := newTestRouter(t, s, Options{})
	ctx := context.Background()

	parent := &storage.Category{Name: "Parent"}
	if err := s.CreateCategory(ctx, parent); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if err := s.CreateCategory(ctx, &storage.Category{Name: "Child", ParentID: &parent.ID}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	in, _ := json.Marshal(parent.ID)
	_, err := r.Call(authed(), "category.delete", in)
	if !errors.Is(err, storage.ErrConstraint) {
		t.Errorf("error = %v, want storage.ErrConstraint", err)
	}
}

func TestRow_MarshalJSON(t *testing.T) {
	row := &Row{
		Value:     &storage.Category{ID: "c1", Name: "Billing"},
		Relations: map[string]any{"children": []storage.Category{}, "parent": nil},
	}
	b, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got["name"]) != `"Billing"` || string(got["children"]) != "[]" || string(got["parent"]) != "null" {
		t.Errorf("row JSON = %s", b)
	}
}
