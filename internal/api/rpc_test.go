package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/torva/torva/internal/procedure"
	"github.com/torva/torva/internal/storage"
)

const testToken = "test-api-token"

func newTestHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	reg, err := storage.NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store, err := storage.Open(context.Background(), storage.Options{DataDir: ":memory:", Registry: reg})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	router, err := procedure.NewRouter(store, procedure.Options{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return NewHandler(Deps{Router: router, Store: store, Token: testToken}), store
}

func doRequest(h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func queryURL(proc, input string) string {
	if input == "" {
		return "/rpc/" + proc
	}
	return "/rpc/" + proc + "?input=" + url.QueryEscape(input)
}

type envelope struct {
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return env
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := doRequest(h, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestSchema(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := doRequest(h, http.MethodGet, "/schema", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "CREATE TABLE IF NOT EXISTS torva_customer (") {
		t.Errorf("schema missing customer table:\n%s", rr.Body.String())
	}

	rr = doRequest(h, http.MethodGet, "/schema?dialect=postgres", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "TIMESTAMPTZ") {
		t.Errorf("postgres schema: status %d body:\n%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(h, http.MethodGet, "/schema?dialect=oracle", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown dialect status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRPC_QueryAll(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	for _, name := range []string{"Billing", "Shipping"} {
		if err := store.CreateCategory(ctx, &storage.Category{Name: name}); err != nil {
			t.Fatalf("CreateCategory: %v", err)
		}
	}

	rr := doRequest(h, http.MethodGet, queryURL("category.all", ""), "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var cats []storage.Category
	if err := json.Unmarshal(env.Result.Data, &cats); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "Shipping" {
		t.Errorf("category.all = %+v, want Shipping first", cats)
	}
}

func TestRPC_ByIDWithRelations(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	c := &storage.Customer{Email: "rel@example.com", Name: "Rel"}
	if err := store.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	conv := &storage.Conversation{CustomerID: &c.ID}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	in := `{"id":"` + c.ID + `","with":["conversations","accounts"]}`
	rr := doRequest(h, http.MethodGet, queryURL("customer.byId", in), "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var got map[string]json.RawMessage
	if err := json.Unmarshal(env.Result.Data, &got); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if string(got["email"]) != `"rel@example.com"` {
		t.Errorf("email = %s", got["email"])
	}
	var convs []storage.Conversation
	json.Unmarshal(got["conversations"], &convs)
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Errorf("conversations = %s", got["conversations"])
	}
	if string(got["accounts"]) != "[]" {
		t.Errorf("accounts = %s, want []", got["accounts"])
	}
}

func TestRPC_ByIDMissingIsNull(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := doRequest(h, http.MethodGet, queryURL("message.byId", `{"id":"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55"}`), "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if env := decodeEnvelope(t, rr); string(env.Result.Data) != "null" {
		t.Errorf("data = %s, want null", env.Result.Data)
	}
}

func TestRPC_ErrorMapping(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	parent := &storage.Category{Name: "Parent"}
	if err := store.CreateCategory(ctx, parent); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if err := store.CreateCategory(ctx, &storage.Category{Name: "Child", ParentID: &parent.ID}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		token    string
		wantCode int
		wantType string
	}{
		{"invalid id", http.MethodGet, queryURL("customer.byId", `{"id":"nope"}`), "", "", http.StatusBadRequest, "invalid_request_error"},
		{"malformed input", http.MethodGet, queryURL("customer.byId", `{`), "", "", http.StatusBadRequest, "invalid_request_error"},
		{"unknown procedure", http.MethodGet, queryURL("invoice.all", ""), "", "", http.StatusNotFound, "not_found"},
		{"query via POST", http.MethodPost, "/rpc/customer.all", `{}`, "", http.StatusMethodNotAllowed, "method_not_allowed"},
		{"mutation via GET", http.MethodGet, queryURL("customer.delete", `"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55"`), "", testToken, http.StatusMethodNotAllowed, "method_not_allowed"},
		{"delete without token", http.MethodPost, "/rpc/customer.delete", `"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55"`, "", http.StatusUnauthorized, "authentication_error"},
		{"bad token", http.MethodPost, "/rpc/customer.delete", `"9b2e4c2e-5b1a-4d6e-9f3a-2f0c7a1d8e55"`, "wrong", http.StatusUnauthorized, "authentication_error"},
		{"restricted delete", http.MethodPost, "/rpc/category.delete", `"` + parent.ID + `"`, testToken, http.StatusConflict, "constraint_violation"},
		{"unsupported method", http.MethodPut, "/rpc/customer.all", `{}`, "", http.StatusMethodNotAllowed, "method_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(h, tt.method, tt.target, tt.body, tt.token)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			env := decodeEnvelope(t, rr)
			if env.Error == nil || env.Error.Type != tt.wantType {
				t.Errorf("error = %+v, want type %s", env.Error, tt.wantType)
			}
		})
	}
}

func TestRPC_DeleteWithAPIToken(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	c := &storage.Customer{Email: "gone@example.com", Name: "Gone"}
	if err := store.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	rr := doRequest(h, http.MethodPost, "/rpc/customer.delete", `"`+c.ID+`"`, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var res procedure.DeleteResult
	if err := json.Unmarshal(env.Result.Data, &res); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if res.ID != c.ID || res.RowsAffected != 1 {
		t.Errorf("DeleteResult = %+v", res)
	}
}

func TestRPC_DeleteWithSessionToken(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	c := &storage.Customer{Email: "session@example.com", Name: "Session"}
	if err := store.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	live := &storage.Session{UserID: c.ID, Expires: time.Now().Add(time.Hour)}
	if err := store.CreateSession(ctx, live); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	expired := &storage.Session{UserID: c.ID, Expires: time.Now().Add(-time.Hour)}
	if err := store.CreateSession(ctx, expired); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	conv := &storage.Conversation{CustomerID: &c.ID}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	body := `"` + conv.ID + `"`

	rr := doRequest(h, http.MethodPost, "/rpc/conversation.delete", body, expired.SessionToken)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expired session status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	rr = doRequest(h, http.MethodPost, "/rpc/conversation.delete", body, live.SessionToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("live session status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if _, err := store.GetConversation(ctx, conv.ID); err == nil {
		t.Error("conversation still present after delete")
	}
}

func TestRPC_BodyTooLarge(t *testing.T) {
	h, _ := newTestHandler(t)

	big := `"` + strings.Repeat("a", maxRequestBodySize+1) + `"`
	rr := doRequest(h, http.MethodPost, "/rpc/customer.delete", big, testToken)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAuthenticate_AttachesCaller(t *testing.T) {
	var got procedure.Caller
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = procedure.CallerFrom(r.Context())
	})
	h := Authenticate(testToken, nil)(next)

	doRequest(h, http.MethodGet, "/", "", "")
	if ok {
		t.Errorf("caller without header = %+v, want none", got)
	}

	doRequest(h, http.MethodGet, "/", "", testToken)
	if !ok || got.Kind != procedure.CallerService {
		t.Errorf("caller = %+v, want service", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("basic auth status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}
