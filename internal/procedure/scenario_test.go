package procedure

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/torva/torva/internal/storage"
)

// TestSupportScenario walks one customer through conversation, message,
// lookup with relations and a cascading delete.
func TestSupportScenario(t *testing.T) {
	s := openTestStore(t)
	r := newTestRouter(t, s, Options{})
	ctx := context.Background()

	c1 := &storage.Customer{Email: "a@x.com", Name: "Alice"}
	if err := s.CreateCustomer(ctx, c1); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	v1 := &storage.Conversation{CustomerID: &c1.ID}
	if err := s.CreateConversation(ctx, v1); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	m1 := &storage.Message{ConversationID: v1.ID, Content: "hello", Role: storage.RoleUser}
	if err := s.CreateMessage(ctx, m1); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	out, err := r.Call(ctx, "conversation.all", nil)
	if err != nil {
		t.Fatalf("conversation.all: %v", err)
	}
	convs := out.([]storage.Conversation)
	if len(convs) == 0 || convs[0].ID != v1.ID {
		t.Fatalf("conversation.all = %+v, want %s first", convs, v1.ID)
	}

	in, _ := json.Marshal(ByIDInput{ID: v1.ID, With: []string{"customer", "messages", "feedback"}})
	out, err = r.Call(ctx, "conversation.byId", in)
	if err != nil {
		t.Fatalf("conversation.byId: %v", err)
	}
	row, ok := out.(*Row)
	if !ok {
		t.Fatalf("conversation.byId returned %T, want *Row", out)
	}
	if cust, ok := row.Relations["customer"].(*storage.Customer); !ok || cust.Email != "a@x.com" {
		t.Errorf("customer relation = %#v", row.Relations["customer"])
	}
	if msgs := row.Relations["messages"].([]storage.Message); len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("messages relation = %+v", msgs)
	}
	if fb := row.Relations["feedback"].([]storage.Feedback); len(fb) != 0 {
		t.Errorf("feedback relation = %+v, want empty", fb)
	}

	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != v1.ID || decoded.Status != "active" || len(decoded.Messages) != 1 || decoded.Messages[0].Role != "user" {
		t.Errorf("conversation JSON = %s", b)
	}

	del, _ := json.Marshal(c1.ID)
	if _, err := r.Call(authed(), "customer.delete", del); err != nil {
		t.Fatalf("customer.delete: %v", err)
	}

	for proc, id := range map[string]string{"conversation.byId": v1.ID, "message.byId": m1.ID, "customer.byId": c1.ID} {
		in, _ := json.Marshal(ByIDInput{ID: id})
		out, err := r.Call(ctx, proc, in)
		if err != nil {
			t.Fatalf("%s: %v", proc, err)
		}
		if out != nil {
			t.Errorf("%s after delete = %#v, want nil", proc, out)
		}
	}
}
