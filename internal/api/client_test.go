package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glintapp/glint/internal/store"
	"go.uber.org/zap"
)

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]store.Conversation{
			{ID: "c1", Participants: []string{"u1", "u2"}, UnreadCount: 2},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok123", zap.NewNop())
	convs, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" || convs[0].UnreadCount != 2 {
		t.Errorf("convs = %+v", convs)
	}
}

func TestPostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if r.URL.Path != "/api/v1/conversations/c1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var draft store.Draft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			t.Fatal(err)
		}
		_ = json.NewEncoder(w).Encode(store.Message{
			ID: "m_7", ConversationID: "c1", Sender: "u1", Text: draft.Text,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	msg, err := c.PostMessage(context.Background(), "c1", store.Draft{Text: "hi"})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if msg.ID != "m_7" || msg.Text != "hi" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	if _, err := c.ListConversations(context.Background()); err == nil {
		t.Error("expected error for 502 response")
	}
}
