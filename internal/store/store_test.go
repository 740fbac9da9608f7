package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeBackend struct {
	convs    []Conversation
	listErr  error
	postErr  error
	posted   []Draft
	serverID string
}

func (f *fakeBackend) ListConversations(_ context.Context) ([]Conversation, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.convs, nil
}

func (f *fakeBackend) PostMessage(_ context.Context, conversationID string, draft Draft) (Message, error) {
	f.posted = append(f.posted, draft)
	if f.postErr != nil {
		return Message{}, f.postErr
	}
	id := f.serverID
	if id == "" {
		id = "srv_1"
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         "u1",
		Text:           draft.Text,
		Media:          draft.Media,
		CallMarker:     draft.CallMarker,
		CreatedAt:      time.Now(),
	}, nil
}

func testStore(t *testing.T, backend *fakeBackend) *Store {
	t.Helper()
	return New(backend, "u1", nil, zap.NewNop())
}

func TestLoadConversationsReplacesState(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{
		{ID: "c1", Participants: []string{"u1", "u2"}},
		{ID: "c2", Participants: []string{"u1", "u3"}},
	}}
	s := testStore(t, backend)

	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatalf("LoadConversations() error = %v", err)
	}
	if got := len(s.Conversations()); got != 2 {
		t.Fatalf("got %d conversations, want 2", got)
	}

	// A second load fully replaces, not merges.
	backend.convs = []Conversation{{ID: "c3"}}
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	convs := s.Conversations()
	if len(convs) != 1 || convs[0].ID != "c3" {
		t.Errorf("after reload got %v, want single c3", convs)
	}
}

func TestLoadConversationsFailSoft(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "c1"}}}
	s := testStore(t, backend)
	if err := s.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	backend.listErr = errors.New("upstream 503")
	if err := s.LoadConversations(context.Background()); err == nil {
		t.Fatal("expected error from failed load")
	}

	// Prior state is untouched.
	if _, ok := s.Conversation("c1"); !ok {
		t.Error("stale conversation dropped on failed load")
	}
}

// Scenario: optimistic send followed by the server echo resolves to a single
// confirmed message at the original position, with unread untouched.
func TestOptimisticSendResolution(t *testing.T) {
	s := testStore(t, &fakeBackend{convs: []Conversation{{ID: "c1"}}})
	_ = s.LoadConversations(context.Background())

	s.AddLocalMessage("c1", Message{ID: "local_1", Sender: "u1", Text: "hi", CreatedAt: time.Now()})

	c, _ := s.Conversation("c1")
	if len(c.Messages) != 1 || c.Messages[0].ID != "local_1" {
		t.Fatalf("after optimistic insert: %+v", c.Messages)
	}
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d after own message, want 0", c.UnreadCount)
	}

	s.ApplyServerMessage(Message{ID: "m_99", ConversationID: "c1", Sender: "u1", Text: "hi", CreatedAt: time.Now()})

	c, _ = s.Conversation("c1")
	if len(c.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(c.Messages))
	}
	if c.Messages[0].ID != "m_99" {
		t.Errorf("id = %q, want m_99", c.Messages[0].ID)
	}
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestUnreadAccounting(t *testing.T) {
	s := testStore(t, &fakeBackend{convs: []Conversation{{ID: "c1"}, {ID: "c2"}}})
	_ = s.LoadConversations(context.Background())

	for i, text := range []string{"one", "two", "three"} {
		s.ApplyServerMessage(Message{
			ID: "m_" + text, ConversationID: "c1", Sender: "u2", Text: text,
			CreatedAt: time.Unix(int64(1700000000+i), 0),
		})
	}
	s.ApplyServerMessage(Message{ID: "m_x", ConversationID: "c2", Sender: "u3", Text: "yo", CreatedAt: time.Now()})

	// Duplicate delivery must not bump the counter.
	s.ApplyServerMessage(Message{ID: "m_one", ConversationID: "c1", Sender: "u2", Text: "one", CreatedAt: time.Now()})

	c1, _ := s.Conversation("c1")
	if c1.UnreadCount != 3 {
		t.Errorf("c1 unread = %d, want 3", c1.UnreadCount)
	}
	if got := s.TotalUnread(); got != 4 {
		t.Errorf("total unread = %d, want 4", got)
	}

	s.MarkConversationRead("c1")
	c1, _ = s.Conversation("c1")
	if c1.UnreadCount != 0 {
		t.Errorf("c1 unread after read = %d, want 0", c1.UnreadCount)
	}

	s.MarkAllRead()
	if got := s.TotalUnread(); got != 0 {
		t.Errorf("total unread after MarkAllRead = %d, want 0", got)
	}
}

func TestApplyServerMessageCreatesPlaceholder(t *testing.T) {
	s := testStore(t, &fakeBackend{})

	s.ApplyServerMessage(Message{ID: "m_1", ConversationID: "c_new", Sender: "u2", Text: "hey", CreatedAt: time.Now()})

	c, ok := s.Conversation("c_new")
	if !ok {
		t.Fatal("placeholder conversation not created")
	}
	if len(c.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(c.Messages))
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}
}

func TestSendFailureRetainsOptimistic(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "c1"}}, postErr: errors.New("network down")}
	s := testStore(t, backend)
	_ = s.LoadConversations(context.Background())

	_, err := s.Send(context.Background(), "c1", Draft{Text: "hello"})
	if err == nil {
		t.Fatal("expected error from failed send")
	}

	c, _ := s.Conversation("c1")
	if len(c.Messages) != 1 {
		t.Fatalf("got %d messages, want retained optimistic copy", len(c.Messages))
	}
	if !c.Messages[0].Pending() {
		t.Errorf("retained message id = %q, want temporary id", c.Messages[0].ID)
	}
}

func TestSendSuccessConfirmsOptimistic(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "c1"}}, serverID: "m_42"}
	s := testStore(t, backend)
	_ = s.LoadConversations(context.Background())

	confirmed, err := s.Send(context.Background(), "c1", Draft{Text: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if confirmed.ID != "m_42" {
		t.Errorf("confirmed id = %q, want m_42", confirmed.ID)
	}

	c, _ := s.Conversation("c1")
	if len(c.Messages) != 1 || c.Messages[0].ID != "m_42" {
		t.Errorf("messages after send: %+v", c.Messages)
	}

	// The realtime echo of the same message is a duplicate.
	s.ApplyServerMessage(confirmed)
	c, _ = s.Conversation("c1")
	if len(c.Messages) != 1 {
		t.Errorf("echo created duplicate: %d messages", len(c.Messages))
	}
}

func TestMarkMessagesSeen(t *testing.T) {
	s := testStore(t, &fakeBackend{convs: []Conversation{{ID: "c1"}}})
	_ = s.LoadConversations(context.Background())

	s.AddLocalMessage("c1", Message{ID: "local_1", Sender: "u1", Text: "mine", CreatedAt: time.Now()})
	s.ApplyServerMessage(Message{ID: "m_1", ConversationID: "c1", Sender: "u2", Text: "theirs", CreatedAt: time.Now()})

	s.MarkMessagesSeen("c1")

	c, _ := s.Conversation("c1")
	for _, m := range c.Messages {
		switch m.Sender {
		case "u1":
			if m.Seen {
				t.Error("own message flagged seen by inbound seen event")
			}
		default:
			if !m.Seen {
				t.Errorf("message %q from %q not flagged seen", m.ID, m.Sender)
			}
		}
	}
}

func TestConversationsSortedByActivity(t *testing.T) {
	s := testStore(t, &fakeBackend{})

	s.ApplyServerMessage(Message{ID: "m_1", ConversationID: "c_old", Sender: "u2", CreatedAt: time.Unix(1700000000, 0)})
	s.ApplyServerMessage(Message{ID: "m_2", ConversationID: "c_new", Sender: "u2", CreatedAt: time.Unix(1700009999, 0)})

	convs := s.Conversations()
	if len(convs) != 2 || convs[0].ID != "c_new" {
		t.Errorf("order = %v, want c_new first", []string{convs[0].ID, convs[1].ID})
	}
}
