package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glintapp/glint/internal/bus"
	"go.uber.org/zap"
)

// Backend is the conversation persistence collaborator: a plain REST API
// that lists conversations and accepts new messages. Implemented by
// internal/api; faked in tests.
type Backend interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	PostMessage(ctx context.Context, conversationID string, draft Draft) (Message, error)
}

// MessageRef identifies a message inside a conversation; used as bus payload.
type MessageRef struct {
	ConversationID string
	MessageID      string
}

// UnreadChange is the payload for unread counter events.
type UnreadChange struct {
	ConversationID string
	Unread         int
}

// Store is the observable in-memory conversation collection. It exclusively
// owns conversation and message mutation; views read snapshots and follow
// bus events. All entry points are safe for concurrent use.
type Store struct {
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger
	selfID  string

	mu    sync.RWMutex
	convs map[string]*Conversation
}

// New creates a store for the local user selfID.
func New(backend Backend, selfID string, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		bus:     b,
		logger:  logger,
		selfID:  selfID,
		convs:   make(map[string]*Conversation),
	}
}

// SelfID returns the local user id the store was built for.
func (s *Store) SelfID() string {
	return s.selfID
}

// LoadConversations replaces the entire in-memory collection from the
// persistence backend. On error the prior state is kept untouched so the UI
// keeps showing last-known data.
func (s *Store) LoadConversations(ctx context.Context) error {
	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("conversation load failed, keeping stale state", zap.Error(err))
		return fmt.Errorf("load conversations: %w", err)
	}

	next := make(map[string]*Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		next[c.ID] = &c
	}

	s.mu.Lock()
	s.convs = next
	s.mu.Unlock()

	s.publish(bus.KindStoreLoaded, len(convs))
	s.logger.Info("conversations loaded", zap.Int("count", len(convs)))
	return nil
}

// Seed inserts conversations without replacing existing ones. Used by the
// warm-start cache before the first backend load; a later LoadConversations
// still performs the authoritative full replace.
func (s *Store) Seed(convs []Conversation) {
	s.mu.Lock()
	for i := range convs {
		c := convs[i]
		if _, ok := s.convs[c.ID]; !ok {
			s.convs[c.ID] = &c
		}
	}
	s.mu.Unlock()
	s.publish(bus.KindStoreLoaded, len(convs))
}

// Conversations returns a snapshot of all conversations ordered by most
// recent activity first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, copyConversation(c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(c), true
}

// TotalUnread returns the sum of unread counters across all conversations.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}

// AddLocalMessage inserts a message into a conversation, creating a minimal
// placeholder conversation when the id is unknown so the message is not
// dropped while server metadata is still in flight. Unread accounting only
// moves for messages not authored by the local user.
func (s *Store) AddLocalMessage(conversationID string, msg Message) {
	msg.ConversationID = conversationID

	s.mu.Lock()
	c := s.ensureConversationLocked(conversationID)
	c.Messages = append(c.Messages, msg)
	touchLocked(c, msg)
	if msg.Sender != s.selfID {
		c.UnreadCount++
	}
	unread := c.UnreadCount
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, MessageRef{ConversationID: conversationID, MessageID: msg.ID})
	if msg.Sender != s.selfID {
		s.publish(bus.KindUnreadChanged, UnreadChange{ConversationID: conversationID, Unread: unread})
	}
}

// ApplyServerMessage reconciles a server-pushed message event into its
// conversation. Duplicate deliveries are dropped; an optimistic copy of the
// same logical message is replaced in place.
func (s *Store) ApplyServerMessage(msg Message) {
	s.mu.Lock()
	c := s.ensureConversationLocked(msg.ConversationID)
	before := len(c.Messages)
	merged := Reconcile(c.Messages, msg)
	appended := len(merged) > before
	changed := appended || !sameMessages(c.Messages, merged)
	c.Messages = merged
	if changed {
		touchLocked(c, msg)
	}
	if appended && msg.Sender != s.selfID {
		c.UnreadCount++
	}
	unread := c.UnreadCount
	s.mu.Unlock()

	if !changed {
		return
	}

	s.publish(bus.KindMessageUpserted, MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID})
	if appended && msg.Sender != s.selfID {
		s.publish(bus.KindUnreadChanged, UnreadChange{ConversationID: msg.ConversationID, Unread: unread})
	}
}

// Send optimistically inserts a message and posts it to the backend. On
// backend failure the optimistic copy is retained under its temporary id
// (the UI drives any retry) and the error is returned to the caller.
func (s *Store) Send(ctx context.Context, conversationID string, draft Draft) (Message, error) {
	optimistic := Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Sender:         s.selfID,
		Text:           draft.Text,
		Media:          draft.Media,
		CallMarker:     draft.CallMarker,
		CreatedAt:      time.Now(),
	}
	if optimistic.Text == "" && draft.CallMarker != nil {
		optimistic.Text = draft.CallMarker.Text()
	}
	s.AddLocalMessage(conversationID, optimistic)

	confirmed, err := s.backend.PostMessage(ctx, conversationID, draft)
	if err != nil {
		s.logger.Error("message send failed", zap.Error(err),
			zap.String("conversation_id", conversationID),
			zap.String("temp_id", optimistic.ID))
		s.publish(bus.KindSendFailed, MessageRef{ConversationID: conversationID, MessageID: optimistic.ID})
		return optimistic, fmt.Errorf("post message: %w", err)
	}

	// The server echo may also arrive over the realtime channel; both paths
	// funnel through the same reconciliation, so whichever lands first wins
	// and the other is a no-op.
	s.ApplyServerMessage(confirmed)
	return confirmed, nil
}

// MarkConversationRead zeroes the unread counter of one conversation.
func (s *Store) MarkConversationRead(conversationID string) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if ok {
		c.UnreadCount = 0
	}
	s.mu.Unlock()
	if ok {
		s.publish(bus.KindUnreadChanged, UnreadChange{ConversationID: conversationID, Unread: 0})
	}
}

// MarkAllRead zeroes every conversation's unread counter.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.convs))
	for id, c := range s.convs {
		if c.UnreadCount != 0 {
			c.UnreadCount = 0
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.publish(bus.KindUnreadChanged, UnreadChange{ConversationID: id, Unread: 0})
	}
}

// MarkMessagesSeen flags every message not authored by the local user as
// seen, driven by an inbound "messagesSeen" event. The local user's own
// messages keep their seen state; the sender-side indicator is rendered
// from the counterpart event on the other device.
func (s *Store) MarkMessagesSeen(conversationID string) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if ok {
		for i := range c.Messages {
			if c.Messages[i].Sender != s.selfID {
				c.Messages[i].Seen = true
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.publish(bus.KindMessagesSeen, conversationID)
	}
}

// ensureConversationLocked returns the conversation, creating a placeholder
// when absent. Caller holds s.mu.
func (s *Store) ensureConversationLocked(id string) *Conversation {
	if c, ok := s.convs[id]; ok {
		return c
	}
	c := &Conversation{ID: id}
	s.convs[id] = c
	return c
}

// touchLocked updates activity metadata after a message landed. Caller
// holds the store mutex.
func touchLocked(c *Conversation, msg Message) {
	if msg.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = msg.CreatedAt
	}
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func copyConversation(c *Conversation) Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

func sameMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
