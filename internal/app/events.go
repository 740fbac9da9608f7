package app

import (
	"encoding/json"
	"time"

	"github.com/glintapp/glint/internal/bus"
	"github.com/glintapp/glint/internal/store"
	"github.com/glintapp/glint/internal/transport"
	"go.uber.org/zap"
)

// Router bridges inbound realtime events into the conversation store.
// Call signaling events are consumed by the call machine directly; the
// router only handles the messaging side.
type Router struct {
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
	unsubs []func()
}

// NewRouter creates a router; call Start to attach it to the transport.
func NewRouter(s *store.Store, b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{store: s, bus: b, logger: logger}
}

// Subscriber is the slice of the transport adapter the router needs.
type Subscriber interface {
	Subscribe(event string, h transport.Handler) func()
}

// Start subscribes the router to the transport adapter.
func (r *Router) Start(t Subscriber) {
	r.unsubs = append(r.unsubs,
		t.Subscribe(transport.EventMessage, r.handleMessage),
		t.Subscribe(transport.EventMessagesSeen, r.handleMessagesSeen),
		t.Subscribe(transport.EventNotification, r.handleNotification),
	)
}

// Stop detaches the router.
func (r *Router) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Router) handleMessage(payload json.RawMessage) {
	var msg store.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("bad message payload", zap.Error(err))
		return
	}
	if msg.ID == "" || msg.ConversationID == "" {
		r.logger.Warn("message event missing identity, dropped")
		return
	}
	r.store.ApplyServerMessage(msg)
}

func (r *Router) handleMessagesSeen(payload json.RawMessage) {
	var evt struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		r.logger.Warn("bad messagesSeen payload", zap.Error(err))
		return
	}
	if evt.ConversationID == "" {
		return
	}
	r.store.MarkMessagesSeen(evt.ConversationID)
}

func (r *Router) handleNotification(payload json.RawMessage) {
	var evt struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		r.logger.Warn("bad notification payload", zap.Error(err))
		return
	}
	r.bus.Publish(bus.Event{
		Kind:      bus.KindNotification,
		Timestamp: time.Now(),
		Payload:   evt.Text,
	})
}
