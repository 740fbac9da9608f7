package cache

import (
	"github.com/glintapp/glint/internal/bus"
	"github.com/glintapp/glint/internal/store"
	"go.uber.org/zap"
)

// Mirror follows store events on the bus and writes the affected
// conversations through to the cache database. Write failures are logged
// and dropped; the in-memory store stays the source of truth.
type Mirror struct {
	db     *DB
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger

	events  <-chan bus.Event
	unsub   func()
	done    chan struct{}
	drained chan struct{}
}

// NewMirror creates a mirror; call Start to begin following events.
func NewMirror(db *DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *Mirror {
	return &Mirror{
		db:     db,
		store:  s,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to store events and begins mirroring.
func (m *Mirror) Start() {
	m.events, m.unsub = m.bus.Subscribe("store.", 256)
	m.done = make(chan struct{})
	m.drained = make(chan struct{})
	go m.run()
}

// Stop unsubscribes and waits for the mirror goroutine to finish. After it
// returns no more cache writes happen, so the database can be closed.
func (m *Mirror) Stop() {
	if m.unsub == nil {
		return
	}
	m.unsub()
	// Wake the run loop; the subscription channel is ours alone.
	close(m.done)
	<-m.drained
	m.unsub = nil
}

func (m *Mirror) run() {
	defer close(m.drained)
	for {
		select {
		case evt := <-m.events:
			m.apply(evt)
		case <-m.done:
			return
		}
	}
}

func (m *Mirror) apply(evt bus.Event) {
	switch evt.Kind {
	case bus.KindStoreLoaded:
		m.persistAll()
	case bus.KindMessageUpserted:
		if ref, ok := evt.Payload.(store.MessageRef); ok {
			m.persistOne(ref.ConversationID)
		}
	case bus.KindUnreadChanged:
		if ch, ok := evt.Payload.(store.UnreadChange); ok {
			m.persistOne(ch.ConversationID)
		}
	case bus.KindMessagesSeen:
		if id, ok := evt.Payload.(string); ok {
			m.persistOne(id)
		}
	}
}

func (m *Mirror) persistAll() {
	for _, c := range m.store.Conversations() {
		if err := m.db.UpsertConversation(c); err != nil {
			m.logger.Warn("cache write failed", zap.Error(err), zap.String("conversation_id", c.ID))
		}
	}
}

func (m *Mirror) persistOne(conversationID string) {
	c, ok := m.store.Conversation(conversationID)
	if !ok {
		return
	}
	if err := m.db.UpsertConversation(c); err != nil {
		m.logger.Warn("cache write failed", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}
