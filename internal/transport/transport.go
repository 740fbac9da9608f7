// Package transport owns the persistent realtime event channel to the
// server. It multiplexes logical rooms over one websocket, delivers inbound
// events to subscribed handlers, and degrades to a silent no-op when the
// channel cannot be established. Reconnect policy is internal; higher layers
// only ever observe missing events, never connection errors.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/glintapp/glint/internal/bus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Wire event names pushed by the server.
const (
	EventMessage      = "message"
	EventMessagesSeen = "messagesSeen"
	EventNotification = "notification"
	EventCallIncoming = "call:incoming"
	EventCallAccepted = "call:accepted"
	EventCallDeclined = "call:declined"
	EventCallEnded    = "call:ended"
)

// Wire event names emitted by the client.
const (
	EventCallStart = "call:start"
	EventCallEnd   = "call:end"

	eventRoomJoin  = "room:join"
	eventRoomLeave = "room:leave"
)

// Frame is the JSON envelope every event travels in.
type Frame struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes the payload of one inbound event.
type Handler func(payload json.RawMessage)

// State describes the channel's health.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnected    State = "CONNECTED"
	StateDegraded     State = "DEGRADED"
)

const (
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// Adapter is the realtime channel. One instance per session.
type Adapter struct {
	bus    *bus.Bus
	logger *zap.Logger
	dial   func(url string) (*websocket.Conn, error)

	mu       sync.Mutex
	url      string
	conn     *websocket.Conn
	state    State
	started  bool
	rooms    map[string]struct{}
	handlers map[string]map[int]Handler
	nextID   int
	sendCh   chan Frame
	done     chan struct{}
}

// New creates a disconnected adapter.
func New(b *bus.Bus, logger *zap.Logger) *Adapter {
	return &Adapter{
		bus:    b,
		logger: logger,
		dial: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		state:    StateDisconnected,
		rooms:    make(map[string]struct{}),
		handlers: make(map[string]map[int]Handler),
		sendCh:   make(chan Frame, 256),
		done:     make(chan struct{}),
	}
}

// Connect establishes the channel to endpoint. Idempotent: a second call
// while the channel is live (or still retrying) is a no-op. Connection
// failure is not an error to the caller; the adapter enters a degraded
// state, keeps retrying in the background, and Emit becomes a silent drop
// until the channel recovers.
func (a *Adapter) Connect(endpoint string) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.url = endpoint
	a.mu.Unlock()

	go a.run()
}

// State returns the current channel state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// JoinRoom subscribes the channel to events scoped to roomID. Safe to call
// before the channel is ready; the desired-room set is replayed on every
// (re)connect.
func (a *Adapter) JoinRoom(roomID string) {
	a.mu.Lock()
	a.rooms[roomID] = struct{}{}
	connected := a.state == StateConnected
	a.mu.Unlock()

	if connected {
		a.enqueue(Frame{Event: eventRoomJoin, Room: roomID})
	}
}

// LeaveRoom removes a room subscription. Safe to call at any time.
func (a *Adapter) LeaveRoom(roomID string) {
	a.mu.Lock()
	delete(a.rooms, roomID)
	connected := a.state == StateConnected
	a.mu.Unlock()

	if connected {
		a.enqueue(Frame{Event: eventRoomLeave, Room: roomID})
	}
}

// Subscribe registers a handler for an event name. Multiple handlers per
// event are allowed. The returned unsubscribe function is idempotent.
func (a *Adapter) Subscribe(event string, h Handler) func() {
	a.mu.Lock()
	if a.handlers[event] == nil {
		a.handlers[event] = make(map[int]Handler)
	}
	id := a.nextID
	a.nextID++
	a.handlers[event][id] = h
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		if hs, ok := a.handlers[event]; ok {
			delete(hs, id)
		}
		a.mu.Unlock()
	}
}

// Emit sends an event with the given payload. Fire-and-forget: no delivery
// acknowledgment, and a silent drop while the channel is down.
func (a *Adapter) Emit(event string, payload any) {
	a.mu.Lock()
	connected := a.state == StateConnected
	a.mu.Unlock()
	if !connected {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("emit payload marshal failed", zap.Error(err), zap.String("event", event))
		return
	}
	a.enqueue(Frame{Event: event, Payload: raw})
}

// Close tears the channel down for good. Further Emit calls are drops.
func (a *Adapter) Close() {
	a.mu.Lock()
	select {
	case <-a.done:
		a.mu.Unlock()
		return
	default:
	}
	close(a.done)
	conn := a.conn
	a.conn = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (a *Adapter) enqueue(f Frame) {
	select {
	case a.sendCh <- f:
	default:
		a.logger.Warn("send buffer full, dropping frame", zap.String("event", f.Event))
	}
}

// run is the connection manager: dial, serve, backoff, redial.
func (a *Adapter) run() {
	backoff := backoffInitial
	for {
		select {
		case <-a.done:
			return
		default:
		}

		conn, err := a.dial(a.url)
		if err != nil {
			a.setState(StateDegraded, bus.KindTransportDegraded)
			a.logger.Warn("realtime dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-a.done:
				return
			}
			backoff = min(backoff*2, backoffMax)
			continue
		}
		backoff = backoffInitial

		a.mu.Lock()
		a.conn = conn
		a.state = StateConnected
		rooms := make([]string, 0, len(a.rooms))
		for r := range a.rooms {
			rooms = append(rooms, r)
		}
		a.mu.Unlock()

		a.publish(bus.KindTransportConnected, string(StateConnected))
		a.logger.Info("realtime channel connected", zap.String("url", a.url))

		// Replay the desired-room set on every (re)connect.
		for _, r := range rooms {
			a.enqueue(Frame{Event: eventRoomJoin, Room: r})
		}

		a.serve(conn)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		_ = conn.Close()

		select {
		case <-a.done:
			return
		default:
			a.setState(StateDisconnected, bus.KindTransportDisconnected)
			a.logger.Warn("realtime channel lost, reconnecting")
		}
	}
}

// serve pumps frames both ways until the connection drops or Close is called.
func (a *Adapter) serve(conn *websocket.Conn) {
	readErr := make(chan struct{})

	go func() {
		defer close(readErr)
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			a.dispatch(f)
		}
	}()

	for {
		select {
		case <-a.done:
			return
		case <-readErr:
			return
		case f := <-a.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				a.logger.Warn("realtime write failed", zap.Error(err), zap.String("event", f.Event))
				return
			}
		}
	}
}

// dispatch fans one inbound frame out to all handlers for its event name.
func (a *Adapter) dispatch(f Frame) {
	a.mu.Lock()
	hs := make([]Handler, 0, len(a.handlers[f.Event]))
	for _, h := range a.handlers[f.Event] {
		hs = append(hs, h)
	}
	a.mu.Unlock()

	for _, h := range hs {
		h(f.Payload)
	}
}

func (a *Adapter) setState(s State, kind string) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()
	if changed {
		a.publish(kind, string(s))
	}
}

func (a *Adapter) publish(kind string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
