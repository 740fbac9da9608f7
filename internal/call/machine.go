// Package call drives the one-to-one call lifecycle: offer/answer signaling
// over the realtime channel, local media ownership, ring timeouts and the
// conversation markers a call leaves behind. The machine is a per-session
// singleton; at most one call is live at a time.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glintapp/glint/internal/bus"
	"github.com/glintapp/glint/internal/store"
	"github.com/glintapp/glint/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCallInProgress is returned when StartCall is attempted while a call is
// already active. One call per client; no queuing.
var ErrCallInProgress = errors.New("a call is already in progress")

// ErrNoRingingCall is returned by AcceptCall/DeclineCall when there is no
// incoming ringing call to act on.
var ErrNoRingingCall = errors.New("no ringing incoming call")

// ErrCallSuperseded is returned by AcceptCall when the call resolved while
// media was still being acquired (declined, timed out or ended remotely).
// The terminal state stands; the accept changed nothing.
var ErrCallSuperseded = errors.New("call already resolved")

const markerPostTimeout = 10 * time.Second

// Signaler is the slice of the transport adapter the machine needs.
type Signaler interface {
	Emit(event string, payload any)
	Subscribe(event string, h transport.Handler) func()
}

// MarkerSink posts call markers into conversations. Satisfied by the
// conversation store.
type MarkerSink interface {
	Send(ctx context.Context, conversationID string, draft store.Draft) (store.Message, error)
}

// Options configures a Machine.
type Options struct {
	SelfID      string
	Signaler    Signaler
	Markers     MarkerSink
	Devices     Devices
	NewPeer     PeerFactory
	RingTimeout time.Duration
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Machine is the call signaling state machine. It exclusively owns the
// Call and its peer link; observers get snapshots via the bus.
type Machine struct {
	selfID      string
	sig         Signaler
	markers     MarkerSink
	devices     Devices
	newPeer     PeerFactory
	ringTimeout time.Duration
	bus         *bus.Bus
	logger      *zap.Logger

	mu        sync.Mutex
	status    Status
	call      *Call
	peer      Peer
	stream    Stream
	ringTimer *time.Timer
	muted     bool
	cameraOff bool
	// busy marks an in-flight media/negotiation suspension so a second
	// StartCall or AcceptCall cannot slip in before state is committed.
	busy bool

	unsubs []func()
}

// NewMachine creates an idle machine.
func NewMachine(o Options) *Machine {
	if o.RingTimeout <= 0 {
		o.RingTimeout = 30 * time.Second
	}
	return &Machine{
		selfID:      o.SelfID,
		sig:         o.Signaler,
		markers:     o.Markers,
		devices:     o.Devices,
		newPeer:     o.NewPeer,
		ringTimeout: o.RingTimeout,
		bus:         o.Bus,
		logger:      o.Logger,
		status:      StatusIdle,
	}
}

// Start subscribes the machine to inbound signaling events.
func (m *Machine) Start() {
	m.unsubs = append(m.unsubs,
		m.sig.Subscribe(transport.EventCallIncoming, m.handleIncoming),
		m.sig.Subscribe(transport.EventCallAccepted, m.handleAccepted),
		m.sig.Subscribe(transport.EventCallDeclined, m.handleDeclined),
		m.sig.Subscribe(transport.EventCallEnded, m.handleEnded),
	)
}

// Stop unsubscribes and hangs up any live call.
func (m *Machine) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	_ = m.EndCall()
}

// Snapshot returns the current read-only view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:    m.status,
		Muted:     m.muted,
		CameraOff: m.cameraOff,
	}
	if m.call != nil {
		c := *m.call
		snap.Call = &c
		snap.ConnectedAt = m.call.ConnectedAt
	}
	if m.peer != nil {
		snap.RemoteLive = m.peer.RemoteLive()
	}
	return snap
}

// StartCall begins an outgoing call. Acquires local media for the call type,
// builds the peer link in offerer role, and signals the remote side. If
// media acquisition fails no state is committed and the error is returned
// synchronously.
func (m *Machine) StartCall(ctx context.Context, t Type, recipient, conversationID string) error {
	m.mu.Lock()
	if m.status != StatusIdle || m.busy {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	m.busy = true
	m.mu.Unlock()

	callID := uuid.NewString()

	stream, err := m.devices.Acquire(ctx, t)
	if err != nil {
		m.clearBusy()
		return fmt.Errorf("start call: %w", err)
	}

	peer, err := m.newPeer(stream, m.peerEvents(callID))
	if err != nil {
		stream.Stop()
		m.clearBusy()
		return fmt.Errorf("start call: %w", err)
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		stream.Stop()
		_ = peer.Close()
		m.clearBusy()
		return fmt.Errorf("start call: %w", err)
	}

	m.mu.Lock()
	call := &Call{
		ID:             callID,
		Caller:         m.selfID,
		Recipient:      recipient,
		Type:           t,
		ConversationID: conversationID,
		Outgoing:       true,
		StartedAt:      time.Now(),
	}
	m.call = call
	m.peer = peer
	m.stream = stream
	m.muted = false
	m.cameraOff = t != TypeVideo
	m.setStatusLocked(StatusRinging)
	m.startRingTimerLocked(callID)
	m.busy = false
	m.mu.Unlock()

	m.sig.Emit(transport.EventCallStart, Signal{
		CallID:         callID,
		From:           m.selfID,
		To:             recipient,
		ConversationID: conversationID,
		CallType:       t,
		SDP:            offer,
	})
	m.postMarker(conversationID, store.MarkerCallStarted, t)
	m.publishState()

	m.logger.Info("call started",
		zap.String("call_id", callID),
		zap.String("recipient", recipient),
		zap.String("call_type", string(t)))
	return nil
}

// AcceptCall answers the ringing incoming call: acquires local media for the
// offered type, builds the peer link in answerer role and signals the answer
// back. A decline or timeout racing the acceptance wins; the machine never
// ends up half-accepted.
func (m *Machine) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusRinging || m.call == nil || m.call.Outgoing || m.busy {
		m.mu.Unlock()
		return ErrNoRingingCall
	}
	callID := m.call.ID
	caller := m.call.Caller
	callType := m.call.Type
	offer := m.call.remoteOffer
	m.busy = true
	m.mu.Unlock()

	stream, err := m.devices.Acquire(ctx, callType)
	if err != nil {
		m.clearBusy()
		m.resolve(callID, OutcomeFailed, false, "")
		return fmt.Errorf("accept call: %w", err)
	}

	peer, err := m.newPeer(stream, m.peerEvents(callID))
	if err != nil {
		stream.Stop()
		m.clearBusy()
		m.resolve(callID, OutcomeFailed, false, "")
		return fmt.Errorf("accept call: %w", err)
	}

	answer, err := peer.AcceptOffer(offer)
	if err != nil {
		stream.Stop()
		_ = peer.Close()
		m.clearBusy()
		m.resolve(callID, OutcomeFailed, false, "")
		return fmt.Errorf("accept call: %w", err)
	}

	m.mu.Lock()
	m.busy = false
	if m.call == nil || m.call.ID != callID || m.status != StatusRinging {
		// Superseded while media was being acquired (decline, timeout or
		// remote end). Terminal state wins; release what we built.
		m.mu.Unlock()
		stream.Stop()
		_ = peer.Close()
		return ErrCallSuperseded
	}
	m.peer = peer
	m.stream = stream
	m.muted = false
	m.cameraOff = callType != TypeVideo
	m.stopRingTimerLocked()
	m.setStatusLocked(StatusConnected)
	m.call.ConnectedAt = time.Now()
	m.mu.Unlock()

	m.sig.Emit(transport.EventCallAccepted, Signal{
		CallID:   callID,
		From:     m.selfID,
		To:       caller,
		CallType: callType,
		SDP:      answer,
	})
	m.publishState()

	m.logger.Info("call accepted", zap.String("call_id", callID))
	return nil
}

// DeclineCall rejects the ringing incoming call and notifies the caller.
func (m *Machine) DeclineCall() error {
	m.mu.Lock()
	if m.status != StatusRinging || m.call == nil || m.call.Outgoing {
		m.mu.Unlock()
		return ErrNoRingingCall
	}
	callID := m.call.ID
	caller := m.call.Caller
	callType := m.call.Type
	m.mu.Unlock()

	m.sig.Emit(transport.EventCallDeclined, Signal{
		CallID:   callID,
		From:     m.selfID,
		To:       caller,
		CallType: callType,
	})
	m.resolve(callID, OutcomeDeclined, false, "")
	return nil
}

// EndCall hangs up the live call (connected, or a still-ringing outgoing
// one) and signals the other side.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	if m.call == nil {
		m.mu.Unlock()
		return nil
	}
	callID := m.call.ID
	m.mu.Unlock()

	m.resolve(callID, OutcomeEnded, true, "")
	return nil
}

// ToggleMute flips the microphone. Returns the new muted state.
func (m *Machine) ToggleMute() bool {
	return m.toggleTracks(TrackAudio)
}

// ToggleCamera flips the camera. Returns true when the camera is now off.
func (m *Machine) ToggleCamera() bool {
	return m.toggleTracks(TrackVideo)
}

func (m *Machine) toggleTracks(kind TrackKind) bool {
	m.mu.Lock()
	var off bool
	switch kind {
	case TrackAudio:
		m.muted = !m.muted
		off = m.muted
	case TrackVideo:
		m.cameraOff = !m.cameraOff
		off = m.cameraOff
	}
	if m.stream != nil {
		for _, t := range m.stream.Tracks() {
			if t.Kind() == kind {
				t.SetEnabled(!off)
			}
		}
	}
	m.mu.Unlock()

	m.publishState()
	return off
}

// handleIncoming processes a call:incoming signaling event. The offer is
// stored and the ring timer starts; media is not acquired until acceptance.
func (m *Machine) handleIncoming(payload json.RawMessage) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		m.logger.Warn("bad call:incoming payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.status != StatusIdle || m.busy {
		m.mu.Unlock()
		// Already on a call; the caller's own ring timer resolves their side.
		m.logger.Info("ignoring incoming call while busy", zap.String("call_id", sig.CallID))
		return
	}
	m.call = &Call{
		ID:             sig.CallID,
		Caller:         sig.From,
		Recipient:      m.selfID,
		Type:           sig.CallType,
		ConversationID: sig.ConversationID,
		Outgoing:       false,
		StartedAt:      time.Now(),
		remoteOffer:    sig.SDP,
	}
	m.setStatusLocked(StatusRinging)
	m.startRingTimerLocked(sig.CallID)
	m.mu.Unlock()

	m.publishState()
	m.logger.Info("incoming call",
		zap.String("call_id", sig.CallID),
		zap.String("caller", sig.From),
		zap.String("call_type", string(sig.CallType)))
}

// handleAccepted applies the remote answer on the caller side.
func (m *Machine) handleAccepted(payload json.RawMessage) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		m.logger.Warn("bad call:accepted payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.call == nil || m.call.ID != sig.CallID || !m.call.Outgoing || m.status != StatusRinging {
		m.mu.Unlock()
		m.logger.Info("ignoring stale call:accepted", zap.String("call_id", sig.CallID))
		return
	}
	peer := m.peer
	m.mu.Unlock()

	if err := peer.ApplyAnswer(sig.SDP); err != nil {
		m.logger.Error("apply answer failed", zap.Error(err), zap.String("call_id", sig.CallID))
		m.resolve(sig.CallID, OutcomeFailed, false, "")
		return
	}

	m.mu.Lock()
	if m.call == nil || m.call.ID != sig.CallID || m.status != StatusRinging {
		m.mu.Unlock()
		return
	}
	m.stopRingTimerLocked()
	m.setStatusLocked(StatusConnected)
	m.call.ConnectedAt = time.Now()
	m.mu.Unlock()

	m.publishState()
	m.logger.Info("call connected", zap.String("call_id", sig.CallID))
}

// handleDeclined resolves the caller side when the recipient declines.
func (m *Machine) handleDeclined(payload json.RawMessage) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		m.logger.Warn("bad call:declined payload", zap.Error(err))
		return
	}
	m.resolve(sig.CallID, OutcomeDeclined, false, store.MarkerCallDeclined)
}

// handleEnded tears down on a remote hangup, without re-signaling.
func (m *Machine) handleEnded(payload json.RawMessage) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		m.logger.Warn("bad call:ended payload", zap.Error(err))
		return
	}
	m.resolve(sig.CallID, OutcomeEnded, false, "")
}

func (m *Machine) peerEvents(callID string) PeerEvents {
	return PeerEvents{
		OnClosed: func() {
			// Treated as an ended call, no re-signaling.
			m.logger.Warn("peer link closed unexpectedly", zap.String("call_id", callID))
			m.resolve(callID, OutcomeFailed, false, "")
		},
		OnRemoteTrack: func(TrackKind) {
			m.publishState()
		},
	}
}

// resolve moves the call with the given id to idle. Stale ids (a call that
// already resolved, or someone else's) are ignored: terminal state wins.
// emitEnd signals call:end to the other side; markerKind, when set, posts a
// conversation marker.
func (m *Machine) resolve(callID string, outcome Outcome, emitEnd bool, markerKind store.MarkerKind) {
	m.mu.Lock()
	if m.call == nil || m.call.ID != callID {
		m.mu.Unlock()
		return
	}
	call := m.call
	call.Outcome = outcome
	m.stopRingTimerLocked()
	// Local media is released synchronously on every teardown path so the
	// camera and microphone are never leaked.
	if m.stream != nil {
		m.stream.Stop()
	}
	if m.peer != nil {
		_ = m.peer.Close()
	}
	m.stream = nil
	m.peer = nil
	m.call = nil
	m.setStatusLocked(StatusIdle)
	m.muted = false
	m.cameraOff = false
	m.mu.Unlock()

	if emitEnd {
		m.sig.Emit(transport.EventCallEnd, Signal{
			CallID:   call.ID,
			From:     m.selfID,
			To:       call.Remote(),
			CallType: call.Type,
		})
	}
	if markerKind != "" {
		m.postMarker(call.ConversationID, markerKind, call.Type)
	}
	m.publishState()

	m.logger.Info("call resolved",
		zap.String("call_id", call.ID),
		zap.String("outcome", string(outcome)))
}

// startRingTimerLocked arms the ring timer for callID. Caller holds m.mu.
func (m *Machine) startRingTimerLocked(callID string) {
	m.ringTimer = time.AfterFunc(m.ringTimeout, func() {
		m.onRingTimeout(callID)
	})
}

// stopRingTimerLocked cancels the ring timer. Caller holds m.mu. Must run on
// every terminal transition so a stale timer cannot fire into a later call.
func (m *Machine) stopRingTimerLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

// onRingTimeout fires when a ringing call was neither accepted nor declined
// in time. Each side times out independently; no decline signal is sent, the
// other side's own timer resolves it there.
func (m *Machine) onRingTimeout(callID string) {
	m.mu.Lock()
	stale := m.call == nil || m.call.ID != callID || m.status != StatusRinging
	m.mu.Unlock()
	if stale {
		return
	}
	m.logger.Info("ring timeout", zap.String("call_id", callID))
	m.resolve(callID, OutcomeMissed, false, store.MarkerCallMissed)
}

func (m *Machine) postMarker(conversationID string, kind store.MarkerKind, t Type) {
	marker := store.CallMarker{Kind: kind, CallType: string(t)}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markerPostTimeout)
		defer cancel()
		_, err := m.markers.Send(ctx, conversationID, store.Draft{
			Text:       marker.Text(),
			CallMarker: &marker,
		})
		if err != nil {
			// The optimistic copy stays visible locally; nothing to roll back.
			m.logger.Warn("call marker post failed", zap.Error(err),
				zap.String("conversation_id", conversationID),
				zap.String("marker", string(kind)))
		}
	}()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindCallMarker,
			Timestamp: time.Now(),
			Payload:   store.MessageRef{ConversationID: conversationID},
		})
	}
}

func (m *Machine) setStatusLocked(to Status) {
	if err := checkTransition(m.status, to); err != nil {
		// Programmer error; transitions are driven by guarded entry points.
		m.logger.Error("call state transition rejected", zap.Error(err))
		return
	}
	m.status = to
}

func (m *Machine) clearBusy() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

func (m *Machine) publishState() {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      bus.KindCallStateChanged,
		Timestamp: time.Now(),
		Payload:   m.Snapshot(),
	})
}
