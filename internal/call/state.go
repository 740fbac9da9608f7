package call

import (
	"fmt"
	"slices"
	"time"
)

// Type is the media profile of a call.
type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

// Status is the live state of the call machine.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRinging   Status = "RINGING"
	StatusConnected Status = "CONNECTED"
)

// validTransitions defines allowed machine transitions. Every teardown path
// lands on idle; ringing either connects or resolves.
var validTransitions = map[Status][]Status{
	StatusIdle:      {StatusRinging},
	StatusRinging:   {StatusConnected, StatusIdle},
	StatusConnected: {StatusIdle},
}

func checkTransition(from, to Status) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// Outcome records how a call resolved, set at teardown.
type Outcome string

const (
	OutcomeEnded    Outcome = "ended"
	OutcomeDeclined Outcome = "declined"
	OutcomeMissed   Outcome = "missed"
	OutcomeFailed   Outcome = "failed"
)

// Call is the singleton call record. The machine exclusively owns mutation;
// everyone else sees copies.
type Call struct {
	ID             string
	Caller         string
	Recipient      string
	Type           Type
	ConversationID string
	Outgoing       bool
	StartedAt      time.Time
	ConnectedAt    time.Time
	Outcome        Outcome

	// remoteOffer holds the caller's SDP on the recipient side until the
	// call is accepted.
	remoteOffer string
}

// Remote returns the other participant's user id.
func (c *Call) Remote() string {
	if c.Outgoing {
		return c.Recipient
	}
	return c.Caller
}

// Signal is the wire payload echoed in every signaling event. CallID is
// caller-generated and globally unique, so stale events for superseded
// calls are filtered by id.
type Signal struct {
	CallID         string `json:"callId"`
	From           string `json:"from"`
	To             string `json:"to"`
	ConversationID string `json:"conversationId"`
	CallType       Type   `json:"callType"`
	SDP            string `json:"sdp,omitempty"`
}

// Snapshot is the read-only view handed to observers on every state change.
type Snapshot struct {
	Status      Status
	Call        *Call
	Muted       bool
	CameraOff   bool
	RemoteLive  bool
	ConnectedAt time.Time
}

// Duration returns how long the call has been connected, zero before that.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedAt)
}
