package call

// Peer is the live media-signaling session bound to one Call. Created when a
// call is initiated or accepted, destroyed when the call ends for any reason.
// The pion implementation lives in pion.go; tests substitute a fake.
type Peer interface {
	// CreateOffer produces the local SDP offer (offerer role).
	CreateOffer() (string, error)
	// AcceptOffer applies the remote offer and produces the answer
	// (answerer role).
	AcceptOffer(offer string) (string, error)
	// ApplyAnswer applies the remote answer on the offerer side.
	ApplyAnswer(answer string) error
	// RemoteLive reports whether remote media has arrived.
	RemoteLive() bool
	// Close releases the peer session. Idempotent.
	Close() error
}

// PeerEvents are callbacks a peer fires toward the machine.
type PeerEvents struct {
	// OnClosed fires once when the session dies unexpectedly (ICE failure,
	// remote close). Not fired on local Close.
	OnClosed func()
	// OnRemoteTrack fires when a remote media track arrives.
	OnRemoteTrack func(kind TrackKind)
}

// PeerFactory builds a Peer around an acquired local stream.
type PeerFactory func(stream Stream, events PeerEvents) (Peer, error)
