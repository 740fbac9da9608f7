package call

import (
	"context"
	"errors"
)

// ErrMediaUnavailable is returned when local capture devices are denied or
// absent. It aborts only the call attempt being made.
var ErrMediaUnavailable = errors.New("local media unavailable")

// TrackKind distinguishes capture track types.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one live local capture track.
type Track interface {
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the underlying device. Idempotent.
	Stop()
	Stopped() bool
}

// Stream is the set of local tracks acquired for one call.
type Stream interface {
	Tracks() []Track
	// Stop stops every track. Idempotent; always called synchronously on
	// teardown so camera and microphone are never leaked.
	Stop()
}

// Devices acquires local capture matching a call type: mic only for audio
// calls, camera plus mic for video calls.
type Devices interface {
	Acquire(ctx context.Context, t Type) (Stream, error)
}
