//go:build linux && cgo

package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// NewDevices returns the capture implementation for this platform
// (V4L2 camera + malgo microphone via pion/mediadevices).
func NewDevices(logger *zap.Logger) Devices {
	return &linuxDevices{logger: logger}
}

type linuxDevices struct {
	logger *zap.Logger
}

func (d *linuxDevices) Acquire(_ context.Context, t Type) (Stream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("%w: vp8 params: %v", ErrMediaUnavailable, err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus params: %v", ErrMediaUnavailable, err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if t == TypeVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only: some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		d.logger.Warn("media capture failed", zap.Error(err), zap.String("call_type", string(t)))
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	stream := &deviceStream{selector: selector}
	for _, track := range ms.GetTracks() {
		kind := TrackAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = TrackVideo
		}
		stream.tracks = append(stream.tracks, &deviceTrack{track: track, kind: kind, enabled: true})
	}
	d.logger.Info("local media captured",
		zap.String("call_type", string(t)), zap.Int("tracks", len(stream.tracks)))
	return stream, nil
}

type deviceStream struct {
	selector *mediadevices.CodecSelector
	tracks   []Track
}

func (s *deviceStream) Tracks() []Track { return s.tracks }

func (s *deviceStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// PopulateEngine registers the codecs these tracks encode with, so the peer
// connection negotiates what the capture pipeline actually produces.
func (s *deviceStream) PopulateEngine(engine *webrtc.MediaEngine) error {
	s.selector.Populate(engine)
	return nil
}

type deviceTrack struct {
	track mediadevices.Track
	kind  TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *deviceTrack) Kind() TrackKind { return t.kind }

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	_ = t.track.Close()
}

func (t *deviceTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// RTCTrack exposes the underlying pion track for peer attachment.
func (t *deviceTrack) RTCTrack() webrtc.TrackLocal { return t.track }
