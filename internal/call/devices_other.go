//go:build !linux || !cgo

package call

import (
	"context"

	"go.uber.org/zap"
)

// NewDevices returns a receive-only stub on platforms without native capture
// drivers (pion/mediadevices needs V4L2/malgo, Linux only). Calls still
// connect and can play remote media; the local side sends nothing.
func NewDevices(logger *zap.Logger) Devices {
	return &stubDevices{logger: logger}
}

type stubDevices struct {
	logger *zap.Logger
}

func (d *stubDevices) Acquire(_ context.Context, t Type) (Stream, error) {
	d.logger.Warn("no native capture on this platform, proceeding receive-only",
		zap.String("call_type", string(t)))
	return &stubStream{}, nil
}

type stubStream struct{}

func (*stubStream) Tracks() []Track { return nil }
func (*stubStream) Stop()           {}
