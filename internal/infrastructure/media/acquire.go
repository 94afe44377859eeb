package media

import (
	"context"
	"errors"
	"fmt"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"go.uber.org/zap"
)

// Acquirer obtains a local stream for a call. It prefers real capture
// devices and falls back to a synthetic stream whenever the hardware path
// fails, so callers always get a usable stream back.
type Acquirer struct {
	devices ports.MediaDevices
	cfg     SyntheticConfig
	logger  *zap.Logger
	metrics ports.CallMetrics
}

func NewAcquirer(devices ports.MediaDevices, cfg SyntheticConfig, logger *zap.Logger, metrics ports.CallMetrics) *Acquirer {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Acquirer{
		devices: devices,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Acquire returns a local stream for the given call type. The hardware
// path is attempted only when every required device class is present;
// permission or capture failures degrade to the synthetic stream instead
// of failing the call.
func (a *Acquirer) Acquire(ctx context.Context, callType domain.CallType) (ports.LocalStream, error) {
	if a.devices != nil {
		stream, err := a.acquireHardware(ctx, callType)
		if err == nil {
			a.logger.Info("acquired local media",
				zap.String("call_type", string(callType)),
				zap.Int("tracks", len(stream.Tracks())))
			return stream, nil
		}
		a.logSkip(callType, err)
	}

	a.metrics.SyntheticFallback(callType)
	stream, err := NewSyntheticStream(callType, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("build synthetic stream: %w", err)
	}
	a.logger.Info("using synthetic local media", zap.String("call_type", string(callType)))
	return stream, nil
}

func (a *Acquirer) acquireHardware(ctx context.Context, callType domain.CallType) (ports.LocalStream, error) {
	devices := a.devices.Enumerate()

	var hasAudio, hasVideo bool
	for _, d := range devices {
		switch d.Kind {
		case domain.TrackKindAudio:
			hasAudio = true
		case domain.TrackKindVideo:
			hasVideo = true
		}
	}
	if !hasAudio {
		return nil, domain.ErrDeviceNotFound
	}
	if callType == domain.CallTypeVideo && !hasVideo {
		return nil, domain.ErrDeviceNotFound
	}

	return a.devices.GetUserMedia(ctx, callType)
}

func (a *Acquirer) logSkip(callType domain.CallType, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		a.logger.Info("media permission denied, degrading to synthetic stream",
			zap.String("call_type", string(callType)))
	case errors.Is(err, domain.ErrDeviceNotFound):
		a.logger.Info("no capture device available, degrading to synthetic stream",
			zap.String("call_type", string(callType)))
	default:
		a.logger.Warn("media capture failed, degrading to synthetic stream",
			zap.String("call_type", string(callType)), zap.Error(err))
	}
}
