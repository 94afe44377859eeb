//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"strings"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

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

// Devices captures camera and microphone through pion/mediadevices
// (V4L2 + malgo on Linux).
type Devices struct {
	cfg    SyntheticConfig
	logger *zap.Logger
}

func NewDevices(cfg SyntheticConfig, logger *zap.Logger) *Devices {
	return &Devices{cfg: cfg, logger: logger}
}

func (d *Devices) Enumerate() []ports.MediaDeviceInfo {
	devices := mediadevices.EnumerateDevices()
	out := make([]ports.MediaDeviceInfo, 0, len(devices))
	for _, dev := range devices {
		var kind domain.TrackKind
		switch dev.Kind {
		case mediadevices.AudioInput:
			kind = domain.TrackKindAudio
		case mediadevices.VideoInput:
			kind = domain.TrackKindVideo
		default:
			continue
		}
		out = append(out, ports.MediaDeviceInfo{
			ID:    dev.DeviceID,
			Label: dev.Label,
			Kind:  kind,
		})
	}
	return out
}

func (d *Devices) GetUserMedia(_ context.Context, callType domain.CallType) (ports.LocalStream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if callType == domain.CallTypeVideo {
		maxWidth, maxHeight := d.cfg.VideoWidth, d.cfg.VideoHeight
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG: some cameras expose an MJPEG V4L2 node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: maxWidth}
			c.Height = prop.IntRanged{Max: maxHeight}
		}
	}

	mediaStream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyCaptureError(err)
	}

	var tracks []*track
	for _, mdTrack := range mediaStream.GetTracks() {
		mdTrack := mdTrack
		var kind domain.TrackKind
		switch mdTrack.Kind() {
		case webrtc.RTPCodecTypeAudio:
			kind = domain.TrackKindAudio
		case webrtc.RTPCodecTypeVideo:
			kind = domain.TrackKindVideo
		default:
			mdTrack.Close()
			continue
		}
		mdTrack.OnEnded(func(err error) {
			if err != nil {
				d.logger.Warn("local capture track ended",
					zap.String("kind", string(kind)), zap.Error(err))
			}
		})
		tracks = append(tracks, newTrack(kind, mdTrack, mdTrack.Close))
	}
	if len(tracks) == 0 {
		return nil, domain.ErrDeviceNotFound
	}

	return newStream(false, tracks...), nil
}

// classifyCaptureError maps driver error strings onto the typed
// capture errors so callers can tell permission problems from busy or
// missing devices.
func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case strings.Contains(msg, "device or resource busy"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceBusy, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	default:
		return err
	}
}
