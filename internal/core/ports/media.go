package ports

import (
	"context"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v4"
)

// MediaDeviceInfo describes one capture device reported by the platform.
type MediaDeviceInfo struct {
	ID    string
	Kind  domain.TrackKind
	Label string
}

// LocalTrack is a local media track that can be attached to a peer session.
type LocalTrack interface {
	domain.MediaTrack

	// RTPTrack returns the underlying track handed to the peer connection.
	RTPTrack() webrtc.TrackLocal
}

// LocalStream is the media-handle side of a domain.MediaStream.
type LocalStream interface {
	domain.MediaStream
	LocalTracks() []LocalTrack
}

// MediaDevices is the hardware-facing capture interface. GetUserMedia fails
// with typed errors (domain.ErrPermissionDenied, domain.ErrDeviceNotFound,
// domain.ErrDeviceBusy) that the acquirer converts into a synthetic fallback.
type MediaDevices interface {
	Enumerate() []MediaDeviceInfo
	GetUserMedia(ctx context.Context, callType domain.CallType) (LocalStream, error)
}

// MediaAcquirer obtains the local stream for a call. It degrades rather than
// errors: when no usable device exists or capture fails, it returns a
// synthetic stream, so acquisition never blocks the calling flow.
type MediaAcquirer interface {
	Acquire(ctx context.Context, callType domain.CallType) (LocalStream, error)
}
