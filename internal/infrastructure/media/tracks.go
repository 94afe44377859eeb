package media

import (
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/pion/webrtc/v4"
)

// track is the common LocalTrack implementation for hardware and synthetic
// sources. The enabled flag is a local presentation toggle only; it never
// renegotiates the session.
type track struct {
	kind     domain.TrackKind
	rtpTrack webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	closed  bool

	// stop halts the source behind the track (synthetic generator or
	// hardware capture). May be nil.
	stop func() error
}

func newTrack(kind domain.TrackKind, rtpTrack webrtc.TrackLocal, stop func() error) *track {
	return &track{
		kind:     kind,
		rtpTrack: rtpTrack,
		enabled:  true,
		stop:     stop,
	}
}

func (t *track) Kind() domain.TrackKind { return t.kind }

func (t *track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *track) RTPTrack() webrtc.TrackLocal { return t.rtpTrack }

func (t *track) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.stop != nil {
		return t.stop()
	}
	return nil
}

// stream groups the local tracks for one call.
type stream struct {
	tracks    []*track
	synthetic bool

	closeOnce sync.Once
	closeErr  error
}

func newStream(synthetic bool, tracks ...*track) *stream {
	return &stream{tracks: tracks, synthetic: synthetic}
}

func (s *stream) Tracks() []domain.MediaTrack {
	out := make([]domain.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *stream) Track(kind domain.TrackKind) (domain.MediaTrack, bool) {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}

func (s *stream) LocalTracks() []ports.LocalTrack {
	out := make([]ports.LocalTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *stream) Synthetic() bool { return s.synthetic }

// Close stops every track. Idempotent.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
