package ports

import (
	"context"

	"peercall/internal/core/domain"
)

// SessionDirection tells a peer session which side of the offer/answer
// exchange it drives.
type SessionDirection string

const (
	SessionCaller   SessionDirection = "caller"
	SessionReceiver SessionDirection = "receiver"
)

// SessionHooks are the observers a controller registers on a peer session.
// All hooks may be invoked from session-internal goroutines.
type SessionHooks struct {
	// OnLocalCandidate fires for every locally discovered connectivity
	// candidate; it must be persisted to the store immediately.
	OnLocalCandidate func(cand domain.Candidate)

	// OnRemoteTrack fires when a remote media track arrives.
	OnRemoteTrack func(kind domain.TrackKind)

	// OnConnected fires once when the connection reaches the connected state.
	OnConnected func()

	// OnTerminated fires when the connection fails, closes, or the
	// connectivity-loss guard expires. It fires at most once.
	OnTerminated func(reason string)
}

// PeerSession wraps a single peer-to-peer media connection.
type PeerSession interface {
	Direction() SessionDirection

	AddLocalTracks(stream LocalStream) error

	// CreateOffer produces and locally applies the caller's offer.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)

	// CreateAnswer applies the remote offer and produces and locally
	// applies the receiver's answer.
	CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error)

	// ApplyAnswer applies the remote answer on the caller side. Applying
	// a second time is a no-op: a remote description is set at most once.
	ApplyAnswer(answer domain.SessionDescription) error

	// AddRemoteCandidate applies one remote candidate. Candidates arriving
	// before the remote description are queued in arrival order and
	// drained once it is set.
	AddRemoteCandidate(cand domain.Candidate) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// PeerSessionFactory creates one session per call attempt.
type PeerSessionFactory interface {
	NewSession(callID domain.CallID, direction SessionDirection, hooks SessionHooks) (PeerSession, error)
}
