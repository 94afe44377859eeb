package ports

import (
	"context"

	"peercall/internal/core/domain"
)

// ChangeKind classifies a change delivered by a store watch.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// CallEvent is one change to a call record observed via a watch.
type CallEvent struct {
	Kind   ChangeKind
	Record domain.CallRecord
}

// CandidateEvent is one connectivity candidate appended to a sub-collection.
type CandidateEvent struct {
	Candidate domain.Candidate
}

// CancelFunc cancels a watch. It is synchronous and idempotent: after it
// returns, no further events are delivered and the event channel is closed.
type CancelFunc func()

// SignalingStore is the document store both peers reach to coordinate a call.
// Records are keyed by call id; candidates live in append-only per-direction
// sub-collections under a record. Watches deliver every change matching the
// query until cancelled.
type SignalingStore interface {
	CreateCall(ctx context.Context, record *domain.CallRecord) error
	GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error)

	// UpdateCall applies a partial update. Returns domain.ErrCallNotFound
	// when the record is gone; callers performing best-effort terminal
	// writes treat that as non-fatal.
	UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error
	DeleteCall(ctx context.Context, id domain.CallID) error

	AddCandidate(ctx context.Context, cand domain.Candidate) error
	Candidates(ctx context.Context, id domain.CallID, dir domain.CandidateDirection) ([]domain.Candidate, error)

	// WatchCall streams changes to one record.
	WatchCall(ctx context.Context, id domain.CallID) (<-chan CallEvent, CancelFunc, error)

	// WatchIncoming streams newly created records addressed to receiver in
	// the ringing status. Updates to an already-delivered record are not
	// re-delivered as ChangeAdded.
	WatchIncoming(ctx context.Context, receiver domain.UserID) (<-chan CallEvent, CancelFunc, error)

	// WatchCandidates streams candidates appended to one directional
	// sub-collection, including any already present at watch time, in
	// arrival order.
	WatchCandidates(ctx context.Context, id domain.CallID, dir domain.CandidateDirection) (<-chan CandidateEvent, CancelFunc, error)
}
