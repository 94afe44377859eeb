package domain

import "time"

type CallID string
type UserID string

// CallType selects which device classes a call captures. Immutable once set.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is the lifecycle state of a call record. Values are part of the
// wire format shared with the remote peer; keep them stable.
type CallStatus string

const (
	// StatusCalling is a local-only label for "I am the caller and waiting".
	// It is never written to the signaling store; StatusRinging is the
	// canonical broadcast status for a call awaiting an answer.
	StatusCalling   CallStatus = "calling"
	StatusRinging   CallStatus = "ringing"
	StatusConnected CallStatus = "connected"
	StatusDeclined  CallStatus = "declined"
	StatusEnded     CallStatus = "ended"
	StatusMissed    CallStatus = "missed"
	StatusBusy      CallStatus = "busy"
)

// Terminal reports whether no further status transition is allowed.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusDeclined, StatusEnded, StatusMissed, StatusBusy:
		return true
	}
	return false
}

// SessionDescription is a serialized SDP blob (offer or answer).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CallRecord is the shared document coordinating one call attempt between two
// peers. Display metadata is snapshotted at call start and never re-fetched.
// Offer is written exactly once by the caller, Answer exactly once by the
// receiver, Status by whichever peer terminates. Each field has exactly one
// writer role.
type CallRecord struct {
	ID            CallID              `json:"id"`
	CallerID      UserID              `json:"caller_id"`
	ReceiverID    UserID              `json:"receiver_id"`
	CallerName    string              `json:"caller_name"`
	CallerImage   string              `json:"caller_image"`
	ReceiverName  string              `json:"receiver_name"`
	ReceiverImage string              `json:"receiver_image"`
	CallType      CallType            `json:"call_type"`
	Status        CallStatus          `json:"status"`
	Offer         *SessionDescription `json:"offer,omitempty"`
	Answer        *SessionDescription `json:"answer,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// CallUpdate is a partial update to a call record. Nil fields are untouched.
// Answer and Status are the only mutable fields after creation.
type CallUpdate struct {
	Status *CallStatus
	Answer *SessionDescription
}

// CandidateDirection names the sub-collection a connectivity candidate
// belongs to: candidates discovered by the caller go to DirectionCaller and
// are consumed by the receiver, and vice versa.
type CandidateDirection string

const (
	DirectionCaller CandidateDirection = "caller"
	DirectionCallee CandidateDirection = "callee"
)

// Candidate is an opaque connectivity-negotiation blob. Payload carries the
// serialized ICE candidate; the store never inspects it.
type Candidate struct {
	CallID    CallID             `json:"call_id"`
	Direction CandidateDirection `json:"direction"`
	Payload   string             `json:"payload"`
}
