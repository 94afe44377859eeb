package ports

import (
	"context"

	"peercall/internal/core/domain"
)

// CallService is the command surface the gateway exposes to a UI shell.
// Implemented by the call controller.
type CallService interface {
	State() domain.CallState
	StartCall(ctx context.Context, receiverID domain.UserID, receiverName, receiverImage string, callType domain.CallType) error
	AnswerCall(ctx context.Context, callID domain.CallID) error
	DeclineCall(ctx context.Context, callID domain.CallID) error
	EndCall(ctx context.Context) error
	ToggleMute() error
	ToggleVideo() error
}
