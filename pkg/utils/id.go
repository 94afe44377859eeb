package utils

import (
	"github.com/google/uuid"
)

// GenerateCallID generates a unique call ID for one call attempt.
func GenerateCallID() string {
	return "call_" + uuid.NewString()
}

// GenerateClientID generates a unique ID for a gateway websocket client.
func GenerateClientID() string {
	return "client_" + uuid.NewString()
}
