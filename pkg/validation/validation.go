package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// CallIDRegex validates call ID format
	CallIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_@.-]+$`)
)

// ValidateCallID validates call ID
func ValidateCallID(callID string) error {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return fmt.Errorf("call id is required")
	}
	if len(callID) > 128 {
		return fmt.Errorf("call id is too long (max 128 characters)")
	}
	if !CallIDRegex.MatchString(callID) {
		return fmt.Errorf("call id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateUserID validates user ID
func ValidateUserID(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(userID) > 128 {
		return fmt.Errorf("user id is too long (max 128 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("user id contains invalid characters")
	}
	return nil
}

// ValidateCallType validates call type
func ValidateCallType(callType string) error {
	switch callType {
	case "audio", "video":
		return nil
	}
	return fmt.Errorf("invalid call type %q (must be audio or video)", callType)
}

// ValidateCallStatus validates a stored call status value
func ValidateCallStatus(status string) error {
	switch status {
	case "ringing", "connected", "declined", "ended", "missed", "busy":
		return nil
	}
	return fmt.Errorf("invalid call status %q", status)
}

// ValidateSessionDescription validates a serialized session description
func ValidateSessionDescription(sdpType, sdp string) error {
	switch sdpType {
	case "offer", "answer":
	default:
		return fmt.Errorf("invalid session description type %q", sdpType)
	}
	if strings.TrimSpace(sdp) == "" {
		return fmt.Errorf("session description payload is empty")
	}
	return nil
}

// ValidateDisplayName validates snapshotted display metadata
func ValidateDisplayName(name string) error {
	if len(name) > 200 {
		return fmt.Errorf("display name is too long (max 200 characters)")
	}
	return nil
}

// ValidateNonEmptyString validates that a string is not empty
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
