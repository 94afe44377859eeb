package domain

import "errors"

var (
	ErrCallNotFound     = errors.New("call not found")
	ErrAlreadyInCall    = errors.New("already in a call")
	ErrNotInCall        = errors.New("no active call")
	ErrCallTerminal     = errors.New("call already in a terminal status")
	ErrSessionClosed    = errors.New("peer session closed")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceBusy       = errors.New("media device busy")
)
