package notify

import "errors"

// Sentinel errors for live sessions and relays.
var (
	ErrSessionClosed  = errors.New("session closed")
	ErrMissingSubject = errors.New("subject identity is required")
	ErrPublishTimeout = errors.New("publish timed out")
	ErrNotConnected   = errors.New("broker not connected")
	ErrNotSubscribed  = errors.New("relay is not subscribed")
)
