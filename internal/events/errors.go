package events

import "errors"

var (
	ErrMissingSessionID   = errors.New("subscription requires a session id")
	ErrSubscriptionClosed = errors.New("subscription closed")
)
