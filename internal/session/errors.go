package session

import "errors"

// Connection manager errors
var (
	ErrNilSession       = errors.New("session is required")
	ErrAttemptAborted   = errors.New("connection attempt superseded by a newer start or stop")
	ErrNoFirstFrame     = errors.New("no media received before the first-frame deadline")
	ErrManagerNotInited = errors.New("connection manager has not been initialized")
)
