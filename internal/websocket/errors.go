package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrBufferFull       = errors.New("write buffer full")
)

// Registry-related errors
var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrMissingIdentifier = errors.New("connection must have an id before registration")
)
