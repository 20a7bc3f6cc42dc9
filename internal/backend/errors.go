package backend

import "errors"

var (
	ErrUnexpectedStatus = errors.New("unexpected status from backend")
	ErrMissingID        = errors.New("id is required")
	ErrInvalidPayload   = errors.New("backend returned an invalid payload")
)
