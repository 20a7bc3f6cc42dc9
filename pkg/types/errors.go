package types

import "errors"

// Error taxonomy shared by the controller components
var (
	ErrSignalingFailed      = errors.New("signaling failed")
	ErrMalformedEvent       = errors.New("malformed attendance event")
	ErrConnectionLost       = errors.New("media connection lost")
	ErrInvalidSessionWindow = errors.New("invalid session window")
)

// Validation errors
var (
	ErrMissingSessionID = errors.New("session id is required")
	ErrInvalidStudentID = errors.New("student id must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrDuplicateStudent = errors.New("duplicate student in roster")
	ErrInvalidAction    = errors.New("attendance action must be \"in\" or \"out\"")
)

// UserMessage turns an error into text that is safe to show to the user
// FUNCTIONAL DISCOVERY: raw transport errors are never surfaced, only logged
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSessionWindow):
		return "This session has already ended or has no valid end time."
	case errors.Is(err, ErrConnectionLost):
		return "The live video connection was lost. Please check your connection and try again."
	case errors.Is(err, ErrSignalingFailed):
		return "Could not connect to the attendance server. Please check your connection and try again."
	default:
		return "Something went wrong while running the live session. Please try again."
	}
}
