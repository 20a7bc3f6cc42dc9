package types

import (
	"fmt"
	"regexp"
	"time"
)

var studentIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateWindow checks that the session can still be run at now
// FUNCTIONAL DISCOVERY: rejected before any network call so no partial
// connection state is ever created for a dead window
func (s *Session) ValidateWindow(now time.Time) error {
	if s.ID == "" {
		return ErrMissingSessionID
	}
	if !s.HasDeadline() {
		return nil
	}
	if !s.EndTime.After(now) {
		return fmt.Errorf("%w: end time %s is not in the future", ErrInvalidSessionWindow, s.EndTime.Format(time.RFC3339))
	}
	if !s.StartTime.IsZero() && s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("%w: end time precedes start time", ErrInvalidSessionWindow)
	}
	return nil
}

// Validate ensures roster ids are well formed and unique
func (r Roster) Validate() error {
	seen := make(map[string]bool, len(r))
	for _, s := range r {
		if !IsValidStudentID(s.ID) {
			return fmt.Errorf("%w: %q", ErrInvalidStudentID, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateStudent, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Validate checks an event before it is journaled
func (e *AttendanceEvent) Validate() error {
	if e.SessionID == "" {
		return ErrMissingSessionID
	}
	if e.Action != ActionCheckIn && e.Action != ActionCheckOut {
		return ErrInvalidAction
	}
	return nil
}

// IsValidStudentID checks the roster id format
func IsValidStudentID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return studentIDRegex.MatchString(id)
}
