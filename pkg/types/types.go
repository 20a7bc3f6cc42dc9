package types

import (
	"time"
)

// ConnectionState is the state of the live media connection
// FUNCTIONAL DISCOVERY: disconnected is both the initial and the terminal state;
// a new session may always be started from it
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// IsValid reports whether s is one of the four known states
func (s ConnectionState) IsValid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateError:
		return true
	default:
		return false
	}
}

// Session is a scheduled class session bound to a live attendance run
// FUNCTIONAL DISCOVERY: Session is immutable once created. EndTime is advisory
// to the client (auto-stop) and authoritative on the server
type Session struct {
	ID         string    `json:"id" db:"id"`
	ClassID    string    `json:"class_id" db:"class_id"`
	StartTime  time.Time `json:"start_time" db:"start_time"`
	EndTime    time.Time `json:"end_time" db:"end_time"`
	RosterSize int       `json:"roster_size" db:"roster_size"`
}

// HasDeadline reports whether the session declares an end time
func (s *Session) HasDeadline() bool {
	return !s.EndTime.IsZero()
}

// Student is a roster member
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Roster is the ordered list of students expected in a session
type Roster []Student

// Names returns the id -> name mapping sent to the signaling endpoint
func (r Roster) Names() map[string]string {
	names := make(map[string]string, len(r))
	for _, s := range r {
		names[s.ID] = s.Name
	}
	return names
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate mirrors the browser RTCIceCandidateInit JSON shape
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SessionContext carries what the remote media endpoint needs to attribute
// recognitions to a session
type SessionContext struct {
	SessionID string
	EndTime   time.Time
	Roster    map[string]string
}

// AttendanceAction is the kind of presence change reported by the server
type AttendanceAction string

const (
	ActionCheckIn  AttendanceAction = "in"
	ActionCheckOut AttendanceAction = "out"
)

// Verb returns the human readable form used in notifications
func (a AttendanceAction) Verb() string {
	if a == ActionCheckOut {
		return "checked out"
	}
	return "checked in"
}

// AttendanceEvent is one check-in or check-out received from the live feed
type AttendanceEvent struct {
	ID          string           `json:"id" db:"id"`
	SessionID   string           `json:"session_id" db:"session_id"`
	StudentID   string           `json:"student_id,omitempty" db:"student_id"`
	StudentName string           `json:"name,omitempty" db:"name"`
	Action      AttendanceAction `json:"action" db:"action"`
	Time        time.Time        `json:"time" db:"event_time"`
	ReceivedAt  time.Time        `json:"received_at" db:"received_at"`
}

// AttendanceInterval is a student's presence window
// FUNCTIONAL DISCOVERY: nil CheckIn means absent; non-nil CheckIn with nil
// CheckOut is present but not verified
type AttendanceInterval struct {
	StudentID     string     `json:"student_id"`
	CheckIn       *time.Time `json:"in_time"`
	CheckOut      *time.Time `json:"out_time"`
	AvgConfidence *float64   `json:"avg_confidence,omitempty"`
}

// AttendanceRecord is the raw row returned by the attendance query surface
type AttendanceRecord struct {
	StudentID     string     `json:"student_id"`
	Name          string     `json:"name"`
	InTime        *time.Time `json:"in_time"`
	OutTime       *time.Time `json:"out_time"`
	AvgConfidence *float64   `json:"avg_confidence,omitempty"`
}

// SessionBounds is the [start, end] window metrics are computed against
type SessionBounds struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AttendanceStatus is derived per roster member
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
)

// StudentMetrics is the per-student part of a session summary
type StudentMetrics struct {
	StudentID     string           `json:"student_id"`
	Name          string           `json:"name"`
	Status        AttendanceStatus `json:"status"`
	Verified      bool             `json:"verified"`
	AttendancePct int              `json:"attendance_pct"`
	LastSeen      *time.Time       `json:"last_seen,omitempty"`
	Confidence    *float64         `json:"confidence,omitempty"`
}

// SessionMetrics is derived on demand and never persisted
type SessionMetrics struct {
	Students        []StudentMetrics `json:"students"`
	CoveragePct     int              `json:"coverage_pct"`
	PresentCount    int              `json:"present_count"`
	AbsentCount     int              `json:"absent_count"`
	VerifiedCount   int              `json:"verified_count"`
	DurationMinutes int              `json:"duration_minutes"`
}

// Notification is what the controller decides to announce to the user
type Notification struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Message   string           `json:"message"`
	Event     *AttendanceEvent `json:"event,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// StateSnapshot is a connection state change as observed by the UI
type StateSnapshot struct {
	State       ConnectionState `json:"state"`
	SessionID   string          `json:"session_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	UserMessage string          `json:"user_message,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Update kinds fanned out to observers
const (
	UpdateKindState        = "state"
	UpdateKindNotification = "notification"
)

// Update is the envelope written to observers
// ARCHITECTURAL DISCOVERY: exactly one of State or Notification is set,
// Kind tells the client which one
type Update struct {
	Kind         string         `json:"kind"`
	State        *StateSnapshot `json:"state,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

// LiveSessionRecord is a journaled live run: the session as started, its
// roster, and when the run began and ended on this client
type LiveSessionRecord struct {
	Session   Session    `json:"session"`
	Roster    Roster     `json:"roster"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}
