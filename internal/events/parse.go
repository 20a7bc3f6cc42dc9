package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"liveattend/pkg/types"
)

// payload is one push message: {name?, student_id?, action?, time?}
type payload struct {
	Name      string       `json:"name"`
	StudentID types.FlexID `json:"student_id"`
	Action    string       `json:"action"`
	Time      string       `json:"time"`
}

// ParseEvent turns a push message into an AttendanceEvent. A missing time
// defaults to receivedAt. Any failure wraps types.ErrMalformedEvent.
// FUNCTIONAL DISCOVERY: only "out" is a check-out; every other non-empty
// action counts as a check-in
func ParseEvent(data []byte, sessionID string, receivedAt time.Time) (types.AttendanceEvent, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.AttendanceEvent{}, fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}

	action := strings.TrimSpace(p.Action)
	if action == "" {
		return types.AttendanceEvent{}, fmt.Errorf("%w: missing action", types.ErrMalformedEvent)
	}

	event := types.AttendanceEvent{
		SessionID:   sessionID,
		StudentID:   strings.TrimSpace(string(p.StudentID)),
		StudentName: strings.TrimSpace(p.Name),
		Action:      types.ActionCheckIn,
		Time:        receivedAt,
		ReceivedAt:  receivedAt,
	}
	if strings.EqualFold(action, string(types.ActionCheckOut)) {
		event.Action = types.ActionCheckOut
	}

	if p.Time != "" {
		t, err := types.ParseTimestamp(p.Time)
		if err != nil {
			return types.AttendanceEvent{}, fmt.Errorf("%w: time %q: %v", types.ErrMalformedEvent, p.Time, err)
		}
		event.Time = t
	}

	return event, nil
}

// StudentLabel is how a student is named in notifications
func StudentLabel(e types.AttendanceEvent) string {
	switch {
	case e.StudentName != "":
		return e.StudentName
	case e.StudentID != "":
		return "Student " + e.StudentID
	default:
		return "Unknown student"
	}
}

// Message renders "<student> checked in|out at <local time>"
func Message(e types.AttendanceEvent, layout string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("%s %s at %s", StudentLabel(e), e.Action.Verb(), e.Time.In(loc).Format(layout))
}
