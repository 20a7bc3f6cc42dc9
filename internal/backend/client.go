package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"liveattend/pkg/types"
)

// Client reads the backend attendance query surface
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type attendanceEntry struct {
	StudentID     types.FlexID `json:"student_id"`
	Name          string       `json:"name"`
	InTime        *string      `json:"in_time"`
	OutTime       *string      `json:"out_time"`
	AvgConfidence *float64     `json:"avg_confidence"`
}

type studentRef struct {
	ID   types.FlexID `json:"id"`
	Name string       `json:"name"`
}

type sessionWithStats struct {
	ID            types.FlexID `json:"id"`
	ClassID       types.FlexID `json:"class_id"`
	StartTime     string       `json:"start_time"`
	EndTime       string       `json:"end_time"`
	PresentCount  int          `json:"present_count"`
	TotalStudents int          `json:"total_students"`
}

// SessionAttendance returns GET /api/sessions/{id}/attendance
func (c *Client) SessionAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error) {
	if sessionID == "" {
		return nil, ErrMissingID
	}

	var entries []attendanceEntry
	if err := c.getJSON(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/attendance", &entries); err != nil {
		return nil, err
	}

	records := make([]types.AttendanceRecord, 0, len(entries))
	for _, e := range entries {
		in, err := optionalTime(e.InTime)
		if err != nil {
			return nil, fmt.Errorf("%w: in_time for %s: %v", ErrInvalidPayload, e.StudentID, err)
		}
		out, err := optionalTime(e.OutTime)
		if err != nil {
			return nil, fmt.Errorf("%w: out_time for %s: %v", ErrInvalidPayload, e.StudentID, err)
		}
		records = append(records, types.AttendanceRecord{
			StudentID:     string(e.StudentID),
			Name:          e.Name,
			InTime:        in,
			OutTime:       out,
			AvgConfidence: e.AvgConfidence,
		})
	}
	return records, nil
}

// ClassRoster returns GET /api/classes/{id}/students
func (c *Client) ClassRoster(ctx context.Context, classID string) (types.Roster, error) {
	if classID == "" {
		return nil, ErrMissingID
	}

	var refs []studentRef
	if err := c.getJSON(ctx, "/api/classes/"+url.PathEscape(classID)+"/students", &refs); err != nil {
		return nil, err
	}

	roster := make(types.Roster, 0, len(refs))
	for _, r := range refs {
		roster = append(roster, types.Student{ID: string(r.ID), Name: r.Name})
	}
	return roster, nil
}

// ClassSessions returns GET /api/classes/{id}/sessions/with-stats
func (c *Client) ClassSessions(ctx context.Context, classID string) ([]types.Session, error) {
	if classID == "" {
		return nil, ErrMissingID
	}

	var rows []sessionWithStats
	if err := c.getJSON(ctx, "/api/classes/"+url.PathEscape(classID)+"/sessions/with-stats", &rows); err != nil {
		return nil, err
	}

	sessions := make([]types.Session, 0, len(rows))
	for _, r := range rows {
		start, err := types.ParseTimestamp(r.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: start_time for session %s: %v", ErrInvalidPayload, r.ID, err)
		}
		end, err := types.ParseTimestamp(r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("%w: end_time for session %s: %v", ErrInvalidPayload, r.ID, err)
		}
		sessions = append(sessions, types.Session{
			ID:         string(r.ID),
			ClassID:    string(r.ClassID),
			StartTime:  start,
			EndTime:    end,
			RosterSize: r.TotalStudents,
		})
	}
	return sessions, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(text))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: GET %s: %d %s", ErrUnexpectedStatus, path, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrInvalidPayload, path, err)
	}
	return nil
}

func optionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := types.ParseTimestamp(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
