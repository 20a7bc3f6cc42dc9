package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"liveattend/internal/metrics"
	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// Sources a summary can be computed from
const (
	SourceBackend = "backend"
	SourceJournal = "journal"
)

var ErrSourceUnavailable = errors.New("summary source not configured")

// Summary is a session with its metrics, computed at ComputedAt
type Summary struct {
	Session    types.Session        `json:"session"`
	Metrics    types.SessionMetrics `json:"metrics"`
	Source     string               `json:"source"`
	ComputedAt time.Time            `json:"computed_at"`
}

// Service computes summaries on every request; nothing is cached or stored
type Service struct {
	source  interfaces.AttendanceSource
	journal interfaces.JournalStore
	now     func() time.Time
}

// NewService creates a summary service. Either dependency may be nil, which
// disables the matching summary.
func NewService(source interfaces.AttendanceSource, journal interfaces.JournalStore) *Service {
	return &Service{source: source, journal: journal, now: time.Now}
}

// BackendSummary computes metrics from the backend's roster and attendance
// records for one session of a class
func (s *Service) BackendSummary(ctx context.Context, classID, sessionID string) (*Summary, error) {
	if s.source == nil {
		return nil, ErrSourceUnavailable
	}

	sessions, err := s.source.ClassSessions(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var session *types.Session
	for i := range sessions {
		if sessions[i].ID == sessionID {
			session = &sessions[i]
			break
		}
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s in class %s", interfaces.ErrSessionNotFound, sessionID, classID)
	}

	roster, err := s.source.ClassRoster(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	records, err := s.source.SessionAttendance(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}

	bounds := types.SessionBounds{Start: session.StartTime, End: session.EndTime}
	return &Summary{
		Session:    *session,
		Metrics:    metrics.Compute(bounds, roster, metrics.IntervalsFromRecords(records)),
		Source:     SourceBackend,
		ComputedAt: s.now(),
	}, nil
}

// JournalSummary computes metrics from the events journaled during a live run
func (s *Service) JournalSummary(ctx context.Context, sessionID string) (*Summary, error) {
	if s.journal == nil {
		return nil, ErrSourceUnavailable
	}

	record, err := s.journal.GetLiveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := s.journal.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	intervals := metrics.IntervalsFromEvents(metrics.ResolveStudents(events, record.Roster))
	return &Summary{
		Session:    record.Session,
		Metrics:    metrics.Compute(journalBounds(record, s.now()), record.Roster, intervals),
		Source:     SourceJournal,
		ComputedAt: s.now(),
	}, nil
}

// RecentRuns lists the most recently started live runs from the journal
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]*types.LiveSessionRecord, error) {
	if s.journal == nil {
		return nil, ErrSourceUnavailable
	}
	return s.journal.ListLiveSessions(ctx, limit)
}

// journalBounds falls back to the local run times where the session does
// not declare its own
func journalBounds(record *types.LiveSessionRecord, now time.Time) types.SessionBounds {
	bounds := types.SessionBounds{Start: record.Session.StartTime, End: record.Session.EndTime}
	if bounds.Start.IsZero() {
		bounds.Start = record.StartedAt
	}
	if bounds.End.IsZero() {
		if record.StoppedAt != nil {
			bounds.End = *record.StoppedAt
		} else {
			bounds.End = now
		}
	}
	return bounds
}
