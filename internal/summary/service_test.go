package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

var nine = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func at(min int) *time.Time {
	t := nine.Add(time.Duration(min) * time.Minute)
	return &t
}

type mockSource struct {
	sessions []types.Session
	roster   types.Roster
	records  []types.AttendanceRecord
	err      error
}

func (m *mockSource) SessionAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error) {
	return m.records, m.err
}

func (m *mockSource) ClassRoster(ctx context.Context, classID string) (types.Roster, error) {
	return m.roster, nil
}

func (m *mockSource) ClassSessions(ctx context.Context, classID string) ([]types.Session, error) {
	return m.sessions, nil
}

type mockJournal struct {
	interfaces.JournalStore
	record *types.LiveSessionRecord
	events []*types.AttendanceEvent
}

func (m *mockJournal) GetLiveSession(ctx context.Context, sessionID string) (*types.LiveSessionRecord, error) {
	if m.record == nil || m.record.Session.ID != sessionID {
		return nil, interfaces.ErrSessionNotFound
	}
	return m.record, nil
}

func (m *mockJournal) ListLiveSessions(ctx context.Context, limit int) ([]*types.LiveSessionRecord, error) {
	if m.record == nil {
		return nil, nil
	}
	return []*types.LiveSessionRecord{m.record}, nil
}

func (m *mockJournal) ListEvents(ctx context.Context, sessionID string) ([]*types.AttendanceEvent, error) {
	return m.events, nil
}

func student(s Summary, id string) types.StudentMetrics {
	for _, st := range s.Metrics.Students {
		if st.StudentID == id {
			return st
		}
	}
	return types.StudentMetrics{}
}

// FUNCTIONAL VALIDATION TEST: two-student scenario from backend records
func TestService_BackendSummary(t *testing.T) {
	source := &mockSource{
		sessions: []types.Session{
			{ID: "6", ClassID: "4", StartTime: nine.Add(-24 * time.Hour), EndTime: nine.Add(-23 * time.Hour)},
			{ID: "7", ClassID: "4", StartTime: nine, EndTime: *at(30)},
		},
		roster:  types.Roster{{ID: "A", Name: "Ada"}, {ID: "B", Name: "Bo"}},
		records: []types.AttendanceRecord{{StudentID: "A", InTime: at(5), OutTime: at(25)}},
	}
	svc := NewService(source, nil)

	sum, err := svc.BackendSummary(context.Background(), "4", "7")
	if err != nil {
		t.Fatalf("BackendSummary failed: %v", err)
	}
	if sum.Source != SourceBackend || sum.Session.ID != "7" {
		t.Errorf("unexpected summary header %+v", sum)
	}
	if student(*sum, "A").AttendancePct != 67 || student(*sum, "B").Status != types.StatusAbsent {
		t.Errorf("unexpected student metrics %+v", sum.Metrics.Students)
	}
	if sum.Metrics.CoveragePct != 33 {
		t.Errorf("expected 33%% coverage, got %d", sum.Metrics.CoveragePct)
	}
}

func TestService_BackendSummaryErrors(t *testing.T) {
	if _, err := NewService(nil, nil).BackendSummary(context.Background(), "4", "7"); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}

	svc := NewService(&mockSource{}, nil)
	if _, err := svc.BackendSummary(context.Background(), "4", "7"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	failing := &mockSource{sessions: []types.Session{{ID: "7"}}, err: errors.New("boom")}
	if _, err := NewService(failing, nil).BackendSummary(context.Background(), "4", "7"); err == nil {
		t.Error("expected attendance error to propagate")
	}
}

func TestService_JournalSummary(t *testing.T) {
	stopped := *at(60)
	journal := &mockJournal{
		record: &types.LiveSessionRecord{
			Session:   types.Session{ID: "s1"},
			Roster:    types.Roster{{ID: "a"}, {ID: "b"}},
			StartedAt: nine,
			StoppedAt: &stopped,
		},
		events: []*types.AttendanceEvent{
			{StudentID: "a", Action: types.ActionCheckIn, Time: *at(10)},
			{StudentID: "a", Action: types.ActionCheckOut, Time: *at(40)},
			{StudentID: "b", Action: types.ActionCheckIn, Time: *at(15)},
		},
	}
	svc := NewService(nil, journal)

	sum, err := svc.JournalSummary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("JournalSummary failed: %v", err)
	}
	if sum.Source != SourceJournal || sum.Metrics.DurationMinutes != 60 {
		t.Errorf("bounds should fall back to the run times, got %+v", sum.Metrics)
	}
	a, b := student(*sum, "a"), student(*sum, "b")
	if a.AttendancePct != 50 || !a.Verified {
		t.Errorf("unexpected metrics for a: %+v", a)
	}
	if b.Status != types.StatusPresent || b.Verified || b.AttendancePct != 0 {
		t.Errorf("unexpected metrics for b: %+v", b)
	}

	if _, err := svc.JournalSummary(context.Background(), "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_JournalSummaryResolvesNames(t *testing.T) {
	stopped := *at(30)
	journal := &mockJournal{
		record: &types.LiveSessionRecord{
			Session:   types.Session{ID: "s1"},
			Roster:    types.Roster{{ID: "1", Name: "Ada"}},
			StartedAt: nine,
			StoppedAt: &stopped,
		},
		events: []*types.AttendanceEvent{
			{SessionID: "s1", StudentName: "Ada", Action: types.ActionCheckIn, Time: *at(5)},
			{SessionID: "s1", StudentName: "Ada", Action: types.ActionCheckOut, Time: *at(25)},
		},
	}

	sum, err := NewService(nil, journal).JournalSummary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("JournalSummary failed: %v", err)
	}
	ada := student(*sum, "1")
	if ada.Status != types.StatusPresent || ada.AttendancePct != 67 {
		t.Errorf("name-only events should count for Ada, got %+v", ada)
	}
	if sum.Metrics.CoveragePct != 67 {
		t.Errorf("expected coverage 67%%, got %d", sum.Metrics.CoveragePct)
	}
}

func TestService_RecentRuns(t *testing.T) {
	if _, err := NewService(nil, nil).RecentRuns(context.Background(), 10); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}

	journal := &mockJournal{record: &types.LiveSessionRecord{Session: types.Session{ID: "s1"}}}
	runs, err := NewService(nil, journal).RecentRuns(context.Background(), 10)
	if err != nil || len(runs) != 1 || runs[0].Session.ID != "s1" {
		t.Errorf("unexpected runs %v, err %v", runs, err)
	}
}

func TestJournalBounds_InProgress(t *testing.T) {
	record := &types.LiveSessionRecord{Session: types.Session{ID: "s1"}, StartedAt: nine}
	now := *at(20)

	b := journalBounds(record, now)
	if !b.Start.Equal(nine) || !b.End.Equal(now) {
		t.Errorf("in-progress run should end at now, got %+v", b)
	}

	record.Session.StartTime, record.Session.EndTime = *at(-5), *at(90)
	b = journalBounds(record, now)
	if !b.Start.Equal(*at(-5)) || !b.End.Equal(*at(90)) {
		t.Errorf("declared session bounds should win, got %+v", b)
	}
}
