package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "liveattend/pkg/database"
	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// Manager is the SQLite attendance journal
// ARCHITECTURAL DISCOVERY: reads go straight to the pool, every write goes
// through a single writer goroutine to avoid SQLITE_BUSY under WAL
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	retryDelay   time.Duration
	writeTimeout time.Duration
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the journal database; run migrations on GetDB before use
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: a failed write is retried exactly once
			err := op.operation(op.ctx, m.db)
			if err != nil && op.ctx.Err() == nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
				log.Printf("Journal write failed, retrying in %v: %v", m.retryDelay, err)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(op.ctx, m.db)
					if err != nil {
						log.Printf("Journal write failed after retry: %v", err)
					}
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Journal write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.writeTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// RecordSessionStart journals the beginning of a live run
// FUNCTIONAL DISCOVERY: restarting the same session overwrites the run row
// and clears stopped_at; events from the earlier run are kept
func (m *Manager) RecordSessionStart(ctx context.Context, session *types.Session, roster types.Roster, startedAt time.Time) error {
	if session == nil || session.ID == "" {
		return types.ErrMissingSessionID
	}
	if roster == nil {
		roster = types.Roster{}
	}
	rosterJSON, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		query := `
			INSERT INTO live_sessions (id, class_id, start_time, end_time, roster, started_at, stopped_at)
			VALUES (?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT(id) DO UPDATE SET
				class_id = excluded.class_id,
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				roster = excluded.roster,
				started_at = excluded.started_at,
				stopped_at = NULL
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.ClassID,
			nullTime(session.StartTime),
			nullTime(session.EndTime),
			string(rosterJSON),
			startedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to record session start: %w", err)
		}
		return nil
	})
}

// RecordSessionStop marks the run stopped; unknown sessions are reported
func (m *Manager) RecordSessionStop(ctx context.Context, sessionID string, stoppedAt time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE live_sessions SET stopped_at = ? WHERE id = ?`,
			stoppedAt.UTC(), sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to record session stop: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// StoreEvent journals one received attendance event
func (m *Manager) StoreEvent(ctx context.Context, event *types.AttendanceEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		query := `
			INSERT INTO attendance_events (id, session_id, student_id, name, action, event_time, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			event.ID,
			event.SessionID,
			event.StudentID,
			event.StudentName,
			string(event.Action),
			event.Time.UTC(),
			event.ReceivedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

// GetLiveSession returns the journaled run for sessionID
func (m *Manager) GetLiveSession(ctx context.Context, sessionID string) (*types.LiveSessionRecord, error) {
	query := `
		SELECT id, class_id, start_time, end_time, roster, started_at, stopped_at
		FROM live_sessions
		WHERE id = ?
	`
	rec, err := scanLiveSession(m.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query live session: %w", err)
	}
	return rec, nil
}

// ListLiveSessions returns the most recently started runs first
func (m *Manager) ListLiveSessions(ctx context.Context, limit int) ([]*types.LiveSessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, class_id, start_time, end_time, roster, started_at, stopped_at
		FROM live_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query live sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.LiveSessionRecord
	for rows.Next() {
		rec, err := scanLiveSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan live session row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating live session rows: %w", err)
	}
	return records, nil
}

// ListEvents returns a session's events in event time order
func (m *Manager) ListEvents(ctx context.Context, sessionID string) ([]*types.AttendanceEvent, error) {
	query := `
		SELECT id, session_id, student_id, name, action, event_time, received_at
		FROM attendance_events
		WHERE session_id = ?
		ORDER BY event_time ASC, received_at ASC
	`
	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.AttendanceEvent
	for rows.Next() {
		var ev types.AttendanceEvent
		var action string
		err := rows.Scan(
			&ev.ID,
			&ev.SessionID,
			&ev.StudentID,
			&ev.StudentName,
			&action,
			&ev.Time,
			&ev.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Action = types.AttendanceAction(action)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM live_sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the journal. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLiveSession(row rowScanner) (*types.LiveSessionRecord, error) {
	var (
		rec        types.LiveSessionRecord
		startTime  sql.NullTime
		endTime    sql.NullTime
		stoppedAt  sql.NullTime
		rosterJSON string
	)
	err := row.Scan(
		&rec.Session.ID,
		&rec.Session.ClassID,
		&startTime,
		&endTime,
		&rosterJSON,
		&rec.StartedAt,
		&stoppedAt,
	)
	if err != nil {
		return nil, err
	}

	if startTime.Valid {
		rec.Session.StartTime = startTime.Time
	}
	if endTime.Valid {
		rec.Session.EndTime = endTime.Time
	}
	if stoppedAt.Valid {
		t := stoppedAt.Time
		rec.StoppedAt = &t
	}
	if err := json.Unmarshal([]byte(rosterJSON), &rec.Roster); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
	}
	rec.Session.RosterSize = len(rec.Roster)
	return &rec, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
