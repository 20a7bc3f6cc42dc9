package interfaces

import (
	"context"
	"time"

	"liveattend/pkg/types"
)

// EventFeed opens session-scoped server-push attendance streams
type EventFeed interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription is one live stream of attendance events
// FUNCTIONAL DISCOVERY: a subscription never replays history; closing and
// subscribing again starts a fresh stream
type Subscription interface {
	SessionID() string

	// Events yields events in transport arrival order until Close
	Events() <-chan types.AttendanceEvent

	// Close unsubscribes and releases the transport. Idempotent.
	Close() error
}

// Notifier announces user-facing messages (toasts)
type Notifier interface {
	Notify(n types.Notification)
}

// StateSink observes connection state changes
type StateSink interface {
	StateChanged(s types.StateSnapshot)
}

// JournalStore persists live runs and the events received during them
type JournalStore interface {
	RecordSessionStart(ctx context.Context, session *types.Session, roster types.Roster, startedAt time.Time) error
	RecordSessionStop(ctx context.Context, sessionID string, stoppedAt time.Time) error
	StoreEvent(ctx context.Context, event *types.AttendanceEvent) error
	GetLiveSession(ctx context.Context, sessionID string) (*types.LiveSessionRecord, error)
	ListLiveSessions(ctx context.Context, limit int) ([]*types.LiveSessionRecord, error)
	ListEvents(ctx context.Context, sessionID string) ([]*types.AttendanceEvent, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// AttendanceSource is the backend attendance query surface
type AttendanceSource interface {
	SessionAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error)
	ClassRoster(ctx context.Context, classID string) (types.Roster, error)
	ClassSessions(ctx context.Context, classID string) ([]types.Session, error)
}
