package controller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

const journalTimeout = 5 * time.Second

// Connector is the live connection surface the controller drives
type Connector interface {
	Start(ctx context.Context, session *types.Session, roster types.Roster) error
	Stop()
	Snapshot() types.StateSnapshot
	Session() *types.Session
	AddStateSink(sink interfaces.StateSink)
}

// UpdateSource hands out in-process streams of state changes and notifications
type UpdateSource interface {
	Watch(buffer int) (<-chan types.Update, func(), error)
}

// StartRequest is a session to go live with and its roster
type StartRequest struct {
	Session types.Session
	Roster  types.Roster
}

// Status combines the connection state with the feed
type Status struct {
	State       types.ConnectionState `json:"state"`
	Session     *types.Session        `json:"session,omitempty"`
	FeedActive  bool                  `json:"feed_active"`
	Error       string                `json:"error,omitempty"`
	UserMessage string                `json:"user_message,omitempty"`
}

// Controller is the single entry point for running a live session: it keeps
// the media connection, the event feed and the journal in step
// ARCHITECTURAL DISCOVERY: the controller is a state sink of the connection
// manager; any transition to disconnected or error, whoever caused it, ends
// the feed and closes the journaled run
type Controller struct {
	manager Connector
	feed    interfaces.EventFeed
	journal interfaces.JournalStore
	updates UpdateSource
	now     func() time.Time

	mu sync.Mutex
	// run is bumped whenever the current run ends or is replaced
	run      uint64
	liveID   string
	sub      interfaces.Subscription
	pumpDone chan struct{}
}

// New creates a controller and registers it with manager. journal and
// updates may be nil.
func New(manager Connector, feed interfaces.EventFeed, journal interfaces.JournalStore, updates UpdateSource) *Controller {
	c := &Controller{
		manager: manager,
		feed:    feed,
		journal: journal,
		updates: updates,
		now:     time.Now,
	}
	manager.AddStateSink(c)
	return c
}

// Start validates req, journals the run, connects and then subscribes the
// event feed. A feed that cannot be reached is logged and never fails the
// session.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	session := req.Session
	if err := session.ValidateWindow(c.now()); err != nil {
		return err
	}
	if err := req.Roster.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	c.endRun("replaced")

	c.mu.Lock()
	c.run++
	run := c.run
	c.liveID = session.ID
	c.mu.Unlock()

	if c.journal != nil {
		if err := c.journal.RecordSessionStart(ctx, &session, req.Roster, c.now()); err != nil {
			log.Printf("Failed to journal session start: session=%s err=%v", session.ID, err)
		}
	}

	if err := c.manager.Start(ctx, &session, req.Roster); err != nil {
		c.endRunIf(run, "start failed")
		return err
	}

	if c.feed == nil {
		return nil
	}
	sub, err := c.feed.Subscribe(ctx, session.ID)
	if err != nil {
		log.Printf("Event feed unavailable, continuing without it: session=%s err=%v", session.ID, err)
		return nil
	}

	c.mu.Lock()
	if c.run != run {
		// the run ended while the feed was dialing
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	c.sub = sub
	done := make(chan struct{})
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(sub, done)
	return nil
}

// Stop ends the live session. Idempotent.
func (c *Controller) Stop() {
	c.manager.Stop()
	c.endRun("stopped")
}

// Status returns the combined live status
func (c *Controller) Status() Status {
	snap := c.manager.Snapshot()

	c.mu.Lock()
	feedActive := c.sub != nil
	c.mu.Unlock()

	return Status{
		State:       snap.State,
		Session:     c.manager.Session(),
		FeedActive:  feedActive,
		Error:       snap.Error,
		UserMessage: snap.UserMessage,
	}
}

// Watch streams state changes and notifications until cancel is called
func (c *Controller) Watch(buffer int) (<-chan types.Update, func(), error) {
	if c.updates == nil {
		return nil, nil, ErrNoUpdateSource
	}
	return c.updates.Watch(buffer)
}

// StateChanged ends the current run when the connection leaves the live
// states
func (c *Controller) StateChanged(snap types.StateSnapshot) {
	switch snap.State {
	case types.StateDisconnected, types.StateError:
	default:
		return
	}

	c.mu.Lock()
	current := c.liveID
	c.mu.Unlock()
	if current == "" || (snap.SessionID != "" && snap.SessionID != current) {
		return
	}
	c.endRun(string(snap.State))
}

func (c *Controller) endRunIf(run uint64, reason string) {
	c.mu.Lock()
	current := c.run == run
	c.mu.Unlock()
	if current {
		c.endRun(reason)
	}
}

// endRun closes the feed and marks the journaled run stopped
func (c *Controller) endRun(reason string) {
	c.mu.Lock()
	c.run++
	sub, done, sessionID := c.sub, c.pumpDone, c.liveID
	c.sub, c.pumpDone, c.liveID = nil, nil, ""
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
		<-done
	}
	if sessionID == "" {
		return
	}

	if c.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.journal.RecordSessionStop(ctx, sessionID, c.now()); err != nil {
			log.Printf("Failed to journal session stop: session=%s err=%v", sessionID, err)
		}
	}
	log.Printf("Live run ended: session=%s reason=%s", sessionID, reason)
}

// pump journals feed events until the subscription closes
func (c *Controller) pump(sub interfaces.Subscription, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if c.sub == sub {
			// the stream ended on its own
			c.sub, c.pumpDone = nil, nil
		}
		c.mu.Unlock()
	}()

	for event := range sub.Events() {
		if c.journal == nil {
			continue
		}
		e := event
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := c.journal.StoreEvent(ctx, &e); err != nil {
			log.Printf("Failed to journal event: session=%s student=%s err=%v", e.SessionID, e.StudentID, err)
		}
		cancel()
	}
}
