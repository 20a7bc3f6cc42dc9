package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// Config bounds a connection attempt
type Config struct {
	// SignalingTimeout bounds peer creation, the offer and the negotiation
	SignalingTimeout time.Duration
	// FirstFrameTimeout bounds the wait for media after the answer is applied
	FirstFrameTimeout time.Duration
}

// DefaultConfig returns 15s for signaling and 20s for the first frame
func DefaultConfig() Config {
	return Config{
		SignalingTimeout:  15 * time.Second,
		FirstFrameTimeout: 20 * time.Second,
	}
}

// Manager owns the single live media connection of the process.
// ARCHITECTURAL DISCOVERY: every mutation goes through Start, Stop or the
// auto-stop and loss paths, which all bump generation first; anything tagged
// with an older generation (an aborted attempt, a stale timer, a late loss
// signal) becomes a no-op
type Manager struct {
	peers     interfaces.PeerFactory
	signaling interfaces.SignalingClient
	config    Config
	now       func() time.Time

	// opMu serializes the bodies of Start, Stop and loss handling
	opMu sync.Mutex

	mu            sync.Mutex
	state         types.ConnectionState
	session       *types.Session
	lastErr       error
	active        *connection
	generation    uint64
	attemptGen    uint64
	cancelAttempt context.CancelFunc
	timer         *time.Timer
	sinks         []interfaces.StateSink

	// sinkMu is taken before mu is released so sinks see transitions in order
	sinkMu sync.Mutex

	opened   atomic.Int64
	torndown atomic.Int64
}

// NewManager creates a manager in the disconnected state
func NewManager(peers interfaces.PeerFactory, signaling interfaces.SignalingClient, config Config) *Manager {
	defaults := DefaultConfig()
	if config.SignalingTimeout <= 0 {
		config.SignalingTimeout = defaults.SignalingTimeout
	}
	if config.FirstFrameTimeout <= 0 {
		config.FirstFrameTimeout = defaults.FirstFrameTimeout
	}

	return &Manager{
		peers:     peers,
		signaling: signaling,
		config:    config,
		now:       time.Now,
		state:     types.StateDisconnected,
	}
}

// AddStateSink registers an observer of state changes. Sinks are called in
// transition order and must not call Start or Stop synchronously.
func (m *Manager) AddStateSink(sink interfaces.StateSink) {
	if sink == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// State returns the current connection state
func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the session of the current or last run
func (m *Manager) Session() *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Err returns the error behind the error state, if any
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Snapshot returns the current state as observers see it
func (m *Manager) Snapshot() types.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() types.StateSnapshot {
	snap := types.StateSnapshot{
		State:     m.state,
		Timestamp: m.now(),
	}
	if m.session != nil {
		snap.SessionID = m.session.ID
	}
	if m.lastErr != nil {
		snap.Error = m.lastErr.Error()
		snap.UserMessage = types.UserMessage(m.lastErr)
	}
	return snap
}

// Stats returns resource counters for health reporting
func (m *Manager) Stats() map[string]int64 {
	opened := m.opened.Load()
	closed := m.torndown.Load()
	return map[string]int64{
		"connections_opened": opened,
		"connections_closed": closed,
		"open_connections":   opened - closed,
	}
}

// Start replaces any existing connection with one for session. It returns
// once the first media frame has arrived or the attempt failed. A Start
// issued while another is in flight aborts the earlier attempt and waits for
// its teardown.
func (m *Manager) Start(ctx context.Context, session *types.Session, roster types.Roster) error {
	if session == nil {
		return ErrNilSession
	}
	if err := session.ValidateWindow(m.now()); err != nil {
		return err
	}

	m.mu.Lock()
	gen := m.supersedeLocked()
	attemptCtx, cancel := context.WithCancel(ctx)
	m.attemptGen = gen
	m.cancelAttempt = cancel
	m.mu.Unlock()
	defer cancel()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return ErrAttemptAborted
	}
	prev := m.active
	m.active = nil
	sessionCopy := *session
	m.session = &sessionCopy
	m.mu.Unlock()

	if prev != nil {
		log.Printf("Releasing previous connection before start: session=%s", session.ID)
		prev.teardown()
	}

	m.setState(gen, types.StateConnecting, nil)
	if session.HasDeadline() {
		m.armTimer(gen, session.EndTime)
	}

	conn, err := m.connect(attemptCtx, session, roster)

	m.mu.Lock()
	if m.attemptGen == gen {
		m.cancelAttempt = nil
	}
	if m.generation != gen {
		m.mu.Unlock()
		if conn != nil {
			conn.teardown()
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAttemptAborted, err)
		}
		return ErrAttemptAborted
	}
	if err != nil {
		m.stopTimerLocked()
		m.mu.Unlock()
		log.Printf("Connection attempt failed: session=%s err=%v", session.ID, err)
		m.setState(gen, types.StateError, err)
		return err
	}
	m.active = conn
	m.mu.Unlock()

	m.setState(gen, types.StateConnected, nil)
	go m.watchLoss(gen, conn)
	return nil
}

// Stop releases the connection and moves to disconnected. Idempotent.
func (m *Manager) Stop() {
	m.stop(0, "requested")
}

// stop runs the stop path. A non-zero expect makes it a no-op unless the
// manager is still on that generation.
func (m *Manager) stop(expect uint64, reason string) bool {
	m.mu.Lock()
	if expect != 0 && m.generation != expect {
		m.mu.Unlock()
		return false
	}
	gen := m.supersedeLocked()
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		// a newer Start or Stop has taken over
		m.mu.Unlock()
		return false
	}
	conn := m.active
	m.active = nil
	m.mu.Unlock()

	if conn != nil {
		conn.teardown()
	}
	m.setState(gen, types.StateDisconnected, nil)
	log.Printf("Connection stopped: reason=%s", reason)
	return true
}

// supersedeLocked invalidates everything tagged with the current generation:
// the in-flight attempt is cancelled and the auto-stop timer disarmed
func (m *Manager) supersedeLocked() uint64 {
	m.generation++
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	m.stopTimerLocked()
	return m.generation
}

func (m *Manager) armTimer(gen uint64, end time.Time) {
	delay := end.Sub(m.now())
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.stopTimerLocked()
	m.timer = time.AfterFunc(delay, func() {
		if m.stop(gen, "session ended") {
			log.Printf("Auto-stop fired at session end")
		}
	})
	log.Printf("Auto-stop armed: delay=%s", delay.Round(time.Millisecond))
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setState applies a transition if gen is still current and notifies sinks
func (m *Manager) setState(gen uint64, state types.ConnectionState, err error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	if m.state == state && err == nil && m.lastErr == nil {
		m.mu.Unlock()
		return
	}

	from := m.state
	m.state = state
	m.lastErr = err
	snap := m.snapshotLocked()
	sinks := append([]interfaces.StateSink(nil), m.sinks...)

	m.sinkMu.Lock()
	m.mu.Unlock()
	defer m.sinkMu.Unlock()

	log.Printf("Connection state: session=%s from=%s to=%s", snap.SessionID, from, state)
	for _, sink := range sinks {
		sink.StateChanged(snap)
	}
}

func (m *Manager) watchLoss(gen uint64, conn *connection) {
	select {
	case <-conn.peer.Lost():
	case <-conn.stopped:
		return
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.generation != gen || m.active != conn {
		// already replaced or stopped; whoever did it released conn
		m.mu.Unlock()
		return
	}
	lostGen := m.supersedeLocked()
	m.active = nil
	m.mu.Unlock()

	conn.teardown()
	log.Printf("Media connection lost after connect")
	m.setState(lostGen, types.StateError, types.ErrConnectionLost)
}

// connect runs one full handshake. On error every resource it opened has
// already been released.
func (m *Manager) connect(ctx context.Context, session *types.Session, roster types.Roster) (*connection, error) {
	sigCtx, cancel := context.WithTimeout(ctx, m.config.SignalingTimeout)
	defer cancel()

	peer, err := m.peers.NewPeer(sigCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: create media peer: %w", types.ErrSignalingFailed, err)
	}
	m.opened.Add(1)
	conn := newConnection(peer, &m.torndown)

	offer, err := peer.CreateOffer(sigCtx)
	if err != nil {
		conn.teardown()
		return nil, fmt.Errorf("%w: create offer: %w", types.ErrSignalingFailed, err)
	}

	answer, channel, err := m.signaling.Negotiate(sigCtx, offer, types.SessionContext{
		SessionID: session.ID,
		EndTime:   session.EndTime,
		Roster:    roster.Names(),
	})
	if err != nil {
		conn.teardown()
		return nil, err
	}
	conn.channel = channel

	if err := peer.ApplyAnswer(answer); err != nil {
		conn.teardown()
		return nil, fmt.Errorf("%w: apply answer: %w", types.ErrSignalingFailed, err)
	}
	conn.pumpCandidates()

	frameCtx, cancelFrame := context.WithTimeout(ctx, m.config.FirstFrameTimeout)
	defer cancelFrame()

	select {
	case <-peer.FirstFrame():
		log.Printf("First media frame received: session=%s", session.ID)
		return conn, nil
	case <-peer.Lost():
		conn.teardown()
		return nil, types.ErrConnectionLost
	case <-frameCtx.Done():
		conn.teardown()
		return nil, fmt.Errorf("%w: %w: %w", types.ErrSignalingFailed, ErrNoFirstFrame, frameCtx.Err())
	}
}

// connection is one media peer plus its candidate channel
type connection struct {
	peer     interfaces.MediaPeer
	channel  interfaces.CandidateChannel
	stopped  chan struct{}
	pumps    sync.WaitGroup
	once     sync.Once
	torndown *atomic.Int64
}

func newConnection(peer interfaces.MediaPeer, torndown *atomic.Int64) *connection {
	return &connection{
		peer:     peer,
		stopped:  make(chan struct{}),
		torndown: torndown,
	}
}

// pumpCandidates trickles local candidates out and remote candidates in
func (c *connection) pumpCandidates() {
	c.pumps.Add(2)

	go func() {
		defer c.pumps.Done()
		local := c.peer.LocalCandidates()
		for {
			select {
			case cand, ok := <-local:
				if !ok {
					return
				}
				if err := c.channel.Send(cand); err != nil {
					log.Printf("Failed to send local candidate: %v", err)
				}
			case <-c.stopped:
				return
			}
		}
	}()

	go func() {
		defer c.pumps.Done()
		remote := c.channel.Remote()
		for {
			select {
			case cand, ok := <-remote:
				if !ok {
					return
				}
				if err := c.peer.AddRemoteCandidate(cand); err != nil {
					log.Printf("Failed to add remote candidate: %v", err)
				}
			case <-c.stopped:
				return
			}
		}
	}()
}

// teardown releases the channel and the peer exactly once
func (c *connection) teardown() {
	c.once.Do(func() {
		close(c.stopped)
		c.pumps.Wait()
		if c.channel != nil {
			if err := c.channel.Close(); err != nil {
				log.Printf("Failed to close candidate channel: %v", err)
			}
		}
		if err := c.peer.Close(); err != nil {
			log.Printf("Failed to close media peer: %v", err)
		}
		c.torndown.Add(1)
	})
}
