package events

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	wsconn "liveattend/internal/websocket"
	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// Config tunes subscriptions
type Config struct {
	// Reconnect redials with exponential backoff after a transport drop.
	// Off by default: a dropped stream simply ends.
	Reconnect          bool
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	PingInterval time.Duration
	ReadTimeout  time.Duration
	BufferSize   int

	// TimeLayout and Location format the time in notification text
	TimeLayout string
	Location   *time.Location

	HandshakeTimeout time.Duration
	Connection       wsconn.ConnectionConfig
}

// DefaultConfig matches the defaults of the config package
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		PingInterval:       30 * time.Second,
		ReadTimeout:        60 * time.Second,
		BufferSize:         64,
		TimeLayout:         "15:04:05",
		HandshakeTimeout:   10 * time.Second,
		Connection:         wsconn.DefaultConnectionConfig(),
	}
}

// Feed opens session-scoped attendance streams at
// {ws base}/ws/sessions/{id}/events
type Feed struct {
	wsBase   string
	dialer   *websocket.Dialer
	notifier interfaces.Notifier
	config   Config
	now      func() time.Time
}

// NewFeed creates a feed. notifier may be nil.
func NewFeed(wsBase string, notifier interfaces.Notifier, config Config) *Feed {
	defaults := DefaultConfig()
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = defaults.ReconnectBaseDelay
	}
	if config.ReconnectMaxDelay < config.ReconnectBaseDelay {
		config.ReconnectMaxDelay = config.ReconnectBaseDelay
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= config.PingInterval {
		config.ReadTimeout = 2 * config.PingInterval
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.TimeLayout == "" {
		config.TimeLayout = defaults.TimeLayout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}

	return &Feed{
		wsBase: strings.TrimRight(wsBase, "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		notifier: notifier,
		config:   config,
		now:      time.Now,
	}
}

// Subscribe opens the stream for sessionID. The first dial happens before
// Subscribe returns so an unreachable feed is reported to the caller.
func (f *Feed) Subscribe(ctx context.Context, sessionID string) (interfaces.Subscription, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	conn, err := f.dial(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		feed:      f,
		sessionID: sessionID,
		events:    make(chan types.AttendanceEvent, f.config.BufferSize),
		ctx:       subCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		conn:      conn,
	}
	go sub.run(conn)

	log.Printf("Feed subscribed: session=%s", sessionID)
	return sub, nil
}

func (f *Feed) endpoint(sessionID string) string {
	return f.wsBase + "/ws/sessions/" + url.PathEscape(sessionID) + "/events"
}

func (f *Feed) dial(ctx context.Context, sessionID string) (*wsconn.Connection, error) {
	raw, _, err := f.dialer.DialContext(ctx, f.endpoint(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial event feed: %w", err)
	}
	return wsconn.NewConnection(raw, sessionID, f.config.Connection), nil
}

// Subscription is one live attendance stream
type Subscription struct {
	feed      *Feed
	sessionID string
	events    chan types.AttendanceEvent
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *wsconn.Connection
	err  error
}

// SessionID returns the session this stream is scoped to
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Events yields events in arrival order. It is closed when the subscription
// is closed or the stream ends.
func (s *Subscription) Events() <-chan types.AttendanceEvent {
	return s.events
}

// Done is closed once the stream has ended
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended: ErrSubscriptionClosed after Close, the
// last transport error otherwise. Nil while the stream is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes and waits for the reader to exit. Idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		<-s.done
		log.Printf("Feed unsubscribed: session=%s", s.sessionID)
	})
	return nil
}

func (s *Subscription) run(conn *wsconn.Connection) {
	defer close(s.done)
	defer close(s.events)

	for {
		err := s.consume(conn)
		if s.ctx.Err() != nil {
			s.setErr(ErrSubscriptionClosed)
			return
		}
		log.Printf("Feed transport error: session=%s err=%v", s.sessionID, err)

		if !s.feed.config.Reconnect {
			s.setErr(err)
			return
		}
		if conn = s.redial(); conn == nil {
			s.setErr(ErrSubscriptionClosed)
			return
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// redial retries with exponential backoff until it connects or the
// subscription is closed
func (s *Subscription) redial() *wsconn.Connection {
	delay := s.feed.config.ReconnectBaseDelay
	for {
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return nil
		}

		conn, err := s.feed.dial(s.ctx, s.sessionID)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			// Close may have run between the dial and the store
			if s.ctx.Err() != nil {
				_ = conn.Close()
				return nil
			}
			log.Printf("Feed reconnected: session=%s", s.sessionID)
			return conn
		}

		log.Printf("Feed redial failed: session=%s err=%v retry_in=%s", s.sessionID, err, delay)
		delay = min(delay*2, s.feed.config.ReconnectMaxDelay)
	}
}

// consume reads one connection until it fails
func (s *Subscription) consume(conn *wsconn.Connection) error {
	defer conn.Close()

	if err := conn.KeepAlive(s.feed.config.ReadTimeout); err != nil {
		return err
	}
	go s.pingLoop(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		event, err := ParseEvent(data, s.sessionID, s.feed.now())
		if err != nil {
			log.Printf("Dropping malformed event: session=%s err=%v", s.sessionID, err)
			continue
		}
		event.ID = uuid.New().String()

		s.notify(event)

		select {
		case s.events <- event:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

func (s *Subscription) pingLoop(conn *wsconn.Connection) {
	ticker := time.NewTicker(s.feed.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (s *Subscription) notify(event types.AttendanceEvent) {
	if s.feed.notifier == nil {
		return
	}
	e := event
	s.feed.notifier.Notify(types.Notification{
		ID:        uuid.New().String(),
		SessionID: s.sessionID,
		Message:   Message(e, s.feed.config.TimeLayout, s.feed.config.Location),
		Event:     &e,
		Timestamp: s.feed.now(),
	})
}
