package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionConfig tunes a Connection's writer
type ConnectionConfig struct {
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultConnectionConfig returns the 5s write timeout and 100 frame buffer
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

// Connection serializes writes to a gorilla websocket through one goroutine.
// It is used for observer streams served by this process and for the
// outbound signaling and feed sockets.
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer; control
// frames (ping, close) are the exception and go through WriteControl
type Connection struct {
	conn      *websocket.Conn
	id        string
	writeCh   chan []byte
	config    ConnectionConfig
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, id string, config ConnectionConfig) *Connection {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConnectionConfig().WriteTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConnectionConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      id,
		writeCh: make(chan []byte, config.BufferSize),
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// a failed write leaves the stream in an unknown state
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the identifier the connection was created with
func (c *Connection) ID() string {
	return c.id
}

// WriteJSON queues v for the writer goroutine
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// TryWriteJSON queues v without waiting; a full buffer returns ErrBufferFull
func (c *Connection) TryWriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

// Ping sends a ping control frame
func (c *Connection) Ping() error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
}

// KeepAlive arms a read deadline of readTimeout that every pong extends
func (c *Connection) KeepAlive(readTimeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return nil
}

// ReadMessage reads the next data frame. Only one goroutine may read.
func (c *Connection) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// Done is closed when the connection closes
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

// IsNormalClose reports whether err is an expected end of stream
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
