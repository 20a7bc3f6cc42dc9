package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liveattend/pkg/types"
)

var upgrader = websocket.Upgrader{
	// FUNCTIONAL DISCOVERY: observers are local UI surfaces; any origin is allowed
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// StateProvider yields the current connection state for new observers
type StateProvider interface {
	Snapshot() types.StateSnapshot
}

// HandlerConfig controls observer heartbeats and writes
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Connection   ConnectionConfig
}

// Handler serves the observer stream: the current state on connect, then
// every update the hub publishes to the registry
type Handler struct {
	registry *Registry
	state    StateProvider
	config   HandlerConfig
}

// NewHandler creates an observer stream handler
func NewHandler(registry *Registry, state StateProvider, config HandlerConfig) *Handler {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReadTimeout <= config.PingInterval {
		config.ReadTimeout = 2 * config.PingInterval
	}
	return &Handler{
		registry: registry,
		state:    state,
		config:   config,
	}
}

// HandleObserver upgrades the request and registers the observer
// ARCHITECTURAL DISCOVERY: observers only watch; anything they send is
// read and discarded so control frames keep flowing
func (h *Handler) HandleObserver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Observer upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, uuid.New().String(), h.config.Connection)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register observer: %v", err)
		_ = wsConn.Close()
		return
	}

	snapshot := h.state.Snapshot()
	if err := wsConn.WriteJSON(types.Update{Kind: types.UpdateKindState, State: &snapshot}); err != nil {
		log.Printf("Failed to send initial state to observer %s: %v", wsConn.ID(), err)
	}

	log.Printf("Observer connected: id=%s remote=%s", wsConn.ID(), r.RemoteAddr)
	go h.handleConnection(wsConn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Observer disconnected: id=%s", conn.ID())
	}()

	if err := conn.KeepAlive(h.config.ReadTimeout); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
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
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Observer %s read error: %v", conn.ID(), err)
			}
			return
		}
	}
}
