package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"liveattend/internal/websocket"
	"liveattend/pkg/types"
)

// Hub fans connection state changes and attendance notifications out to
// observers: websocket observers in the registry and in-process watchers
// ARCHITECTURAL DISCOVERY: publishers never wait on observers; a single run
// loop owns delivery and skips anyone whose buffer is full
type Hub struct {
	// FUNCTIONAL DISCOVERY: buffered so bursts of check-ins never block the feed
	updateChannel   chan types.Update
	watchChannel    chan *watcher
	unwatchChannel  chan *watcher
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry

	// owned by run
	watchers map[*watcher]struct{}

	running bool
	mu      sync.RWMutex

	delivered atomic.Int64
	skipped   atomic.Int64
	watching  atomic.Int64
}

type watcher struct {
	ch         chan types.Update
	registered chan struct{}
}

// NewHub creates a hub delivering to the observers in registry
func NewHub(registry *websocket.Registry) *Hub {
	return &Hub{
		updateChannel:   make(chan types.Update, 256),
		watchChannel:    make(chan *watcher, 16),
		unwatchChannel:  make(chan *watcher, 16),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		registry:        registry,
		watchers:        make(map[*watcher]struct{}),
	}
}

// Start begins delivery
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting observer hub...")
	go h.run(ctx)

	return nil
}

// Stop ends delivery and closes every watcher channel
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping observer hub...")

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

// Publish queues an update for every observer
func (h *Hub) Publish(update types.Update) error {
	if (update.State == nil) == (update.Notification == nil) {
		return ErrInvalidUpdateKind
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.updateChannel <- update:
		return nil
	default:
		return ErrUpdateChannelFull
	}
}

// StateChanged publishes a connection state change
func (h *Hub) StateChanged(snapshot types.StateSnapshot) {
	if err := h.Publish(types.Update{Kind: types.UpdateKindState, State: &snapshot}); err != nil {
		log.Printf("Failed to publish state change: state=%s err=%v", snapshot.State, err)
	}
}

// Notify publishes a user-facing notification
func (h *Hub) Notify(n types.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if err := h.Publish(types.Update{Kind: types.UpdateKindNotification, Notification: &n}); err != nil {
		log.Printf("Failed to publish notification: session=%s err=%v", n.SessionID, err)
	}
}

// Watch registers an in-process observer. The returned channel receives
// every update published after registration until cancel is called or the
// hub stops; it is then closed.
func (h *Hub) Watch(buffer int) (<-chan types.Update, func(), error) {
	if buffer <= 0 {
		buffer = 16
	}
	w := &watcher{ch: make(chan types.Update, buffer), registered: make(chan struct{})}

	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return nil, nil, ErrHubNotRunning
	}
	select {
	case h.watchChannel <- w:
	default:
		h.mu.RUnlock()
		return nil, nil, ErrWatchChannelFull
	}
	h.mu.RUnlock()

	select {
	case <-w.registered:
	case <-h.done:
		return nil, nil, ErrHubNotRunning
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case h.unwatchChannel <- w:
			case <-h.done:
			}
		})
	}
	return w.ch, cancel, nil
}

// GetStats returns delivery counters
func (h *Hub) GetStats() map[string]int64 {
	return map[string]int64{
		"delivered": h.delivered.Load(),
		"skipped":   h.skipped.Load(),
		"watchers":  h.watching.Load(),
	}
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")
	defer close(h.done)
	defer h.closeWatchers()

	for {
		select {
		case update := <-h.updateChannel:
			h.deliver(update)

		case w := <-h.watchChannel:
			h.watchers[w] = struct{}{}
			h.watching.Store(int64(len(h.watchers)))
			close(w.registered)

		case w := <-h.unwatchChannel:
			if _, ok := h.watchers[w]; ok {
				delete(h.watchers, w)
				close(w.ch)
				h.watching.Store(int64(len(h.watchers)))
			}

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) deliver(update types.Update) {
	for _, conn := range h.registry.Connections() {
		if err := conn.TryWriteJSON(update); err != nil {
			h.skipped.Add(1)
			log.Printf("Skipping observer: id=%s kind=%s err=%v", conn.ID(), update.Kind, err)
			continue
		}
		h.delivered.Add(1)
	}

	for w := range h.watchers {
		select {
		case w.ch <- update:
			h.delivered.Add(1)
		default:
			h.skipped.Add(1)
		}
	}
}

func (h *Hub) closeWatchers() {
	for w := range h.watchers {
		close(w.ch)
		delete(h.watchers, w)
	}
	h.watching.Store(0)
}
