package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"liveattend/internal/api"
	"liveattend/internal/backend"
	"liveattend/internal/controller"
	"liveattend/internal/database"
	"liveattend/internal/events"
	"liveattend/internal/hub"
	"liveattend/internal/session"
	"liveattend/internal/signaling"
	"liveattend/internal/summary"
	"liveattend/internal/websocket"
	pkgdatabase "liveattend/pkg/database"
	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

const stubSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\na=recvonly\r\n"

// offerBody mirrors what the offer endpoint receives
type offerBody struct {
	SDP          string            `json:"sdp"`
	Type         string            `json:"type"`
	StudentsList map[string]string `json:"students_list"`
	SessionID    string            `json:"session_id"`
	EndTime      string            `json:"end_time"`
}

// fakeBackend plays the remote attendance server: offer endpoint, event
// feed and the attendance query endpoints
type fakeBackend struct {
	server *httptest.Server

	mu          sync.Mutex
	offers      []offerBody
	offerStatus int
	feeds       map[string]*feedConn
	feedOpened  chan string
}

type feedConn struct {
	mu     sync.Mutex
	conn   *gorilla.Conn
	closed chan struct{}
}

func (f *feedConn) push(t *testing.T, v interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(v); err != nil {
		t.Fatalf("push to feed failed: %v", err)
	}
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		offerStatus: http.StatusOK,
		feeds:       make(map[string]*feedConn),
		feedOpened:  make(chan string, 8),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/offer", b.handleOffer)
	mux.HandleFunc("/ws/sessions/", b.handleFeed)
	mux.HandleFunc("/api/classes/4/sessions/with-stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"id": 7, "class_id": 4, "start_time": "2025-03-01T09:00:00", "end_time": "2025-03-01T09:30:00", "present_count": 1, "total_students": 2},
		})
	})
	mux.HandleFunc("/api/classes/4/students", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{{"id": 1, "name": "Ada"}, {"id": 2, "name": "Bo"}})
	})
	mux.HandleFunc("/api/sessions/7/attendance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"student_id": 1, "name": "Ada", "in_time": "2025-03-01T09:05:00", "out_time": "2025-03-01T09:25:00"},
		})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) handleOffer(w http.ResponseWriter, r *http.Request) {
	var body offerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad offer", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.offers = append(b.offers, body)
	status := b.offerStatus
	b.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "recognizer unavailable", status)
		return
	}
	writeJSON(w, types.SessionDescription{Type: types.SDPTypeAnswer, SDP: stubSDP})
}

var backendUpgrader = gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (b *fakeBackend) handleFeed(w http.ResponseWriter, r *http.Request) {
	// /ws/sessions/{id}/events
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/sessions/"), "/")
	if len(parts) != 2 || parts[1] != "events" {
		http.NotFound(w, r)
		return
	}
	conn, err := backendUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fc := &feedConn{conn: conn, closed: make(chan struct{})}
	b.mu.Lock()
	b.feeds[parts[0]] = fc
	b.mu.Unlock()
	b.feedOpened <- parts[0]

	go func() {
		defer close(fc.closed)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *fakeBackend) feed(t *testing.T, sessionID string) *feedConn {
	t.Helper()
	select {
	case id := <-b.feedOpened:
		if id != sessionID {
			t.Fatalf("expected feed for %s, got %s", sessionID, id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("feed for %s was never opened", sessionID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.feeds[sessionID]
}

func (b *fakeBackend) feedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds)
}

func (b *fakeBackend) lastOffer() (offerBody, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.offers) == 0 {
		return offerBody{}, 0
	}
	return b.offers[len(b.offers)-1], len(b.offers)
}

// stubPeer stands in for the media stack: the first frame "arrives" as soon
// as an answer is applied
type stubPeer struct {
	candidates chan types.ICECandidate
	firstFrame chan struct{}
	lost       chan struct{}
	frameOnce  sync.Once
	lostOnce   sync.Once
	closeOnce  sync.Once
}

func (p *stubPeer) CreateOffer(ctx context.Context) (types.SessionDescription, error) {
	return types.SessionDescription{Type: types.SDPTypeOffer, SDP: stubSDP}, nil
}

func (p *stubPeer) ApplyAnswer(types.SessionDescription) error {
	p.frameOnce.Do(func() { close(p.firstFrame) })
	return nil
}

func (p *stubPeer) AddRemoteCandidate(types.ICECandidate) error { return nil }
func (p *stubPeer) LocalCandidates() <-chan types.ICECandidate { return p.candidates }
func (p *stubPeer) FirstFrame() <-chan struct{}                { return p.firstFrame }
func (p *stubPeer) Lost() <-chan struct{}                      { return p.lost }

func (p *stubPeer) Close() error {
	p.closeOnce.Do(func() { close(p.candidates) })
	return nil
}

func (p *stubPeer) drop() {
	p.lostOnce.Do(func() { close(p.lost) })
}

type stubFactory struct {
	mu    sync.Mutex
	peers []*stubPeer
}

func (f *stubFactory) NewPeer(ctx context.Context) (interfaces.MediaPeer, error) {
	p := &stubPeer{
		candidates: make(chan types.ICECandidate),
		firstFrame: make(chan struct{}),
		lost:       make(chan struct{}),
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *stubFactory) last() *stubPeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

// harness is the full controller stack in front of a fake backend
type harness struct {
	backend    *fakeBackend
	peers      *stubFactory
	journal    *database.Manager
	manager    *session.Manager
	controller *controller.Controller
	api        *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := newFakeBackend(t)
	wsBase := "ws" + strings.TrimPrefix(b.server.URL, "http")

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "journal.db"),
		MaxConnections:  4,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
	journal, err := database.NewManager(dbConfig)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	if err := pkgdatabase.NewMigrationManager(journal.GetDB(), dbConfig.MigrationSource()).ApplyMigrations(); err != nil {
		t.Fatalf("migrate journal: %v", err)
	}
	if err := pkgdatabase.NewSchemaValidator(journal.GetDB()).Validate(); err != nil {
		t.Fatalf("journal schema: %v", err)
	}

	registry := websocket.NewRegistry()
	messageHub := hub.NewHub(registry)
	if err := messageHub.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() {
		registry.CloseAll()
		_ = messageHub.Stop()
	})

	peers := &stubFactory{}
	manager := session.NewManager(peers, signaling.NewHTTPClient(b.server.URL, 2*time.Second), session.Config{
		SignalingTimeout:  2 * time.Second,
		FirstFrameTimeout: 2 * time.Second,
	})
	manager.AddStateSink(messageHub)

	feedConfig := events.DefaultConfig()
	feedConfig.Location = time.UTC
	feed := events.NewFeed(wsBase, messageHub, feedConfig)

	live := controller.New(manager, feed, journal, messageHub)
	t.Cleanup(live.Stop)

	summaries := summary.NewService(backend.NewClient(b.server.URL, 2*time.Second), journal)
	observers := websocket.NewHandler(registry, manager, websocket.HandlerConfig{})
	server := api.NewServer(live, summaries, http.HandlerFunc(observers.HandleObserver), api.Health{
		Journal:     journal,
		Observers:   registry,
		Connections: manager,
		Hub:         messageHub,
	})

	apiServer := httptest.NewServer(server)
	t.Cleanup(apiServer.Close)

	return &harness{
		backend:    b,
		peers:      peers,
		journal:    journal,
		manager:    manager,
		controller: live,
		api:        apiServer,
	}
}

func (h *harness) request(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.api.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func startBody(id string, start, end time.Time) string {
	return `{"session": {"id": "` + id + `", "class_id": "4", "start_time": "` + start.UTC().Format(time.RFC3339Nano) +
		`", "end_time": "` + end.UTC().Format(time.RFC3339Nano) + `"},` +
		`"roster": [{"id": "s1", "name": "Ada"}, {"id": "s2", "name": "Bo"}]}`
}

// observe connects to the observer stream
func (h *harness) observe(t *testing.T) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.api.URL, "http") + "/api/live/stream"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial observer stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// nextUpdate reads updates until match returns true
func nextUpdate(t *testing.T, conn *gorilla.Conn, match func(types.Update) bool) types.Update {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var u types.Update
		if err := conn.ReadJSON(&u); err != nil {
			t.Fatalf("waiting for update: %v", err)
		}
		if match(u) {
			return u
		}
	}
}

func stateIs(state types.ConnectionState) func(types.Update) bool {
	return func(u types.Update) bool {
		return u.Kind == types.UpdateKindState && u.State != nil && u.State.State == state
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
