package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liveattend/pkg/types"
)

const testOfferSDP = "v=0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"a=candidate:1 1 udp 2130706431 10.0.0.2 5000 typ host\r\n" +
	"a=candidate:2 1 tcp 1518280447 10.0.0.2 9 typ host tcptype active\r\n" +
	"a=recvonly\r\n"

func testSessionContext() types.SessionContext {
	return types.SessionContext{
		SessionID: "sess-1",
		EndTime:   time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
		Roster:    map[string]string{"s1": "Ada", "s2": "Bo"},
	}
}

// FUNCTIONAL VALIDATION TEST: offer body carries the session context
func TestHTTPClient_Negotiate(t *testing.T) {
	var received offerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/offer" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.SessionDescription{Type: "answer", SDP: "v=0\r\nanswer"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", 5*time.Second)
	answer, ch, err := client.Negotiate(context.Background(), types.SessionDescription{Type: "offer", SDP: testOfferSDP}, testSessionContext())
	if err != nil {
		t.Fatalf("Negotiate failed: %v", err)
	}
	defer ch.Close()

	if answer.Type != types.SDPTypeAnswer || answer.SDP != "v=0\r\nanswer" {
		t.Errorf("unexpected answer %+v", answer)
	}
	if received.SessionID != "sess-1" || received.Type != "offer" {
		t.Errorf("unexpected offer body %+v", received)
	}
	if received.StudentsList["s1"] != "Ada" || len(received.StudentsList) != 2 {
		t.Errorf("roster not sent as students_list: %v", received.StudentsList)
	}
	if received.EndTime != "2025-03-01T10:30:00.000Z" {
		t.Errorf("unexpected end_time %q", received.EndTime)
	}
	if strings.Contains(received.SDP, " tcp ") || !strings.Contains(received.SDP, " udp ") {
		t.Errorf("offer SDP should carry UDP candidates only:\n%s", received.SDP)
	}
}

func TestHTTPClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"undecodable body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}},
		{"wrong description type", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(types.SessionDescription{Type: "offer", SDP: "v=0"})
		}},
		{"empty sdp", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(types.SessionDescription{Type: "answer"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewHTTPClient(server.URL, 5*time.Second)
			_, ch, err := client.Negotiate(context.Background(), types.SessionDescription{Type: "offer", SDP: testOfferSDP}, testSessionContext())
			if !errors.Is(err, types.ErrSignalingFailed) {
				t.Errorf("expected ErrSignalingFailed, got %v", err)
			}
			if ch != nil {
				t.Error("no channel should be returned on failure")
			}
		})
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPClient(url, time.Second)
	_, _, err := client.Negotiate(context.Background(), types.SessionDescription{Type: "offer", SDP: "v=0"}, testSessionContext())
	if !errors.Is(err, types.ErrSignalingFailed) {
		t.Errorf("expected ErrSignalingFailed, got %v", err)
	}
}

// TECHNICAL VALIDATION TEST: the caller's deadline bounds the exchange
func TestHTTPClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := NewHTTPClient(server.URL, time.Minute).Negotiate(ctx, types.SessionDescription{Type: "offer", SDP: "v=0"}, testSessionContext())
	if !errors.Is(err, types.ErrSignalingFailed) {
		t.Errorf("expected ErrSignalingFailed, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("negotiation should stop at the context deadline")
	}
}

func TestNoopChannel(t *testing.T) {
	ch := newNoopChannel()
	if err := ch.Send(types.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 1 typ host"}); err != nil {
		t.Errorf("Send should be a no-op, got %v", err)
	}
	_ = ch.Close()
	_ = ch.Close()
	if _, ok := <-ch.Remote(); ok {
		t.Error("Remote should be closed after Close")
	}
}
