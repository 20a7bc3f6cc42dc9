package interfaces_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// Minimal stand-ins used to pin interface method sets at compile time

type stubSignaling struct{}

func (stubSignaling) Negotiate(ctx context.Context, offer types.SessionDescription, sc types.SessionContext) (types.SessionDescription, interfaces.CandidateChannel, error) {
	return types.SessionDescription{Type: types.SDPTypeAnswer}, stubChannel{}, nil
}

type stubChannel struct{}

func (stubChannel) Send(types.ICECandidate) error        { return nil }
func (stubChannel) Remote() <-chan types.ICECandidate    { return nil }
func (stubChannel) Close() error                         { return nil }

type stubPeer struct{}

func (stubPeer) CreateOffer(context.Context) (types.SessionDescription, error) {
	return types.SessionDescription{Type: types.SDPTypeOffer}, nil
}
func (stubPeer) ApplyAnswer(types.SessionDescription) error   { return nil }
func (stubPeer) AddRemoteCandidate(types.ICECandidate) error  { return nil }
func (stubPeer) LocalCandidates() <-chan types.ICECandidate   { return nil }
func (stubPeer) FirstFrame() <-chan struct{}                  { return nil }
func (stubPeer) Lost() <-chan struct{}                        { return nil }
func (stubPeer) Close() error                                 { return nil }

type stubFactory struct{}

func (stubFactory) NewPeer(context.Context) (interfaces.MediaPeer, error) { return stubPeer{}, nil }

type stubSubscription struct{}

func (stubSubscription) SessionID() string                     { return "s1" }
func (stubSubscription) Events() <-chan types.AttendanceEvent  { return nil }
func (stubSubscription) Close() error                          { return nil }

type stubFeed struct{}

func (stubFeed) Subscribe(context.Context, string) (interfaces.Subscription, error) {
	return stubSubscription{}, nil
}

type stubJournal struct{}

func (stubJournal) RecordSessionStart(context.Context, *types.Session, types.Roster, time.Time) error {
	return nil
}
func (stubJournal) RecordSessionStop(context.Context, string, time.Time) error { return nil }
func (stubJournal) StoreEvent(context.Context, *types.AttendanceEvent) error   { return nil }
func (stubJournal) GetLiveSession(context.Context, string) (*types.LiveSessionRecord, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (stubJournal) ListLiveSessions(context.Context, int) ([]*types.LiveSessionRecord, error) {
	return nil, nil
}
func (stubJournal) ListEvents(context.Context, string) ([]*types.AttendanceEvent, error) {
	return nil, nil
}
func (stubJournal) HealthCheck(context.Context) error { return nil }
func (stubJournal) Close() error                      { return nil }

type stubSource struct{}

func (stubSource) SessionAttendance(context.Context, string) ([]types.AttendanceRecord, error) {
	return nil, nil
}
func (stubSource) ClassRoster(context.Context, string) (types.Roster, error)     { return nil, nil }
func (stubSource) ClassSessions(context.Context, string) ([]types.Session, error) { return nil, nil }

type stubSink struct{ states []types.ConnectionState }

func (s *stubSink) StateChanged(snap types.StateSnapshot) { s.states = append(s.states, snap.State) }
func (s *stubSink) Notify(types.Notification)             {}

var (
	_ interfaces.SignalingClient  = stubSignaling{}
	_ interfaces.CandidateChannel = stubChannel{}
	_ interfaces.MediaPeer        = stubPeer{}
	_ interfaces.PeerFactory      = stubFactory{}
	_ interfaces.EventFeed        = stubFeed{}
	_ interfaces.Subscription     = stubSubscription{}
	_ interfaces.JournalStore     = stubJournal{}
	_ interfaces.AttendanceSource = stubSource{}
	_ interfaces.StateSink        = (*stubSink)(nil)
	_ interfaces.Notifier         = (*stubSink)(nil)
)

// FUNCTIONAL VALIDATION TEST: negotiation yields an answer and a channel
func TestSignalingClient_Contract(t *testing.T) {
	var client interfaces.SignalingClient = stubSignaling{}

	answer, ch, err := client.Negotiate(context.Background(), types.SessionDescription{Type: types.SDPTypeOffer}, types.SessionContext{SessionID: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Type != types.SDPTypeAnswer {
		t.Errorf("expected answer type, got %q", answer.Type)
	}
	if ch == nil {
		t.Fatal("expected a candidate channel")
	}
	if err := ch.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestPeerFactory_Contract(t *testing.T) {
	var factory interfaces.PeerFactory = stubFactory{}

	peer, err := factory.NewPeer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	offer, err := peer.CreateOffer(context.Background())
	if err != nil || offer.Type != types.SDPTypeOffer {
		t.Errorf("unexpected offer %+v, err %v", offer, err)
	}
}

func TestJournalStore_NotFound(t *testing.T) {
	var store interfaces.JournalStore = stubJournal{}

	_, err := store.GetLiveSession(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

// TECHNICAL VALIDATION TEST: one observer may serve both observation roles
func TestStateSinkAndNotifier_SameObserver(t *testing.T) {
	sink := &stubSink{}
	var s interfaces.StateSink = sink
	var n interfaces.Notifier = sink

	s.StateChanged(types.StateSnapshot{State: types.StateConnecting})
	n.Notify(types.Notification{Message: "hello"})
	s.StateChanged(types.StateSnapshot{State: types.StateConnected})

	if len(sink.states) != 2 || sink.states[1] != types.StateConnected {
		t.Errorf("unexpected states %v", sink.states)
	}
}
