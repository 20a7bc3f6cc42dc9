package signaling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	wsconn "liveattend/internal/websocket"
	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// SocketClient negotiates over {ws base}/ws/{clientID} and keeps the socket
// open afterwards to trickle ICE candidates in both directions
type SocketClient struct {
	wsBase     string
	dialer     *websocket.Dialer
	connConfig wsconn.ConnectionConfig
}

// NewSocketClient creates a client for the websocket base URL (ws:// or wss://)
func NewSocketClient(wsBase string, handshakeTimeout time.Duration, connConfig wsconn.ConnectionConfig) *SocketClient {
	return &SocketClient{
		wsBase: strings.TrimRight(wsBase, "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		connConfig: connConfig,
	}
}

// Negotiate dials a fresh socket, sends the offer and waits for the answer.
// On success the socket becomes the returned candidate channel.
func (c *SocketClient) Negotiate(ctx context.Context, offer types.SessionDescription, sc types.SessionContext) (types.SessionDescription, interfaces.CandidateChannel, error) {
	answer, ch, err := c.negotiate(ctx, filterOffer(offer), sc)
	if err != nil {
		log.Printf("Signaling failed: transport=socket session=%s err=%v", sc.SessionID, err)
		return types.SessionDescription{}, nil, fmt.Errorf("%w: %w", types.ErrSignalingFailed, err)
	}
	log.Printf("Signaling complete: transport=socket session=%s client=%s", sc.SessionID, ch.conn.ID())
	return answer, ch, nil
}

func (c *SocketClient) negotiate(ctx context.Context, offer types.SessionDescription, sc types.SessionContext) (types.SessionDescription, *socketChannel, error) {
	clientID := uuid.New().String()

	raw, _, err := c.dialer.DialContext(ctx, c.wsBase+"/ws/"+clientID, nil)
	if err != nil {
		return types.SessionDescription{}, nil, fmt.Errorf("dial: %w", err)
	}

	ch := newSocketChannel(wsconn.NewConnection(raw, clientID, c.connConfig))
	go ch.readLoop()

	frame := Frame{
		Type:         FrameOffer,
		SDP:          offer.SDP,
		SessionID:    sc.SessionID,
		StudentsList: sc.Roster,
	}
	if !sc.EndTime.IsZero() {
		frame.EndTime = sc.EndTime.UTC().Format(isoLayout)
	}
	if err := ch.conn.WriteJSON(frame); err != nil {
		_ = ch.Close()
		return types.SessionDescription{}, nil, fmt.Errorf("send offer: %w", err)
	}

	select {
	case reply := <-ch.replies:
		if reply.Type == FrameError {
			_ = ch.Close()
			return types.SessionDescription{}, nil, fmt.Errorf("%w: %s", ErrAnswerRejected, reply.Message)
		}
		answer := types.SessionDescription{Type: reply.Type, SDP: reply.SDP}
		if err := checkAnswer(answer); err != nil {
			_ = ch.Close()
			return types.SessionDescription{}, nil, err
		}
		return answer, ch, nil

	case <-ch.readDone:
		_ = ch.Close()
		return types.SessionDescription{}, nil, ErrSocketDisconnected

	case <-ctx.Done():
		_ = ch.Close()
		return types.SessionDescription{}, nil, ctx.Err()
	}
}

// socketChannel is the signaling socket after the answer has arrived
type socketChannel struct {
	conn     *wsconn.Connection
	router   *frameRouter
	replies  chan *Frame
	remote   chan types.ICECandidate
	readDone chan struct{}
}

func newSocketChannel(conn *wsconn.Connection) *socketChannel {
	ch := &socketChannel{
		conn:     conn,
		router:   newFrameRouter(),
		replies:  make(chan *Frame, 1),
		remote:   make(chan types.ICECandidate, 32),
		readDone: make(chan struct{}),
	}

	ch.router.Handle(FrameAnswer, ch.handleReply)
	ch.router.Handle(FrameError, ch.handleReply)
	ch.router.Handle(FrameICECandidate, ch.handleCandidate)

	return ch
}

// handleReply keeps the first answer or error; later ones are ignored
func (s *socketChannel) handleReply(frame *Frame) error {
	select {
	case s.replies <- frame:
	default:
		log.Printf("Ignoring extra signaling reply: client=%s type=%s", s.conn.ID(), frame.Type)
	}
	return nil
}

func (s *socketChannel) handleCandidate(frame *Frame) error {
	if frame.Candidate == nil {
		return ErrMissingCandidate
	}
	select {
	case s.remote <- *frame.Candidate:
	case <-s.conn.Done():
	}
	return nil
}

// readLoop is the only reader of the socket and the only closer of remote
func (s *socketChannel) readLoop() {
	defer close(s.readDone)
	defer close(s.remote)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !wsconn.IsNormalClose(err) {
				select {
				case <-s.conn.Done():
				default:
					log.Printf("Signaling socket read error: client=%s err=%v", s.conn.ID(), err)
				}
			}
			_ = s.conn.Close()
			return
		}
		if err := s.router.Route(data); err != nil {
			log.Printf("Dropping signaling frame: client=%s err=%v", s.conn.ID(), err)
		}
	}
}

// Send forwards a UDP candidate; anything else is dropped silently
func (s *socketChannel) Send(candidate types.ICECandidate) error {
	if !IsUDPCandidate(candidate.Candidate) {
		return nil
	}
	err := s.conn.WriteJSON(Frame{Type: FrameICECandidate, Candidate: &candidate})
	if errors.Is(err, wsconn.ErrConnectionClosed) {
		return ErrChannelClosed
	}
	return err
}

// Remote delivers candidates announced by the remote side
func (s *socketChannel) Remote() <-chan types.ICECandidate {
	return s.remote
}

// Close closes the socket. Idempotent.
func (s *socketChannel) Close() error {
	return s.conn.Close()
}
