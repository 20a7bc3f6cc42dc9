package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"liveattend/pkg/types"
)

// Frame types exchanged over the signaling socket
const (
	FrameOffer        = "offer"
	FrameAnswer       = "answer"
	FrameICECandidate = "ice-candidate"
	FrameError        = "error"
)

// Frame is one JSON message on the signaling socket. The offer frame carries
// the same session context fields as the HTTP offer body.
type Frame struct {
	Type         string              `json:"type"`
	SDP          string              `json:"sdp,omitempty"`
	Candidate    *types.ICECandidate `json:"candidate,omitempty"`
	Message      string              `json:"message,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	StudentsList map[string]string   `json:"students_list,omitempty"`
	EndTime      string              `json:"end_time,omitempty"`
}

// FrameHandler handles one decoded frame
type FrameHandler func(frame *Frame) error

// frameRouter dispatches inbound frames by type
// ARCHITECTURAL DISCOVERY: the socket reader only decodes and dispatches;
// what a frame means is decided by the handler registered for its type
type frameRouter struct {
	mu       sync.RWMutex
	handlers map[string]FrameHandler
}

func newFrameRouter() *frameRouter {
	return &frameRouter{handlers: make(map[string]FrameHandler)}
}

// Handle registers h for frames of type frameType, replacing any previous one
func (r *frameRouter) Handle(frameType string, h FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[frameType] = h
}

// Route decodes data and calls the handler for its type
func (r *frameRouter) Route(data []byte) error {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	r.mu.RLock()
	h, ok := r.handlers[frame.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
	}
	return h(&frame)
}
