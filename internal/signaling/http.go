package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// isoLayout matches the millisecond UTC timestamps the offer endpoint parses
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// offerRequest is the body of POST /offer
type offerRequest struct {
	SDP          string            `json:"sdp"`
	Type         string            `json:"type"`
	StudentsList map[string]string `json:"students_list"`
	SessionID    string            `json:"session_id"`
	EndTime      string            `json:"end_time,omitempty"`
}

// HTTPClient negotiates with a single POST of the complete offer. ICE
// candidates travel inside the SDP, so the returned channel carries nothing.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for {baseURL}/offer. timeout bounds each
// request in addition to the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Negotiate posts the offer and returns the remote answer
func (c *HTTPClient) Negotiate(ctx context.Context, offer types.SessionDescription, sc types.SessionContext) (types.SessionDescription, interfaces.CandidateChannel, error) {
	answer, err := c.postOffer(ctx, filterOffer(offer), sc)
	if err != nil {
		log.Printf("Signaling failed: transport=http session=%s err=%v", sc.SessionID, err)
		return types.SessionDescription{}, nil, fmt.Errorf("%w: %w", types.ErrSignalingFailed, err)
	}
	log.Printf("Signaling complete: transport=http session=%s", sc.SessionID)
	return answer, newNoopChannel(), nil
}

func (c *HTTPClient) postOffer(ctx context.Context, offer types.SessionDescription, sc types.SessionContext) (types.SessionDescription, error) {
	body := offerRequest{
		SDP:          offer.SDP,
		Type:         offer.Type,
		StudentsList: sc.Roster,
		SessionID:    sc.SessionID,
	}
	if body.StudentsList == nil {
		body.StudentsList = map[string]string{}
	}
	if !sc.EndTime.IsZero() {
		body.EndTime = sc.EndTime.UTC().Format(isoLayout)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return types.SessionDescription{}, fmt.Errorf("encode offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/offer", bytes.NewReader(payload))
	if err != nil {
		return types.SessionDescription{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.SessionDescription{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.SessionDescription{}, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var answer types.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return types.SessionDescription{}, fmt.Errorf("decode answer: %w", err)
	}
	if err := checkAnswer(answer); err != nil {
		return types.SessionDescription{}, err
	}
	return answer, nil
}

func checkAnswer(answer types.SessionDescription) error {
	if answer.Type != types.SDPTypeAnswer || answer.SDP == "" {
		return ErrInvalidAnswer
	}
	return nil
}

// noopChannel is the candidate channel of a non-trickle exchange
type noopChannel struct {
	remote    chan types.ICECandidate
	closeOnce sync.Once
}

func newNoopChannel() *noopChannel {
	return &noopChannel{remote: make(chan types.ICECandidate)}
}

func (n *noopChannel) Send(types.ICECandidate) error {
	return nil
}

func (n *noopChannel) Remote() <-chan types.ICECandidate {
	return n.remote
}

func (n *noopChannel) Close() error {
	n.closeOnce.Do(func() { close(n.remote) })
	return nil
}
