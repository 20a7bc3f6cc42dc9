package media

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// FactoryConfig configures the peers a Factory creates
type FactoryConfig struct {
	ICEServers []string

	// WaitForGathering makes CreateOffer block until ICE gathering is done,
	// for transports that cannot trickle candidates
	WaitForGathering bool

	// IncludeLoopback gathers loopback candidates (local testing)
	IncludeLoopback bool
}

// Factory creates receive-only video peers
type Factory struct {
	api    *webrtc.API
	config FactoryConfig
	open   atomic.Int64
}

// NewFactory builds a pion API restricted to UDP transports
func NewFactory(config FactoryConfig) *Factory {
	settings := webrtc.SettingEngine{}
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})
	settings.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		log.Printf("Failed to register default codecs: %v", err)
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settings), webrtc.WithMediaEngine(media)),
		config: config,
	}
}

// OpenPeers returns the number of peers created and not yet closed
func (f *Factory) OpenPeers() int64 {
	return f.open.Load()
}

// NewPeer creates a peer with one recvonly video transceiver and no audio
func (f *Factory) NewPeer(ctx context.Context) (interfaces.MediaPeer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rtcConfig := webrtc.Configuration{}
	if len(f.config.ICEServers) > 0 {
		rtcConfig.ICEServers = []webrtc.ICEServer{{URLs: f.config.ICEServers}}
	}

	pc, err := f.api.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}

	f.open.Add(1)
	p := newPeer(pc, f.config.WaitForGathering, func() { f.open.Add(-1) })
	return p, nil
}

// Peer is a pion PeerConnection receiving one video stream
type Peer struct {
	pc               *webrtc.PeerConnection
	waitForGathering bool
	onClose          func()

	candidatesMu sync.Mutex
	candidates   chan types.ICECandidate

	firstFrame chan struct{}
	lost       chan struct{}
	closed     chan struct{}

	frameOnce sync.Once
	lostOnce  sync.Once
	closeOnce sync.Once

	trackMu sync.Mutex
	tracks  sync.WaitGroup
}

func newPeer(pc *webrtc.PeerConnection, waitForGathering bool, onClose func()) *Peer {
	p := &Peer{
		pc:               pc,
		waitForGathering: waitForGathering,
		onClose:          onClose,
		candidates:       make(chan types.ICECandidate, 64),
		firstFrame:       make(chan struct{}),
		lost:             make(chan struct{}),
		closed:           make(chan struct{}),
	}

	pc.OnICECandidate(p.handleCandidate)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("Remote track received: kind=%s codec=%s", track.Kind(), track.Codec().MimeType)

		p.trackMu.Lock()
		defer p.trackMu.Unlock()
		select {
		case <-p.closed:
			return
		default:
		}
		p.tracks.Add(1)
		go p.readTrack(track)
	})
	pc.OnConnectionStateChange(p.handleStateChange)

	return p
}

func (p *Peer) handleCandidate(c *webrtc.ICECandidate) {
	// nil marks the end of gathering
	if c == nil {
		return
	}
	init := c.ToJSON()

	p.candidatesMu.Lock()
	defer p.candidatesMu.Unlock()

	select {
	case <-p.closed:
		return
	default:
	}

	select {
	case p.candidates <- types.ICECandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}:
	case <-p.closed:
	}
}

// readTrack drains the track; the first packet read counts as the first frame
func (p *Peer) readTrack(track *webrtc.TrackRemote) {
	defer p.tracks.Done()

	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
		p.frameOnce.Do(func() { close(p.firstFrame) })
	}
}

// FUNCTIONAL DISCOVERY: disconnected can recover on its own, so only failed
// and closed count as lost; a local Close is never reported
func (p *Peer) handleStateChange(state webrtc.PeerConnectionState) {
	log.Printf("Peer connection state: %s", state)

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
	default:
		return
	}

	select {
	case <-p.closed:
		return
	default:
	}
	p.lostOnce.Do(func() { close(p.lost) })
}

// CreateOffer creates and applies the local offer
func (p *Peer) CreateOffer(ctx context.Context) (types.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return types.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return types.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	if p.waitForGathering {
		select {
		case <-gathered:
		case <-p.closed:
			return types.SessionDescription{}, ErrPeerClosed
		case <-ctx.Done():
			return types.SessionDescription{}, fmt.Errorf("%w: %w", ErrGatherTimeout, ctx.Err())
		}
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return types.SessionDescription{}, ErrNoLocalOffer
	}
	return types.SessionDescription{Type: local.Type.String(), SDP: local.SDP}, nil
}

// ApplyAnswer sets the remote answer
func (p *Peer) ApplyAnswer(answer types.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

// AddRemoteCandidate adds a trickled remote candidate
func (p *Peer) AddRemoteCandidate(candidate types.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

// LocalCandidates yields gathered candidates until Close
func (p *Peer) LocalCandidates() <-chan types.ICECandidate {
	return p.candidates
}

// FirstFrame is closed when the first video packet arrives
func (p *Peer) FirstFrame() <-chan struct{} {
	return p.firstFrame
}

// Lost is closed when the connection fails or closes remotely
func (p *Peer) Lost() <-chan struct{} {
	return p.lost
}

// Close closes the peer connection and waits for track readers. Idempotent.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.trackMu.Lock()
		close(p.closed)
		p.trackMu.Unlock()

		err = p.pc.Close()
		p.tracks.Wait()

		p.candidatesMu.Lock()
		close(p.candidates)
		p.candidatesMu.Unlock()

		if p.onClose != nil {
			p.onClose()
		}
	})
	return err
}
