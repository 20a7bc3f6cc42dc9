package interfaces

import (
	"context"

	"liveattend/pkg/types"
)

// MediaPeer is one receive-only video peer connection
type MediaPeer interface {
	// CreateOffer builds and applies the local offer (video recvonly, no audio)
	CreateOffer(ctx context.Context) (types.SessionDescription, error)

	// ApplyAnswer sets the remote description
	ApplyAnswer(answer types.SessionDescription) error

	// AddRemoteCandidate adds a candidate announced by the remote side
	AddRemoteCandidate(candidate types.ICECandidate) error

	// LocalCandidates yields locally gathered candidates; closed when the
	// peer is closed
	LocalCandidates() <-chan types.ICECandidate

	// FirstFrame is closed once the first media frame has been received
	FirstFrame() <-chan struct{}

	// Lost is closed when the media transport drops without a local Close
	Lost() <-chan struct{}

	// Close releases the peer connection and any held stream. Idempotent.
	Close() error
}

// PeerFactory creates media peers
type PeerFactory interface {
	NewPeer(ctx context.Context) (MediaPeer, error)
}
