package interfaces

import (
	"context"

	"liveattend/pkg/types"
)

// SignalingClient performs the one-shot offer/answer exchange with the
// remote media endpoint
// ARCHITECTURAL DISCOVERY: the client keeps no connection state; whatever a
// transport needs for trickling candidates lives in the returned channel
type SignalingClient interface {
	// Negotiate sends the local offer with the session context and returns the
	// remote answer plus the ICE candidate channel for this exchange.
	// Every failure is reported as types.ErrSignalingFailed; nothing is retried.
	Negotiate(ctx context.Context, offer types.SessionDescription, sc types.SessionContext) (types.SessionDescription, CandidateChannel, error)
}

// CandidateChannel carries ICE candidates to and from the remote side
type CandidateChannel interface {
	// Send forwards a local candidate. Non-UDP candidates are dropped silently.
	Send(candidate types.ICECandidate) error

	// Remote delivers candidates announced by the remote side. It is closed
	// when the channel closes.
	Remote() <-chan types.ICECandidate

	// Close releases the underlying transport. Safe to call more than once.
	Close() error
}
