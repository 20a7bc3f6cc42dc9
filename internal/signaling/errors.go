package signaling

import "errors"

// Signaling transport errors. Every one of them is wrapped in
// types.ErrSignalingFailed before it leaves Negotiate.
var (
	ErrAnswerRejected     = errors.New("remote endpoint returned an error")
	ErrInvalidAnswer      = errors.New("answer is missing or not of type answer")
	ErrUnexpectedStatus   = errors.New("unexpected HTTP status from offer endpoint")
	ErrChannelClosed      = errors.New("candidate channel closed")
	ErrUnknownFrameType   = errors.New("unknown signaling frame type")
	ErrMissingCandidate   = errors.New("ice-candidate frame without candidate")
	ErrSocketDisconnected = errors.New("signaling socket closed before answer")
)
