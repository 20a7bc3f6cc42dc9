package media

import "errors"

var (
	ErrPeerClosed    = errors.New("media peer closed")
	ErrGatherTimeout = errors.New("ICE gathering did not complete")
	ErrNoLocalOffer  = errors.New("local description not set")
)
