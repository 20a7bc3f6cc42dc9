package hub

import "errors"

// Hub errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrUpdateChannelFull = errors.New("update channel is full")
	ErrWatchChannelFull  = errors.New("watch channel is full")
	ErrInvalidUpdateKind = errors.New("update must carry a state or a notification")
)
