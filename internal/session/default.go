package session

import (
	"sync"

	"liveattend/pkg/interfaces"
)

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Init creates the process-wide manager on first call and returns it. Later
// calls return the existing manager and ignore their arguments.
func Init(peers interfaces.PeerFactory, signaling interfaces.SignalingClient, config Config) *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager == nil {
		defaultManager = NewManager(peers, signaling, config)
	}
	return defaultManager
}

// Default returns the process-wide manager created by Init
func Default() (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager == nil {
		return nil, ErrManagerNotInited
	}
	return defaultManager, nil
}
