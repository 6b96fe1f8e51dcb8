// Package bridge shares the simulation kernel with the external
// REST/WebSocket collaborator. The reference is written once at kernel
// construction and only read afterwards.
package bridge

import (
	"sync"

	"github.com/ps-ux/ipsim/internal/sim"
)

var (
	mu     sync.RWMutex
	engine *sim.Engine
)

// Register stores the kernel reference. Called once during bootstrap.
func Register(e *sim.Engine) {
	mu.Lock()
	defer mu.Unlock()
	engine = e
}

// Get returns the registered kernel, or false when bootstrap has not
// completed.
func Get() (*sim.Engine, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return engine, engine != nil
}

// IsAvailable reports whether the kernel is registered.
func IsAvailable() bool {
	_, ok := Get()
	return ok
}
