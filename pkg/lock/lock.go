// Package lock provides the in-process mutex types used to guard shared
// state across the gitfs packages. RWMutex wraps go-deadlock so that a
// lock ordering mistake surfaces as a logged stack trace instead of a
// silent hang.
package lock

import (
	"github.com/sasha-s/go-deadlock"
)

// RWMutex is a drop-in replacement for sync.RWMutex with deadlock
// detection enabled. It is safe for zero-value use.
type RWMutex struct {
	mu deadlock.RWMutex
}

func (m *RWMutex) Lock()    { m.mu.Lock() }
func (m *RWMutex) Unlock()  { m.mu.Unlock() }
func (m *RWMutex) RLock()   { m.mu.RLock() }
func (m *RWMutex) RUnlock() { m.mu.RUnlock() }

// Mutex is a drop-in replacement for sync.Mutex with deadlock detection
// enabled. It is safe for zero-value use.
type Mutex struct {
	mu deadlock.Mutex
}

func (m *Mutex) Lock()   { m.mu.Lock() }
func (m *Mutex) Unlock() { m.mu.Unlock() }
