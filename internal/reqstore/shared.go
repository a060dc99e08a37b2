package reqstore

import (
	"sync"

	"github.com/hogtrace/hogtrace/internal/vm"
)

// Shared wraps a Store with a mutex for hosts that run probes of one
// request on multiple goroutines concurrently. Writers within a request
// must be serialized somewhere; this is that somewhere when the host has
// no natural serialization point of its own.
type Shared struct {
	mu    sync.Mutex
	inner *Store
}

// NewShared returns a mutex-guarded store bound to requestID.
func NewShared(requestID string) *Shared {
	return &Shared{inner: New(requestID)}
}

// Get reads a slot; unset slots read as None.
func (s *Shared) Get(name string) vm.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Get(name)
}

// Set writes a slot.
func (s *Shared) Set(name string, v vm.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Set(name, v)
}

// Reset rebinds to a new request, dropping every slot.
func (s *Shared) Reset(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Reset(requestID)
}
