// Package reqstore provides request-scoped variable stores: the slots
// behind $req.name, shared by every probe that fires within one request.
//
// Three implementations cover the deployment shapes hosts actually have:
// Store for the common case of a request pinned to one worker, Shared for
// hosts that fan a request across goroutines, and RedisStore for hosts
// whose requests migrate between processes.
//
// All of them keep the same contract: reading an unset slot yields None,
// never an error; writes are visible to subsequent probes in the same
// request; distinct requests never observe each other's slots.
package reqstore

import "github.com/hogtrace/hogtrace/internal/vm"

// Store is the in-memory request store. It is not safe for concurrent
// use; hosts that pin each request to one goroutine need nothing more,
// others should wrap it in Shared. The store itself is reusable across
// requests: Reset clears the slots at request start.
type Store struct {
	requestID string
	slots     map[string]vm.Value
}

// New returns an empty store bound to requestID.
func New(requestID string) *Store {
	return &Store{requestID: requestID, slots: make(map[string]vm.Value)}
}

// RequestID returns the request this store is currently bound to.
func (s *Store) RequestID() string { return s.requestID }

// Get reads a slot; unset slots read as None.
func (s *Store) Get(name string) vm.Value {
	if v, ok := s.slots[name]; ok {
		return v
	}
	return vm.None()
}

// Set writes a slot.
func (s *Store) Set(name string, v vm.Value) {
	s.slots[name] = v
}

// Len returns the number of set slots.
func (s *Store) Len() int { return len(s.slots) }

// Reset rebinds the store to a new request, dropping every slot.
func (s *Store) Reset(requestID string) {
	s.requestID = requestID
	s.slots = make(map[string]vm.Value)
}
