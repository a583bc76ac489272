package quote

import (
	"sync"

	"github.com/google/uuid"

	"github.com/quotelab/pricing-api/internal/pricing"
)

// Session serialises result publication for one cart. Calculations may finish
// out of order (a slow remote tax refinement can land after a newer local
// calculation); only results carrying the newest token may become the current
// snapshot, everything older is discarded.
type Session struct {
	mu      sync.Mutex
	next    uint64
	applied uint64
	current *pricing.Result
}

// Begin claims a token for a calculation about to start. Tokens are issued in
// strictly increasing order.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

// Publish installs result as the current snapshot when token is still the
// newest applied. A token equal to the applied one re-publishes (that is how a
// tax refinement updates the snapshot it refines); an older token is stale and
// the result is dropped. It reports whether the result was applied.
func (s *Session) Publish(token uint64, result pricing.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token < s.applied {
		return false
	}
	s.applied = token
	s.current = &result
	return true
}

// Current returns the latest applied snapshot, or false when nothing has been
// published yet.
func (s *Session) Current() (pricing.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return pricing.Result{}, false
	}
	return *s.current, true
}

// Sessions tracks one Session per cart.
type Sessions struct {
	mu    sync.Mutex
	byKey map[uuid.UUID]*Session
}

// NewSessions builds an empty registry.
func NewSessions() *Sessions {
	return &Sessions{byKey: make(map[uuid.UUID]*Session)}
}

// For returns the session for the given cart, creating it on first use.
func (r *Sessions) For(cartID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byKey[cartID]
	if !ok {
		s = &Session{}
		r.byKey[cartID] = s
	}
	return s
}

// Drop forgets a cart's session.
func (r *Sessions) Drop(cartID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, cartID)
}
