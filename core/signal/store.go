package signal

import (
	"sync"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

type key struct{ store, sku string }

// Store keeps extracted signals in memory. The latest signal per
// (store, sku) answers Lookup; all signals are kept for Recent until pruned.
type Store struct {
	mu     sync.RWMutex
	all    []model.BehavioralSignal
	latest map[key]model.BehavioralSignal
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{latest: make(map[key]model.BehavioralSignal)}
}

// Add appends signals. Invalid signals are ignored and counted in the result.
func (s *Store) Add(signals ...model.BehavioralSignal) (rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		if sig.Validate() != nil {
			rejected++
			continue
		}
		s.all = append(s.all, sig)
		k := key{sig.StoreID, sig.SKU}
		if cur, ok := s.latest[k]; !ok || !sig.ObservedAt.Before(cur.ObservedAt) {
			s.latest[k] = sig
		}
	}
	return rejected
}

// Lookup returns the most recent signal for the store and SKU.
func (s *Store) Lookup(storeID, sku string) (model.BehavioralSignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.latest[key{storeID, sku}]
	return sig, ok
}

// Recent returns signals observed at or after since.
func (s *Store) Recent(since time.Time) []model.BehavioralSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BehavioralSignal, 0, len(s.all))
	for _, sig := range s.all {
		if !sig.ObservedAt.Before(since) {
			out = append(out, sig)
		}
	}
	return out
}

// Prune drops signals observed before cutoff and returns how many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.all[:0]
	for _, sig := range s.all {
		if !sig.ObservedAt.Before(cutoff) {
			kept = append(kept, sig)
		}
	}
	removed := len(s.all) - len(kept)
	s.all = kept
	for k, sig := range s.latest {
		if sig.ObservedAt.Before(cutoff) {
			delete(s.latest, k)
		}
	}
	return removed
}

// Len returns the number of stored signals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.all)
}
