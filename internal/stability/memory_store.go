package stability

import (
	"context"
	"sync"
	"time"
)

type memWindow struct {
	mu    sync.Mutex
	bits  []bool
	state State

	lastSeen time.Time // guarded by MemoryStore.mu
}

// MemoryStore is a single-process Store. Windows idle longer than ttl are
// dropped on their next access, and a sweep at most once per ttl evicts the
// ones that are never touched again.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[int64]*memWindow
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{windows: map[int64]*memWindow{}, ttl: ttl, now: time.Now}
}

func (s *MemoryStore) window(callID int64) *memWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	w, ok := s.windows[callID]
	if ok && s.expired(w, now) {
		ok = false
	}
	if !ok {
		w = &memWindow{state: Safe}
		s.windows[callID] = w
	}
	w.lastSeen = now
	return w
}

func (s *MemoryStore) expired(w *memWindow, now time.Time) bool {
	return s.ttl > 0 && now.Sub(w.lastSeen) > s.ttl
}

// sweep must be called with s.mu held.
func (s *MemoryStore) sweep(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for id, w := range s.windows {
		if s.expired(w, now) {
			delete(s.windows, id)
		}
	}
}

// Len reports how many call windows are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) Observe(_ context.Context, callID int64, positive bool, rule Rule) (Transition, error) {
	w := s.window(callID)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.bits = Push(w.bits, positive, rule.Size)
	prev := w.state
	w.state = rule.Next(prev, w.bits)

	return Transition{Previous: prev, Current: w.state, Positives: Positives(w.bits)}, nil
}

func (s *MemoryStore) Reset(_ context.Context, callID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, callID)
	return nil
}
