package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store paired with the memory storage backend.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Record)}
}

// live returns the unexpired record for key. Expired entries are dropped on sight.
func (s *MemoryStore) live(key string, now time.Time) (string, Record, bool) {
	id := documentID(key)
	record, ok := s.byID[id]
	if ok && record.expired(now) {
		delete(s.byID, id)
		ok = false
	}
	return id, record, ok
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id, record, ok := s.live(key, now)
	if ok {
		return classify(record, fingerprint)
	}
	record = pendingRecord(key, fingerprint, now, normaliseTTL(ttl))
	s.byID[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id, record, ok := s.live(key, now)
	switch {
	case !ok:
		record = pendingRecord(key, fingerprint, now, 0)
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	s.byID[id] = record.complete(resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	if s.byID[id].Fingerprint == fingerprint {
		delete(s.byID, id)
	}
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.byID {
		if limit > 0 && removed == limit {
			break
		}
		if record.expired(now) {
			delete(s.byID, id)
			removed++
		}
	}
	return removed, nil
}
