package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
//
// Read-modify-write sequences are serialised per (selfDID, peerDID) key with
// a keyed mutex, so concurrent operations against different peers never
// contend while a concurrent revoke and store against the same peer cannot
// interleave.
type MemoryStore struct {
	mu    sync.Mutex // guards the maps themselves
	locks map[string]*sync.Mutex
	to    map[string]*TokenRecord
	from  map[string]*TokenRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*sync.Mutex),
		to:    make(map[string]*TokenRecord),
		from:  make(map[string]*TokenRecord),
	}
}

// recordKey builds the map key for one peer relationship. DIDs cannot
// contain newlines, so the separator is unambiguous.
func recordKey(selfDID, peerDID string) string {
	return selfDID + "\n" + peerDID
}

// lockFor returns the mutex serialising one peer relationship, creating it
// on first use.
func (s *MemoryStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// UpsertToRemote implements Store.
func (s *MemoryStore) UpsertToRemote(_ context.Context, selfDID, peerDID, token string, expiresAt time.Time) (*TokenRecord, error) {
	key := recordKey(selfDID, peerDID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rec := &TokenRecord{
		ReqDID:    selfDID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	if !expiresAt.IsZero() {
		exp := expiresAt
		rec.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.to[key] = rec
	s.mu.Unlock()

	out := *rec
	return &out, nil
}

// GetToRemote implements Store.
func (s *MemoryStore) GetToRemote(_ context.Context, selfDID, peerDID string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.to[recordKey(selfDID, peerDID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// RevokeToRemote implements Store. The record is removed outright.
func (s *MemoryStore) RevokeToRemote(_ context.Context, selfDID, peerDID string) (bool, error) {
	key := recordKey(selfDID, peerDID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.to[key]; !ok {
		return false, nil
	}
	delete(s.to, key)
	return true, nil
}

// UpsertFromRemote implements Store.
func (s *MemoryStore) UpsertFromRemote(_ context.Context, selfDID, peerDID, token string) (*TokenRecord, error) {
	key := recordKey(selfDID, peerDID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rec := &TokenRecord{
		ReqDID:    peerDID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.from[key] = rec
	s.mu.Unlock()

	out := *rec
	return &out, nil
}

// GetFromRemote implements Store.
func (s *MemoryStore) GetFromRemote(_ context.Context, selfDID, peerDID string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.from[recordKey(selfDID, peerDID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// RevokeFromRemote implements Store. The record stays with IsRevoked set.
func (s *MemoryStore) RevokeFromRemote(_ context.Context, selfDID, peerDID string) (bool, error) {
	key := recordKey(selfDID, peerDID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.from[key]
	if !ok {
		return false, nil
	}
	rec.IsRevoked = true
	return true, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, selfDID string) (int, error) {
	now := time.Now()
	prefix := selfDID + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, rec := range s.to {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
			delete(s.to, key)
			n++
		}
	}
	return n, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context, selfDID string) (*Stats, error) {
	now := time.Now()
	prefix := selfDID + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{}
	for key, rec := range s.to {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		st.ToTotal++
		if !rec.IsRevoked && (rec.ExpiresAt == nil || rec.ExpiresAt.After(now)) {
			st.ToValid++
		}
	}
	for key, rec := range s.from {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		st.FromTotal++
		if !rec.IsRevoked {
			st.FromValid++
		}
	}
	return st, nil
}

var _ Store = (*MemoryStore)(nil)
