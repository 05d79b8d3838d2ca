package contacts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Contact // selfDID + "\n" + did
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory contact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Contact)}
}

func memKey(selfDID, did string) string {
	return selfDID + "\n" + did
}

func cloneContact(c *Contact) *Contact {
	cp := *c
	return &cp
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, selfDID string, c *Contact) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := cloneContact(c)
	rec.UpdatedAt = now
	if prev, ok := s.entries[memKey(selfDID, c.DID)]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	s.entries[memKey(selfDID, c.DID)] = rec
	return cloneContact(rec), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, selfDID, did string) (*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entries[memKey(selfDID, did)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContact(rec), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, selfDID string) ([]*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := selfDID + "\n"
	out := make([]*Contact, 0)
	for key, rec := range s.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, cloneContact(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DID < out[j].DID
	})
	return out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, selfDID string, c *Contact) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[memKey(selfDID, c.DID)]
	if !ok {
		return nil, ErrNotFound
	}
	rec := cloneContact(c)
	rec.CreatedAt = prev.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.entries[memKey(selfDID, c.DID)] = rec
	return cloneContact(rec), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, selfDID, did string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(selfDID, did)
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}
