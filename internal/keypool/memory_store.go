package keypool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"generation-gateway/internal/entity"
)

var ErrKeyNotFound = errors.New("api key not found")

// MemoryStore is an in-process Store with the same claim semantics as the
// Postgres one. Used by tests and local runs without a database.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*entity.APIKey
}

func NewMemoryStore(keys ...entity.APIKey) *MemoryStore {
	s := &MemoryStore{keys: map[uuid.UUID]*entity.APIKey{}}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s *MemoryStore) Add(k entity.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.Status == "" {
		k.Status = entity.KeyActive
	}
	s.keys[k.ID] = &k
}

// Get returns a copy of the key.
func (s *MemoryStore) Get(id uuid.UUID) (entity.APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return entity.APIKey{}, false
	}
	return *k, true
}

func (s *MemoryStore) ClaimKey(_ context.Context, providerID uuid.UUID, now time.Time) (*entity.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*entity.APIKey
	for _, k := range s.keys {
		if k.ProviderID == providerID && k.Eligible(now) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt == nil:
			return a.ID.String() < b.ID.String()
		case a.LastUsedAt == nil:
			return true
		case b.LastUsedAt == nil:
			return false
		}
		return a.LastUsedAt.Before(*b.LastUsedAt)
	})

	k := candidates[0]
	used := now
	k.LastUsedAt = &used
	k.Status = entity.KeyActive
	k.RateLimitResetAt = nil
	out := *k
	return &out, nil
}

func (s *MemoryStore) MarkSuccess(_ context.Context, keyID uuid.UUID) error {
	return s.update(keyID, func(k *entity.APIKey) {
		k.ErrorCount = 0
		k.Status = entity.KeyActive
		k.RateLimitResetAt = nil
	})
}

func (s *MemoryStore) IncrementErrors(_ context.Context, keyID uuid.UUID, message string, threshold int) (*entity.APIKey, error) {
	var out entity.APIKey
	err := s.update(keyID, func(k *entity.APIKey) {
		k.ErrorCount++
		msg := message
		k.LastError = &msg
		if k.ErrorCount >= threshold {
			k.Status = entity.KeyError
		}
		out = *k
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) MarkRateLimited(_ context.Context, keyID uuid.UUID, resetAt time.Time, message string) error {
	return s.update(keyID, func(k *entity.APIKey) {
		at := resetAt
		msg := message
		k.Status = entity.KeyRateLimited
		k.RateLimitResetAt = &at
		k.LastError = &msg
	})
}

func (s *MemoryStore) ResetKey(_ context.Context, keyID uuid.UUID) error {
	return s.update(keyID, func(k *entity.APIKey) {
		k.Status = entity.KeyActive
		k.ErrorCount = 0
		k.RateLimitResetAt = nil
		k.LastError = nil
	})
}

func (s *MemoryStore) ListByProvider(_ context.Context, providerID uuid.UUID) ([]entity.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []entity.APIKey{}
	for _, k := range s.keys {
		if k.ProviderID == providerID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) update(keyID uuid.UUID, fn func(*entity.APIKey)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	fn(k)
	return nil
}
