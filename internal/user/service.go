package user

import (
	"context"
	"log"
)

// Service reads users through the optional cache. A nil cache degrades to
// direct store reads; cache failures are logged and never surfaced.
type Service struct {
	store *Store
	cache *Cache
}

// NewService creates a user service. cache may be nil.
func NewService(store *Store, cache *Cache) *Service {
	return &Service{store: store, cache: cache}
}

// List returns the full directory. Listings always hit the store; only
// single-user lookups are cached.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.store.List(ctx)
}

// Get returns a user by id, reading through the cache when available.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	if s.cache != nil {
		if u, err := s.cache.Get(ctx, id); err != nil {
			log.Printf("user: cache read for %d failed: %v", id, err)
		} else if u != nil {
			return u, nil
		}
	}

	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, u); err != nil {
			log.Printf("user: cache write for %d failed: %v", id, err)
		}
	}
	return u, nil
}
