package services

import (
	"context"
	"fmt"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/cache"
)

// ProfileCache fronts the user repository with a TTL cache so the
// availability aggregator does not hammer the store on every recompute.
// Lookups are batched: only the ids missing from the cache hit the
// repository, in a single GetMany call.
type ProfileCache struct {
	repo  ports.UserRepository
	cache *cache.Cache[*domain.UserProfile]
}

func NewProfileCache(repo ports.UserRepository, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		repo:  repo,
		cache: cache.New[*domain.UserProfile](ttl),
	}
}

// Get fetches a single profile, cache-first.
func (p *ProfileCache) Get(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	return p.cache.GetOrSet(ctx, string(id), func(ctx context.Context) (*domain.UserProfile, error) {
		return p.repo.GetByID(ctx, id)
	})
}

// GetMany fetches profiles for the given ids, hitting the repository only
// for the ones not cached. Unknown ids are silently absent from the result.
func (p *ProfileCache) GetMany(ctx context.Context, ids []domain.UserID) (map[domain.UserID]*domain.UserProfile, error) {
	result := make(map[domain.UserID]*domain.UserProfile, len(ids))

	var missing []domain.UserID
	queued := make(map[domain.UserID]struct{}, len(ids))
	for _, id := range ids {
		if _, seen := result[id]; seen {
			continue
		}
		if _, seen := queued[id]; seen {
			continue
		}
		if profile, ok := p.cache.Get(string(id)); ok {
			result[id] = profile
		} else {
			missing = append(missing, id)
			queued[id] = struct{}{}
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := p.repo.GetMany(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to batch fetch profiles: %w", err)
	}
	for _, profile := range fetched {
		p.cache.Set(string(profile.ID), profile)
		result[profile.ID] = profile
	}

	return result, nil
}

// Invalidate drops a single profile, forcing a refetch on next access.
// Called after profile mutations so name changes propagate promptly.
func (p *ProfileCache) Invalidate(id domain.UserID) {
	p.cache.Delete(string(id))
}

// Stop terminates the cache's cleanup goroutine.
func (p *ProfileCache) Stop() {
	p.cache.Stop()
}
