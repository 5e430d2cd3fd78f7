package memory

import (
	"context"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/watch"
)

type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.StreamSession
	watchers map[*watch.Feed[[]*domain.StreamSession]]struct{}
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]*domain.StreamSession),
		watchers: make(map[*watch.Feed[[]*domain.StreamSession]]struct{}),
	}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *domain.StreamSession) error {
	r.mu.Lock()
	cp := *session
	r.sessions[session.ID] = &cp
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *MemorySessionRepository) Update(ctx context.Context, session *domain.StreamSession) error {
	r.mu.Lock()
	if _, exists := r.sessions[session.ID]; !exists {
		r.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	cp := *session
	r.sessions[session.ID] = &cp
	r.mu.Unlock()

	r.notify()
	return nil
}

func (r *MemorySessionRepository) ListActive(ctx context.Context) ([]*domain.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listActiveLocked(), nil
}

func (r *MemorySessionRepository) ListActiveByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*domain.StreamSession
	for _, session := range r.sessions {
		if session.Active && session.PublisherID == publisherID {
			cp := *session
			sessions = append(sessions, &cp)
		}
	}
	return sessions, nil
}

func (r *MemorySessionRepository) WatchActive(ctx context.Context) (*watch.Feed[[]*domain.StreamSession], error) {
	feed := watch.NewFeed[[]*domain.StreamSession]()

	r.mu.Lock()
	r.watchers[feed] = struct{}{}
	initial := r.listActiveLocked()
	r.mu.Unlock()

	feed.Publish(initial)

	go func() {
		select {
		case <-ctx.Done():
		case <-feed.Done():
		}
		r.mu.Lock()
		delete(r.watchers, feed)
		r.mu.Unlock()
		feed.Stop()
	}()

	return feed, nil
}

func (r *MemorySessionRepository) listActiveLocked() []*domain.StreamSession {
	var sessions []*domain.StreamSession
	for _, session := range r.sessions {
		if session.Active {
			cp := *session
			sessions = append(sessions, &cp)
		}
	}
	return sessions
}

func (r *MemorySessionRepository) notify() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for feed := range r.watchers {
		feed.Publish(r.listActiveLocked())
	}
}
