package memory

import (
	"context"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

type MemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[domain.UserID]*domain.UserProfile
	byEmail map[string]domain.UserID
}

func NewMemoryUserRepository() ports.UserRepository {
	return &MemoryUserRepository{
		users:   make(map[domain.UserID]*domain.UserProfile),
		byEmail: make(map[string]domain.UserID),
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return domain.ErrEmailTaken
	}

	cp := *user
	r.users[user.ID] = &cp
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[email]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	cp := *r.users[id]
	return &cp, nil
}

func (r *MemoryUserRepository) GetMany(ctx context.Context, ids []domain.UserID) ([]*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*domain.UserProfile, 0, len(ids))
	for _, id := range ids {
		if user, exists := r.users[id]; exists {
			cp := *user
			users = append(users, &cp)
		}
	}
	return users, nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.users[user.ID]
	if !exists {
		return domain.ErrUserNotFound
	}

	if prev.Email != user.Email {
		if _, taken := r.byEmail[user.Email]; taken {
			return domain.ErrEmailTaken
		}
		delete(r.byEmail, prev.Email)
		r.byEmail[user.Email] = user.ID
	}

	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []*domain.UserProfile
	for _, user := range r.users {
		if role == "" || user.Role == role {
			cp := *user
			users = append(users, &cp)
		}
	}
	return users, nil
}
