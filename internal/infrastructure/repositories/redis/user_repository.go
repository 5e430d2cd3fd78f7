package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisUserRepository struct {
	client *redis.Client
}

func NewRedisUserRepository(client *redis.Client) ports.UserRepository {
	return &RedisUserRepository{client: client}
}

func (r *RedisUserRepository) userKey(id domain.UserID) string {
	return keyPrefix + "user:" + string(id)
}

func (r *RedisUserRepository) emailIndexKey() string {
	return keyPrefix + "users:email"
}

func (r *RedisUserRepository) roleKey(role domain.Role) string {
	return keyPrefix + "users:role:" + string(role)
}

func (r *RedisUserRepository) Create(ctx context.Context, user *domain.UserProfile) error {
	// Claim the email first; HSETNX doubles as the uniqueness check.
	claimed, err := r.client.HSetNX(ctx, r.emailIndexKey(), user.Email, string(user.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !claimed {
		return domain.ErrEmailTaken
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.userKey(user.ID), data, 0)
	pipe.SAdd(ctx, r.roleKey(user.Role), string(user.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

func (r *RedisUserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	data, err := r.client.Get(ctx, r.userKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user domain.UserProfile
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (r *RedisUserRepository) GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	id, err := r.client.HGet(ctx, r.emailIndexKey(), email).Result()
	if err == redis.Nil {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}
	return r.GetByID(ctx, domain.UserID(id))
}

func (r *RedisUserRepository) GetMany(ctx context.Context, ids []domain.UserID) ([]*domain.UserProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.userKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get users: %w", err)
	}

	users := make([]*domain.UserProfile, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Missing id, skip rather than fail the whole batch.
			continue
		}
		var user domain.UserProfile
		if err := json.Unmarshal([]byte(s), &user); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user: %w", err)
		}
		users = append(users, &user)
	}
	return users, nil
}

func (r *RedisUserRepository) Update(ctx context.Context, user *domain.UserProfile) error {
	prev, err := r.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.userKey(user.ID), data, 0)
	if prev.Email != user.Email {
		pipe.HDel(ctx, r.emailIndexKey(), prev.Email)
		pipe.HSet(ctx, r.emailIndexKey(), user.Email, string(user.ID))
	}
	if prev.Role != user.Role {
		pipe.SRem(ctx, r.roleKey(prev.Role), string(user.ID))
		pipe.SAdd(ctx, r.roleKey(user.Role), string(user.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (r *RedisUserRepository) ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error) {
	ids, err := r.client.SMembers(ctx, r.roleKey(role)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}

	userIDs := make([]domain.UserID, len(ids))
	for i, id := range ids {
		userIDs[i] = domain.UserID(id)
	}
	return r.GetMany(ctx, userIDs)
}
