package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/watch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const permissionChangeChannel = keyPrefix + "changes:permissions"

type RedisPermissionRepository struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisPermissionRepository(client *redis.Client, logger *zap.SugaredLogger) ports.PermissionRepository {
	return &RedisPermissionRepository{client: client, logger: logger}
}

func (r *RedisPermissionRepository) permKey(id domain.PermissionID) string {
	return keyPrefix + "permission:" + string(id)
}

func (r *RedisPermissionRepository) subscriberKey(id domain.UserID) string {
	return keyPrefix + "permissions:subscriber:" + string(id)
}

func (r *RedisPermissionRepository) publisherKey(id domain.UserID) string {
	return keyPrefix + "permissions:publisher:" + string(id)
}

func (r *RedisPermissionRepository) Create(ctx context.Context, perm *domain.StreamPermission) error {
	data, err := json.Marshal(perm)
	if err != nil {
		return fmt.Errorf("failed to marshal permission: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.permKey(perm.ID), data, 0)
	pipe.SAdd(ctx, r.subscriberKey(perm.SubscriberID), string(perm.ID))
	pipe.SAdd(ctx, r.publisherKey(perm.PublisherID), string(perm.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store permission: %w", err)
	}

	r.publishChange(ctx, perm.SubscriberID)
	return nil
}

func (r *RedisPermissionRepository) GetByID(ctx context.Context, id domain.PermissionID) (*domain.StreamPermission, error) {
	data, err := r.client.Get(ctx, r.permKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	var perm domain.StreamPermission
	if err := json.Unmarshal([]byte(data), &perm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission: %w", err)
	}
	return &perm, nil
}

func (r *RedisPermissionRepository) Update(ctx context.Context, perm *domain.StreamPermission) error {
	if _, err := r.GetByID(ctx, perm.ID); err != nil {
		return err
	}

	data, err := json.Marshal(perm)
	if err != nil {
		return fmt.Errorf("failed to marshal permission: %w", err)
	}
	if err := r.client.Set(ctx, r.permKey(perm.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}

	r.publishChange(ctx, perm.SubscriberID)
	return nil
}

func (r *RedisPermissionRepository) Delete(ctx context.Context, id domain.PermissionID) error {
	perm, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.permKey(id))
	pipe.SRem(ctx, r.subscriberKey(perm.SubscriberID), string(id))
	pipe.SRem(ctx, r.publisherKey(perm.PublisherID), string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	r.publishChange(ctx, perm.SubscriberID)
	return nil
}

func (r *RedisPermissionRepository) ListBySubscriber(ctx context.Context, subscriberID domain.UserID, activeOnly bool) ([]*domain.StreamPermission, error) {
	return r.listByIndex(ctx, r.subscriberKey(subscriberID), activeOnly)
}

func (r *RedisPermissionRepository) ListByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamPermission, error) {
	return r.listByIndex(ctx, r.publisherKey(publisherID), false)
}

func (r *RedisPermissionRepository) listByIndex(ctx context.Context, indexKey string, activeOnly bool) ([]*domain.StreamPermission, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read permission index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.permKey(domain.PermissionID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get permissions: %w", err)
	}

	var perms []*domain.StreamPermission
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a row, skip.
			continue
		}
		var perm domain.StreamPermission
		if err := json.Unmarshal([]byte(s), &perm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permission: %w", err)
		}
		if activeOnly && !perm.Active {
			continue
		}
		perms = append(perms, &perm)
	}
	return perms, nil
}

// WatchActiveBySubscriber re-queries and pushes the subscriber's full active
// permission set whenever a change notification for that subscriber arrives
// on the pub/sub channel.
func (r *RedisPermissionRepository) WatchActiveBySubscriber(ctx context.Context, subscriberID domain.UserID) (*watch.Feed[[]*domain.StreamPermission], error) {
	pubsub := r.client.Subscribe(ctx, permissionChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to permission changes: %w", err)
	}

	feed := watch.NewFeed[[]*domain.StreamPermission]()

	initial, err := r.ListBySubscriber(ctx, subscriberID, true)
	if err != nil {
		pubsub.Close()
		feed.Stop()
		return nil, err
	}
	feed.Publish(initial)

	go func() {
		defer pubsub.Close()
		defer feed.Stop()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-feed.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					feed.Fail(fmt.Errorf("permission change subscription closed"))
					return
				}
				if msg.Payload != string(subscriberID) {
					continue
				}
				perms, err := r.ListBySubscriber(ctx, subscriberID, true)
				if err != nil {
					feed.Fail(err)
					continue
				}
				feed.Publish(perms)
			}
		}
	}()

	return feed, nil
}

func (r *RedisPermissionRepository) publishChange(ctx context.Context, subscriberID domain.UserID) {
	if err := r.client.Publish(ctx, permissionChangeChannel, string(subscriberID)).Err(); err != nil && r.logger != nil {
		r.logger.Warnw("failed to publish permission change",
			"subscriber_id", subscriberID,
			"error", err,
		)
	}
}
