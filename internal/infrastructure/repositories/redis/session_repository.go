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

const sessionChangeChannel = keyPrefix + "changes:sessions"

type RedisSessionRepository struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisSessionRepository(client *redis.Client, logger *zap.SugaredLogger) ports.SessionRepository {
	return &RedisSessionRepository{client: client, logger: logger}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return keyPrefix + "session:" + string(id)
}

func (r *RedisSessionRepository) activeKey() string {
	return keyPrefix + "sessions:active"
}

func (r *RedisSessionRepository) publisherKey(id domain.UserID) string {
	return keyPrefix + "sessions:publisher:" + string(id)
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *domain.StreamSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), data, 0)
	pipe.SAdd(ctx, r.publisherKey(session.PublisherID), string(session.ID))
	if session.Active {
		pipe.SAdd(ctx, r.activeKey(), string(session.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	r.publishChange(ctx, session.ID)
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session domain.StreamSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) Update(ctx context.Context, session *domain.StreamSession) error {
	if _, err := r.GetByID(ctx, session.ID); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), data, 0)
	if session.Active {
		pipe.SAdd(ctx, r.activeKey(), string(session.ID))
	} else {
		pipe.SRem(ctx, r.activeKey(), string(session.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	r.publishChange(ctx, session.ID)
	return nil
}

func (r *RedisSessionRepository) ListActive(ctx context.Context) ([]*domain.StreamSession, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return r.getMany(ctx, ids, true)
}

func (r *RedisSessionRepository) ListActiveByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamSession, error) {
	ids, err := r.client.SMembers(ctx, r.publisherKey(publisherID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list publisher sessions: %w", err)
	}
	return r.getMany(ctx, ids, true)
}

func (r *RedisSessionRepository) getMany(ctx context.Context, ids []string, activeOnly bool) ([]*domain.StreamSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(domain.SessionID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get sessions: %w", err)
	}

	var sessions []*domain.StreamSession
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var session domain.StreamSession
		if err := json.Unmarshal([]byte(s), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if activeOnly && !session.Active {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// WatchActive re-queries and pushes the full active session set whenever any
// session change notification arrives.
func (r *RedisSessionRepository) WatchActive(ctx context.Context) (*watch.Feed[[]*domain.StreamSession], error) {
	pubsub := r.client.Subscribe(ctx, sessionChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session changes: %w", err)
	}

	feed := watch.NewFeed[[]*domain.StreamSession]()

	initial, err := r.ListActive(ctx)
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
			case _, ok := <-ch:
				if !ok {
					feed.Fail(fmt.Errorf("session change subscription closed"))
					return
				}
				sessions, err := r.ListActive(ctx)
				if err != nil {
					feed.Fail(err)
					continue
				}
				feed.Publish(sessions)
			}
		}
	}()

	return feed, nil
}

func (r *RedisSessionRepository) publishChange(ctx context.Context, id domain.SessionID) {
	if err := r.client.Publish(ctx, sessionChangeChannel, string(id)).Err(); err != nil && r.logger != nil {
		r.logger.Warnw("failed to publish session change",
			"session_id", id,
			"error", err,
		)
	}
}
