package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codelenshq/oracle/internal/config"
	"github.com/codelenshq/oracle/internal/convo"
)

const redisKeyPrefix = "oracle:ctx:"

// RedisStore implements convo.Store on Redis for low-latency
// deployments where sessions are allowed to live in a cache tier.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(user, project string) string {
	return redisKeyPrefix + config.SessionKey(user, project)
}

func (s *RedisStore) Load(ctx context.Context, user, project string) (*convo.ConversationContext, error) {
	data, err := s.client.Get(ctx, redisKey(user, project)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, convo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	var cc convo.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &cc, nil
}

func (s *RedisStore) Save(ctx context.Context, cc *convo.ConversationContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(cc.User, cc.Project), data, 0).Err(); err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, user, project string) error {
	return s.client.Del(ctx, redisKey(user, project)).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]*convo.ConversationContext, error) {
	var out []*convo.ConversationContext
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var cc convo.ConversationContext
		if err := json.Unmarshal(data, &cc); err != nil {
			continue
		}
		out = append(out, &cc)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan contexts: %w", err)
	}
	return out, nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
