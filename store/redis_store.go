package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the Store interface. Conversations
// expire through the key TTL.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "duckchat:conversation:",
	}
}

// Save stores a conversation with the given expiry
func (s *RedisStore) Save(ctx context.Context, conv *Conversation, ttl time.Duration) error {
	data, ttl, err := prepare(conv, ttl)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.prefix+conv.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Take atomically loads and deletes a conversation
func (s *RedisStore) Take(ctx context.Context, id string) (*Conversation, error) {
	data, err := s.client.GetDel(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return decode(data)
}
