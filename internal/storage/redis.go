// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/backroom/internal/model"
)

// =============================================================================
// REDIS STORE
// =============================================================================

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "backroom:session:"

// RedisStore keeps each conversation as a JSON string value.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: DefaultRedisPrefix, ttl: ttl}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, ttl), nil
}

// WithPrefix sets the key prefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NewConversation(), nil
	}
	if err != nil {
		return nil, err
	}
	_, conv, err := decode(data)
	return conv, err
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sessionID string, conv *model.Conversation) error {
	if err := checkID(sessionID); err != nil {
		return err
	}
	data, err := encode(sessionID, conv)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// List implements Store. Keys are enumerated with SCAN.
func (s *RedisStore) List(ctx context.Context) ([]Meta, error) {
	var (
		cursor uint64
		metas  = []Meta{}
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			data, err := s.client.Get(ctx, k).Bytes()
			if err != nil {
				continue
			}
			rec, conv, err := decode(data)
			if err != nil {
				continue
			}
			id := rec.SessionID
			if id == "" {
				id = strings.TrimPrefix(k, s.prefix)
			}
			metas = append(metas, metaOf(id, rec.UpdatedAt, conv))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortMetas(metas)
	return metas, nil
}
