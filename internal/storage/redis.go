package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix  = "session:"
	redisSessionIndex   = "sessions:updated"
	defaultRedisSessTTL = 30 * 24 * time.Hour
)

// redisSessionRecord is the encrypted value stored per session key.
type redisSessionRecord struct {
	Tokens      string    `json:"tokens"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// RedisSessionStore implements SessionStore on Redis. Session keys expire
// after ttl; a sorted set indexed by last update time serves DeleteOlderThan.
type RedisSessionStore struct {
	redis         *redis.Client
	encryptionKey []byte
	ttl           time.Duration
}

func NewRedisSessionStore(client *redis.Client, encryptionKey []byte, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultRedisSessTTL
	}
	return &RedisSessionStore{redis: client, encryptionKey: encryptionKey, ttl: ttl}
}

func (s *RedisSessionStore) key(id string) string {
	return redisSessionPrefix + id
}

// Get returns nil, nil if the session doesn't exist or has expired.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*StoredSession, error) {
	raw, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	tokensJSON, err := Decrypt(rec.Tokens, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt tokens: %w", err)
	}

	session := &StoredSession{ID: id, CreatedAt: rec.CreatedAt, LastUpdated: rec.LastUpdated}
	if err := json.Unmarshal(tokensJSON, &session.Tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokens: %w", err)
	}
	return session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *StoredSession) error {
	tokensJSON, err := json.Marshal(session.Tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	encrypted, err := Encrypt(tokensJSON, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt tokens: %w", err)
	}

	session.LastUpdated = time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.LastUpdated
	}

	raw, err := json.Marshal(redisSessionRecord{
		Tokens:      encrypted,
		CreatedAt:   session.CreatedAt,
		LastUpdated: session.LastUpdated,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(session.ID), raw, s.ttl)
		pipe.ZAdd(ctx, redisSessionIndex, redis.Z{
			Score:  float64(session.LastUpdated.Unix()),
			Member: session.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, redisSessionIndex, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := s.redis.ZRangeByScore(ctx, redisSessionIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, redisSessionIndex, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	return deleted.Val(), nil
}

func (s *RedisSessionStore) Close() error {
	return s.redis.Close()
}
