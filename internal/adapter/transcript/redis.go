package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"supportmesh/internal/domain"
)

const (
	transcriptKeyPrefix = "supportmesh:transcript:"
	defaultTTL          = 24 * time.Hour
)

// RedisStore keeps each log in a Redis list of JSON-encoded turns.
type RedisStore struct {
	client   redis.UniversalClient
	ttl      time.Duration
	maxTurns int
}

// NewRedisStore creates a Redis-backed store. Every write trims the list to
// maxTurns and refreshes the key TTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, maxTurns int) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisStore{client: client, ttl: ttl, maxTurns: maxTurns}
}

// DialRedis parses a redis:// URL and returns a store using a new client.
func DialRedis(url string, ttl time.Duration, maxTurns int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("transcript: parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), ttl, maxTurns), nil
}

// Append implements domain.TranscriptStore.
func (s *RedisStore) Append(ctx context.Context, customerID string, turn domain.ConversationTurn) error {
	val, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("transcript: encode turn: %w", err)
	}
	key := s.key(customerID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return domain.WrapOp("RedisStore.Append", err)
	}
	return nil
}

// Recent implements domain.TranscriptStore.
func (s *RedisStore) Recent(ctx context.Context, customerID string, n int) ([]domain.ConversationTurn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	vals, err := s.client.LRange(ctx, s.key(customerID), start, -1).Result()
	if err != nil {
		return nil, domain.WrapOp("RedisStore.Recent", err)
	}
	out := make([]domain.ConversationTurn, 0, len(vals))
	for _, v := range vals {
		var turn domain.ConversationTurn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("transcript: decode turn: %w", err)
		}
		out = append(out, turn)
	}
	return out, nil
}

// Delete implements domain.TranscriptStore.
func (s *RedisStore) Delete(ctx context.Context, customerID string) error {
	return domain.WrapOp("RedisStore.Delete", s.client.Del(ctx, s.key(customerID)).Err())
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(customerID string) string {
	return transcriptKeyPrefix + customerID
}
