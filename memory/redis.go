package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/schema"
)

const redisKeyPrefix = "medcortex:turns:"

// appendScript pushes a turn and refreshes the conversation TTL in one
// round trip.
var appendScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return redis.call('LLEN', KEYS[1])`)

// RedisStore keeps working memory in Redis, one list per conversation.
// Suitable for deployments with several engine replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

// Ping verifies the connection, for wiring-time health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(conversationID string) string {
	return redisKeyPrefix + conversationID
}

func (s *RedisStore) Append(ctx context.Context, conversationID string, turn schema.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	if err := appendScript.Run(ctx, s.client,
		[]string{s.key(conversationID)},
		payload, int64(s.ttl/time.Second)).Err(); err != nil {
		return fmt.Errorf("append turn to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Turns(ctx context.Context, conversationID string) ([]schema.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read turns from redis: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	turns := make([]schema.Turn, 0, len(raw))
	for _, item := range raw {
		var turn schema.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode stored turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisStore) Drop(ctx context.Context, conversationID string, n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.client.LTrim(ctx, s.key(conversationID), int64(n), -1).Err(); err != nil {
		return fmt.Errorf("drop turns from redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, s.key(conversationID)).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
