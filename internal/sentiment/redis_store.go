package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session records in Redis lists.
type RedisStore struct {
	client     redis.Cmdable
	maxRecords int
	ttl        time.Duration
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(client redis.Cmdable, maxRecords int, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, maxRecords: maxRecords, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("inferguard:session:%s:sentiments", sessionID)
}

// Append pushes rec onto the session list, trims it to maxRecords and
// refreshes the session TTL.
func (s *RedisStore) Append(ctx context.Context, sessionID string, rec Record) error {
	key := sessionKey(sessionID)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	if s.maxRecords > 0 {
		pipe.LTrim(ctx, key, int64(-s.maxRecords), -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// List returns every stored record for the session, oldest first.
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	key := sessionKey(sessionID)

	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue // skip malformed entries
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear deletes the session list.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}
