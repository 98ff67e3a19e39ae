package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorWriteTimeout = 2 * time.Second

// HistoryMirror copies recorded calls into a capped Redis list so the usage
// history can be inspected from outside the process. The in-process
// Tracker history stays authoritative.
type HistoryMirror struct {
	client   redis.Cmdable
	key      string
	capacity int
}

// NewHistoryMirror creates a mirror writing to key, keeping at most capacity entries.
func NewHistoryMirror(client redis.Cmdable, key string, capacity int) *HistoryMirror {
	if capacity <= 0 {
		capacity = 100
	}
	return &HistoryMirror{client: client, key: key, capacity: capacity}
}

// Append pushes rec and trims the list to capacity.
func (m *HistoryMirror) Append(ctx context.Context, rec UsageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling usage record: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.RPush(ctx, m.key, string(data))
	pipe.LTrim(ctx, m.key, int64(-m.capacity), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", m.key, err)
	}
	return nil
}

// Recent returns up to limit mirrored records, oldest first.
func (m *HistoryMirror) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	vals, err := m.client.LRange(ctx, m.key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", m.key, err)
	}

	records := make([]UsageRecord, 0, len(vals))
	for _, v := range vals {
		var rec UsageRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue // skip malformed entries
		}
		records = append(records, rec)
	}
	return records, nil
}

// CallRecorded implements Observer. Mirror failures are logged and dropped.
func (m *HistoryMirror) CallRecorded(rec UsageRecord, _ Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	if err := m.Append(ctx, rec); err != nil {
		slog.Warn("quota: mirroring usage record failed", "error", err, "endpoint", rec.Endpoint)
	}
}
