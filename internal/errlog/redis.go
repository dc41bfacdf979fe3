package errlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultHashKey  = "signaling:errors"
	DefaultOrderKey = "signaling:errors:order"
)

// RedisRecorder stores entries in a hash keyed by entry id, with insertion
// order kept in a list so the oldest entries can be trimmed.
type RedisRecorder struct {
	client   *redis.Client
	limit    int64
	hashKey  string
	orderKey string
	logger   *slog.Logger
}

func NewRedisRecorder(client *redis.Client, limit int, logger *slog.Logger) *RedisRecorder {
	if limit <= 0 {
		limit = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRecorder{
		client:   client,
		limit:    int64(limit),
		hashKey:  DefaultHashKey,
		orderKey: DefaultOrderKey,
		logger:   logger,
	}
}

func (r *RedisRecorder) Record(ctx context.Context, name string, err error) {
	if err == nil {
		return
	}
	entry := newEntry(name, err)
	if werr := r.write(ctx, entry); werr != nil {
		r.logger.Error("failed to persist error log entry", "name", name, "err", werr)
	}
}

func (r *RedisRecorder) write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	var length *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey, entry.ID, data)
		length = pipe.RPush(ctx, r.orderKey, entry.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}

	over := length.Val() - r.limit
	if over <= 0 {
		return nil
	}
	stale, err := r.client.LPopCount(ctx, r.orderKey, int(over)).Result()
	if err != nil {
		return fmt.Errorf("trim order list: %w", err)
	}
	if len(stale) > 0 {
		if err := r.client.HDel(ctx, r.hashKey, stale...).Err(); err != nil {
			return fmt.Errorf("trim entries: %w", err)
		}
	}
	return nil
}

// Entries returns the retained entries, oldest first.
func (r *RedisRecorder) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := r.client.LRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read order list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.hashKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}

	out := make([]Entry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			r.logger.Warn("skipping unreadable error log entry", "err", err)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *RedisRecorder) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.hashKey, r.orderKey).Err(); err != nil {
		return fmt.Errorf("clear error log: %w", err)
	}
	return nil
}
