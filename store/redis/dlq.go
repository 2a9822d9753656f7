package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/pulse"
	"github.com/xraph/pulse/dlq"
	"github.com/xraph/pulse/id"
)

// PushDLQ appends a dead letter entry and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal dead letter %s: %w", entry.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dlqKey(entry.ID.String()), raw, 0)
	pipe.ZAdd(ctx, s.dlqIndexKey(), redis.Z{
		Score:  float64(entry.FailedAt.UnixMilli()),
		Member: entry.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push dead letter %s: %w", entry.ID, err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	// Queue filtering happens after the fetch, so paginate over the
	// full index when a queue filter is present.
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 && opts.Queue == "" {
		stop = start + int64(opts.Limit) - 1
	}
	if opts.Queue != "" {
		start, stop = 0, -1
	}

	ids, err := s.client.ZRevRange(ctx, s.dlqIndexKey(), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list dead letters: %w", err)
	}

	var out []*dlq.Entry
	skipped := 0
	for _, entryID := range ids {
		entry, err := s.getDLQ(ctx, entryID)
		if err != nil {
			if errors.Is(err, pulse.ErrDLQNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Queue != "" {
			if entry.Queue != opts.Queue {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
		}
		out = append(out, entry)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) getDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	raw, err := s.client.Get(ctx, s.dlqKey(entryID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, pulse.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get dead letter %s: %w", entryID, err)
	}

	var entry dlq.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("redis: unmarshal dead letter %s: %w", entryID, err)
	}
	return &entry, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, entryID.String())
}

// MarkReplayed stamps an entry's ReplayedAt.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID) error {
	entry, err := s.getDLQ(ctx, entryID.String())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.ReplayedAt = &now
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal dead letter %s: %w", entryID, err)
	}
	if err := s.client.Set(ctx, s.dlqKey(entryID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: mark replayed %s: %w", entryID, err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	max := fmt.Sprintf("(%d", before.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, s.dlqIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: purge scan dead letters: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, entryID := range ids {
		pipe.Del(ctx, s.dlqKey(entryID))
		pipe.ZRem(ctx, s.dlqIndexKey(), entryID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: purge dead letters: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries in the sink.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.dlqIndexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count dead letters: %w", err)
	}
	return n, nil
}
