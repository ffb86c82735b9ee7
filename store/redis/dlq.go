package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// PushDLQ adds a failed job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].FailedAt.After(entries[b].FailedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, conductor.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return conductor.ErrDLQNotFound
	}

	if err := s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("conductor/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conductor/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		failedAtStr, getErr := s.client.HGet(ctx, key, "failed_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("conductor/redis: purge dlq get: %w", getErr)
		}

		failedAt, _ := time.Parse(time.RFC3339Nano, failedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if failedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("conductor/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conductor/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":            e.ID.String(),
		"job_id":        e.JobID,
		"type":          string(e.Type),
		"queue":         e.Queue,
		"priority":      strconv.Itoa(e.Priority),
		"parent_job_id": e.ParentJobID,
		"payload":       e.Payload,
		"error":         e.Error,
		"attempts":      strconv.Itoa(e.Attempts),
		"max_attempts":  strconv.Itoa(e.MaxAttempts),
		"failed_at":     e.FailedAt.UTC().Format(time.RFC3339Nano),
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = formatTime(e.ReplayedAt)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse dlq id: %w", err)
	}
	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:          eID,
		JobID:       m["job_id"],
		Type:        job.Type(m["type"]),
		Queue:       m["queue"],
		Priority:    priority,
		ParentJobID: m["parent_job_id"],
		Payload:     m["payload"],
		Error:       m["error"],
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    failedAt,
		CreatedAt:   createdAt,
		ReplayedAt:  parseTime(m["replayed_at"]),
	}, nil
}
