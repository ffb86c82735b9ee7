package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// EnqueueJob stores the job as a Hash and indexes it as ready or delayed.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID)

	ok, err := s.client.HSetNX(ctx, key, "id", j.ID).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: enqueue reserve id: %w", err)
	}
	if !ok {
		return conductor.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, j.ID)
	s.index(ctx, pipe, j, time.Now().UTC())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: enqueue job: %w", err)
	}
	return nil
}

// index places a waiting job in its ready or delayed set and removes any
// other job from both.
func (s *Store) index(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, now time.Time) {
	ready, delayed := readyKey(j.Queue), delayedKey(j.Queue)
	if j.State != job.StateWaiting {
		pipe.ZRem(ctx, ready, j.ID)
		pipe.ZRem(ctx, delayed, j.ID)
		pipe.HDel(ctx, readyScoresKey, j.ID)
		return
	}

	score := readyScore(j.Priority, j.RunAt)
	if j.RunAt.After(now) {
		pipe.ZRem(ctx, ready, j.ID)
		pipe.HSet(ctx, readyScoresKey, j.ID, strconv.FormatFloat(score, 'f', 0, 64))
		pipe.ZAdd(ctx, delayed, goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
		return
	}
	pipe.ZRem(ctx, delayed, j.ID)
	pipe.HDel(ctx, readyScoresKey, j.ID)
	pipe.ZAdd(ctx, ready, goredis.Z{Score: score, Member: j.ID})
}

// DequeueJobs claims up to limit due jobs across the given queues.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		res, err := dequeueScript.Run(ctx, s.client,
			[]string{readyKey(q), delayedKey(q), readyScoresKey},
			now.UnixMilli(), limit-len(jobs), jobKeyPrefix, now.Format(time.RFC3339Nano),
		).StringSlice()
		if err != nil {
			return nil, fmt.Errorf("conductor/redis: dequeue %s: %w", q, err)
		}
		for _, jobID := range res {
			j, err := s.getJobByKey(ctx, jobKey(jobID))
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}

	sort.SliceStable(jobs, func(a, b int) bool { return job.Less(jobs[a], jobs[b]) })
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID))
}

// UpdateJob persists changes to an existing job and re-indexes it.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return conductor.ErrJobNotFound
	}

	now := time.Now().UTC()
	fields := jobToMap(j)
	fields["updated_at"] = now.Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	if cleared := clearedFields(j); len(cleared) > 0 {
		pipe.HDel(ctx, key, cleared...)
	}
	pipe.HSet(ctx, key, fields)
	s.index(ctx, pipe, j, now)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	key := jobKey(jobID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conductor.ErrJobNotFound
		}
		return fmt.Errorf("conductor/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	s.unlink(ctx, pipe, jobID, q)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: delete job: %w", err)
	}
	return nil
}

func (s *Store) unlink(ctx context.Context, pipe goredis.Pipeliner, jobID, queue string) {
	pipe.Del(ctx, jobKey(jobID))
	pipe.SRem(ctx, jobIDsKey, jobID)
	pipe.ZRem(ctx, readyKey(queue), jobID)
	pipe.ZRem(ctx, delayedKey(queue), jobID)
	pipe.HDel(ctx, readyScoresKey, jobID)
}

// scan loads every job and keeps those accepted by keep.
func (s *Store) scan(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: scan jobs: %w", err)
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, jobID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jobID))
		if getErr != nil {
			continue // deleted concurrently
		}
		if keep(j) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// ListJobsByState returns jobs matching the given state ordered by
// creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scan(ctx, func(j *job.Job) bool {
		return j.State == state && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob updates the heartbeat of an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID string, workerID id.WorkerID) error {
	key := jobKey(jobID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conductor/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return conductor.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
	).Err(); err != nil {
		return fmt.Errorf("conductor/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return s.scan(ctx, func(j *job.Job) bool {
		return j.State == job.StateActive && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff)
	})
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scan(ctx, func(j *job.Job) bool {
		if opts.State != "" && j.State != opts.State {
			return false
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}
		return opts.RunAfter.IsZero() || j.RunAt.After(opts.RunAfter)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// PurgeJobs deletes terminal jobs last updated before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	old, err := s.scan(ctx, func(j *job.Job) bool {
		return j.State.Terminal() && j.UpdatedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	if len(old) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, j := range old {
		s.unlink(ctx, pipe, j.ID, j.Queue)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conductor/redis: purge jobs: %w", err)
	}
	return int64(len(old)), nil
}

// ── helpers ──

// readyScore orders a queue's ready set: priority ascending, then RunAt.
// Priorities are clamped to job.MaxPriority so the score stays an exact
// float64; Submit rejects anything larger.
func readyScore(priority int, runAt time.Time) float64 {
	p := min(max(priority, 0), job.MaxPriority)
	return float64(p)*1e13 + float64(runAt.UnixMilli())
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// clearedFields lists optional fields that are unset on j and must be
// removed from the stored Hash.
func clearedFields(j *job.Job) []string {
	var out []string
	if j.StartedAt == nil {
		out = append(out, "started_at")
	}
	if j.CompletedAt == nil {
		out = append(out, "completed_at")
	}
	if j.HeartbeatAt == nil {
		out = append(out, "heartbeat_at")
	}
	return out
}

func jobToMap(j *job.Job) map[string]any {
	meta, _ := json.Marshal(j.Metadata)          //nolint:errcheck // plain struct of strings and times
	spawned, _ := json.Marshal(j.SpawnedChildIDs) //nolint:errcheck // []string
	m := map[string]any{
		"id":              j.ID,
		"type":            string(j.Type),
		"queue":           j.Queue,
		"priority":        strconv.Itoa(j.Priority),
		"payload":         j.Payload,
		"parent_job_id":   j.ParentJobID,
		"metadata":        string(meta),
		"state":           string(j.State),
		"attempts":        strconv.Itoa(j.Attempts),
		"max_attempts":    strconv.Itoa(j.MaxAttempts),
		"last_error":      j.LastError,
		"result":          j.Result,
		"spawned":         string(spawned),
		"processing_time": strconv.FormatInt(int64(j.ProcessingTime), 10),
		"worker_id":       j.WorkerID.String(),
		"run_at":          j.RunAt.UTC().Format(time.RFC3339Nano),
		"timeout":         strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":      j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for field, t := range map[string]*time.Time{
		"started_at":   j.StartedAt,
		"completed_at": j.CompletedAt,
		"heartbeat_at": j.HeartbeatAt,
	} {
		if t != nil {
			m[field] = formatTime(t)
		}
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: get job: %w", err)
	}
	if len(vals) == 0 || vals["state"] == "" {
		return nil, conductor.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	elapsed, _ := strconv.ParseInt(m["processing_time"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity:         conductor.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:             m["id"],
		Type:           job.Type(m["type"]),
		Queue:          m["queue"],
		Priority:       priority,
		Payload:        m["payload"],
		ParentJobID:    m["parent_job_id"],
		State:          job.State(m["state"]),
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		LastError:      m["last_error"],
		Result:         m["result"],
		ProcessingTime: time.Duration(elapsed),
		RunAt:          runAt,
		Timeout:        time.Duration(timeout),
		StartedAt:      parseTime(m["started_at"]),
		CompletedAt:    parseTime(m["completed_at"]),
		HeartbeatAt:    parseTime(m["heartbeat_at"]),
	}
	if v := m["metadata"]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Metadata); err != nil {
			return nil, fmt.Errorf("conductor/redis: decode metadata of %s: %w", j.ID, err)
		}
	}
	if v := m["spawned"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &j.SpawnedChildIDs); err != nil {
			return nil, fmt.Errorf("conductor/redis: decode children of %s: %w", j.ID, err)
		}
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}
