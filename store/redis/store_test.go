package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
	redisstore "github.com/xraph/conductor/store/redis"
	"github.com/xraph/conductor/store/storetest"
)

var _ store.Store = (*redisstore.Store)(nil)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redisstore.Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := redisstore.New(client)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return mr, s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		_, s := setupMiniredis(t)
		return s
	})
}

func TestDelayedJobPromotedWhenDue(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()

	j := storetest.NewJob("later", "research", 1)
	j.RunAt = time.Now().UTC().Add(150 * time.Millisecond)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if members, _ := mr.ZMembers("conductor:delayed:research"); len(members) != 1 {
		t.Fatalf("delayed set = %v, want [later]", members)
	}

	jobs, err := s.DequeueJobs(ctx, []string{"research"}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("dequeued delayed job early")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err = s.DequeueJobs(ctx, []string{"research"}, 1)
		if err != nil {
			t.Fatalf("DequeueJobs: %v", err)
		}
		if len(jobs) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(jobs) != 1 || jobs[0].State != job.StateActive {
		t.Fatalf("delayed job never promoted: %v", jobs)
	}
	if v := mr.HGet("conductor:ready_scores", "later"); v != "" {
		t.Errorf("ready score left behind: %q", v)
	}
}

func TestJobsStoredAsHashes(t *testing.T) {
	mr, s := setupMiniredis(t)
	if err := s.EnqueueJob(context.Background(), storetest.NewJob("h1", "documents", 3)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if got := mr.HGet("conductor:job:h1", "queue"); got != "documents" {
		t.Errorf("queue field = %q, want documents", got)
	}
	if got := mr.HGet("conductor:job:h1", "state"); got != string(job.StateWaiting) {
		t.Errorf("state field = %q, want waiting", got)
	}
}
