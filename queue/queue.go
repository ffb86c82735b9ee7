package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager gates job starts per queue: a token-bucket rate limit and an
// active-count cap equal to the queue's concurrency. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager for the given queues. Queues not listed
// here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Acquire reports whether a job from queue may start now and, if so,
// counts it as active. The caller must call Release when it finishes.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	if qs.config.Concurrency > 0 && qs.active >= qs.config.Concurrency {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	qs.active++
	return true
}

// Release decrements the active count for queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig updates (or creates) a queue's limits, keeping its
// current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
