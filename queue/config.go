package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/job"
)

// Queue names used by DefaultConfigs.
const (
	Reasoning  = "reasoning"
	Research   = "research"
	Compliance = "compliance"
	Documents  = "documents"
	Embeddings = "embeddings"
	Default    = "default"
)

// RetryPolicy controls how many times a job runs and how long it waits
// between attempts.
type RetryPolicy struct {
	// MaxAttempts counts every run, including the first.
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     backoff.Kind  `yaml:"backoff"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryPolicy is three attempts with exponential backoff from 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     backoff.KindExponential,
		BaseDelay:   backoff.DefaultBaseDelay,
		MaxDelay:    10 * time.Minute,
	}
}

// Strategy builds the backoff strategy the policy describes.
func (p RetryPolicy) Strategy() (backoff.Strategy, error) {
	base := p.BaseDelay
	if base <= 0 {
		base = backoff.DefaultBaseDelay
	}
	return backoff.New(p.Backoff, base, p.MaxDelay)
}

// Config defines one queue.
type Config struct {
	// Name is the queue identifier stored on each job.
	Name string `yaml:"name"`

	// PriorityTier is the priority given to jobs submitted without one.
	// Lower values run sooner.
	PriorityTier int `yaml:"priority_tier"`

	// Concurrency is the number of jobs this queue's pool runs at once.
	Concurrency int `yaml:"concurrency"`

	Retry RetryPolicy `yaml:"retry"`

	// ResourceAffinity names the inference model class this queue's
	// handlers prefer.
	ResourceAffinity string `yaml:"resource_affinity"`

	// Timeout bounds a single attempt. Zero means no bound.
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit is the maximum sustained jobs per second started from
	// this queue. Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit
	// is set.
	RateBurst int `yaml:"rate_burst"`

	// Types lists the job types routed to this queue.
	Types []job.Type `yaml:"types"`
}

// DefaultConfigs returns the standard queue layout.
func DefaultConfigs() []Config {
	retry := DefaultRetryPolicy()
	return []Config{
		{
			Name: Reasoning, PriorityTier: 1, Concurrency: 2, Retry: retry,
			ResourceAffinity: "reasoning", Timeout: 10 * time.Minute,
			Types: []job.Type{job.TypeCaseAnalysis, job.TypeStrategyPlanning},
		},
		{
			Name: Research, PriorityTier: 2, Concurrency: 5, Retry: retry,
			ResourceAffinity: "general", Timeout: 5 * time.Minute,
			Types: []job.Type{job.TypeLegalResearch, job.TypeEntityLookup},
		},
		{
			Name: Compliance, PriorityTier: 2, Concurrency: 3, Retry: retry,
			ResourceAffinity: "general", Timeout: 5 * time.Minute,
			Types: []job.Type{job.TypeComplianceCheck, job.TypeDeadlineCalculation},
		},
		{
			Name: Documents, PriorityTier: 3, Concurrency: 3, Retry: retry,
			ResourceAffinity: "drafting", Timeout: 10 * time.Minute,
			Types: []job.Type{job.TypeDocumentGeneration, job.TypeDocumentAnalysis},
		},
		{
			Name: Embeddings, PriorityTier: 4, Concurrency: 10, Retry: retry,
			ResourceAffinity: "embedding", Timeout: 2 * time.Minute,
			RateLimit: 50, RateBurst: 10,
			Types: []job.Type{job.TypeDocumentEmbedding},
		},
		{
			Name: Default, PriorityTier: 5, Concurrency: 5, Retry: retry,
			ResourceAffinity: "general", Timeout: 5 * time.Minute,
		},
	}
}

// Validate checks a queue layout: names are unique and non-empty, every
// queue has positive concurrency and at least one attempt, no type is
// routed twice, and a default queue exists.
func Validate(configs []Config) error {
	names := make(map[string]bool, len(configs))
	routed := make(map[job.Type]string)
	var errs []error

	for _, c := range configs {
		switch {
		case c.Name == "":
			errs = append(errs, errors.New("queue: empty name"))
			continue
		case names[c.Name]:
			errs = append(errs, fmt.Errorf("queue %q: defined twice", c.Name))
		}
		names[c.Name] = true

		if c.PriorityTier < 0 || c.PriorityTier > job.MaxPriority {
			errs = append(errs, fmt.Errorf("queue %q: priority tier must be between 0 and %d", c.Name, job.MaxPriority))
		}
		if c.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("queue %q: concurrency must be at least 1", c.Name))
		}
		if c.Retry.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("queue %q: max_attempts must be at least 1", c.Name))
		}
		if _, err := c.Retry.Strategy(); err != nil {
			errs = append(errs, fmt.Errorf("queue %q: %w", c.Name, err))
		}
		for _, t := range c.Types {
			if other, dup := routed[t]; dup {
				errs = append(errs, fmt.Errorf("queue %q: type %q already routed to %q", c.Name, t, other))
				continue
			}
			routed[t] = c.Name
		}
	}
	if !names[Default] {
		errs = append(errs, fmt.Errorf("queue: no %q queue configured", Default))
	}
	return errors.Join(errs...)
}
