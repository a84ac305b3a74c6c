// Package jobs runs units of work that may outlive the request submitting
// them. Submit waits a short grace period for the result and otherwise hands
// back a job id the caller polls later.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/telemetry"
)

// maxIDAttempts bounds id regeneration when a fresh id collides with a
// tracked job. A collision means the random source is broken.
const maxIDAttempts = 5

// Sentinel errors for job registry operations
var (
	ErrJobNotFound = errors.New("job not found")
	ErrIDExhausted = errors.New("unable to allocate a unique job id")
)

// Work is a unit of work run by the registry. ctx is detached from the
// submitting request's cancellation.
type Work func(ctx context.Context) (any, error)

// NotFinishedError is returned while a job is still running.
type NotFinishedError struct {
	JobID       string
	SubmittedAt time.Time
	Location    string
}

func (e *NotFinishedError) Error() string {
	return fmt.Sprintf("job %s submitted at %s has not finished, poll %s",
		e.JobID, e.SubmittedAt.Format(time.RFC3339), e.Location)
}

// Config holds registry bounds.
type Config struct {
	// Capacity is the maximum number of tracked jobs; the oldest is evicted first.
	// Default: 1000
	Capacity int

	// TTL is how long a job is tracked after submission. Expired jobs are
	// dropped lazily by Poll and Submit.
	// Default: 1 hour
	TTL time.Duration

	// GracePeriod is how long Submit waits for the work before detaching.
	// Default: 2 seconds
	GracePeriod time.Duration

	// PathPrefix is prepended to the job id to build its poll location.
	// Default: /jobs
	PathPrefix string
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Second
	}
	if c.PathPrefix == "" {
		c.PathPrefix = "/jobs"
	}
}

type job struct {
	id          string
	submittedAt time.Time
	done        chan struct{}

	// set once, before done is closed
	value any
	err   error
}

// Registry is a bounded, time-expiring table of submitted jobs.
type Registry struct {
	cfg Config

	mu    sync.Mutex
	jobs  *lru.Cache[string, *job]
	newID func() (uuid.UUID, error)
	now   func() time.Time
}

// NewRegistry creates a registry with cfg bounds. It starts no background
// goroutines, so a registry needs no shutdown.
func NewRegistry(cfg Config) *Registry {
	cfg.ApplyDefaults()

	jobs, err := lru.New[string, *job](cfg.Capacity)
	if err != nil {
		// ApplyDefaults keeps Capacity positive
		panic(err)
	}

	return &Registry{
		cfg:   cfg,
		jobs:  jobs,
		newID: uuid.NewRandom,
		now:   time.Now,
	}
}

// Location returns the poll location of jobID.
func (r *Registry) Location(jobID string) string {
	return r.cfg.PathPrefix + "/" + jobID
}

// Submit registers and starts work. If it finishes within the grace period
// its result or error is returned directly; otherwise a *NotFinishedError
// carrying the job id is returned and the work keeps running.
func (r *Registry) Submit(ctx context.Context, work Work) (any, error) {
	j, err := r.register()
	if err != nil {
		return nil, err
	}

	metrics := telemetry.GetMetrics()
	metrics.JobsSubmittedTotal.Add(ctx, 1)

	go r.run(context.WithoutCancel(ctx), j, work)

	timer := time.NewTimer(r.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-j.done:
		return j.value, j.err
	case <-timer.C:
	case <-ctx.Done():
	}

	metrics.JobsDetachedTotal.Add(ctx, 1)
	log.Ctx(ctx).Debug().Str("job_id", j.id).Dur("grace_period", r.cfg.GracePeriod).Msg("Job detached for polling")

	return nil, r.notFinished(j)
}

// Poll returns the outcome of a job: its result, its stored error, a
// *NotFinishedError while running, or ErrJobNotFound for an unknown or
// evicted id.
func (r *Registry) Poll(jobID string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs.Peek(jobID)
	if ok && r.expired(j) {
		r.jobs.Remove(jobID)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	select {
	case <-j.done:
		return j.value, j.err
	default:
		return nil, r.notFinished(j)
	}
}

// Len returns the number of tracked jobs, including expired jobs not yet purged.
func (r *Registry) Len() int {
	return r.jobs.Len()
}

func (r *Registry) expired(j *job) bool {
	return r.now().Sub(j.submittedAt) > r.cfg.TTL
}

// purgeExpired drops expired jobs. Peek and Contains leave recency alone, so
// keys stay ordered by submission and the scan stops at the first live job.
func (r *Registry) purgeExpired() {
	for _, id := range r.jobs.Keys() {
		j, ok := r.jobs.Peek(id)
		if ok && !r.expired(j) {
			return
		}
		r.jobs.Remove(id)
	}
}

func (r *Registry) register() (*job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpired()

	for range maxIDAttempts {
		id, err := r.newID()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to generate job id")
			continue
		}
		if r.jobs.Contains(id.String()) {
			log.Warn().Str("job_id", id.String()).Msg("Job id collision")
			continue
		}

		j := &job{
			id:          id.String(),
			submittedAt: r.now(),
			done:        make(chan struct{}),
		}
		r.jobs.Add(j.id, j)
		return j, nil
	}

	return nil, ErrIDExhausted
}

func (r *Registry) run(ctx context.Context, j *job, work Work) {
	metrics := telemetry.GetMetrics()
	metrics.JobsInFlight.Add(ctx, 1)
	defer metrics.JobsInFlight.Add(ctx, -1)

	var (
		value any
		err   error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job %s panicked: %v", j.id, p)
			}
		}()
		value, err = work(ctx)
	}()

	r.mu.Lock()
	j.value, j.err = value, err
	close(j.done)
	r.mu.Unlock()

	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("job_id", j.id).Msg("Job failed")
		return
	}
	log.Ctx(ctx).Debug().Str("job_id", j.id).Dur("duration", time.Since(j.submittedAt)).Msg("Job completed")
}

func (r *Registry) notFinished(j *job) *NotFinishedError {
	return &NotFinishedError{
		JobID:       j.id,
		SubmittedAt: j.submittedAt,
		Location:    r.Location(j.id),
	}
}
