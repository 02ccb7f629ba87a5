// Package jobs tracks long-running batch drafting operations as in-process
// jobs with poll-friendly progress counters. Jobs are deliberately not
// durable: a crash mid-job must not resurrect a stale job on restart.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is a snapshot of one batch drafting run.
type Job struct {
	ID          string     `json:"id"`
	AccountID   int64      `json:"account_id"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Config tunes batch processing.
type Config struct {
	ChunkSize  int           `json:"chunk_size"`  // Items per chunk (default 100)
	ChunkDelay time.Duration `json:"chunk_delay"` // Pause between chunks (default 0)
}

// DefaultConfig returns the standard batching parameters.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  100,
		ChunkDelay: 0,
	}
}

// Tracker manages the in-process job map. Jobs are independent: the only
// shared state is the map itself, guarded by one mutex.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	config Config
}

// NewTracker returns a Tracker with the given config. Zero config values
// fall back to defaults.
func NewTracker(config Config) *Tracker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	return &Tracker{
		jobs:   make(map[string]*Job),
		config: config,
	}
}

// CreateJob registers a fresh pending job and returns its id. Ids are
// time-based with a random suffix; uniqueness is desired, not cryptographic.
func (t *Tracker) CreateJob(accountID int64, total int) string {
	id := fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])

	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Job{
		ID:        id,
		AccountID: accountID,
		Total:     total,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	return id
}

// ProcessBatch drives the job through items in fixed-size chunks. Items
// within a chunk run strictly sequentially: work talks to a rate-limited
// external service and concurrent calls would multiply the pressure. Each
// item's failure is caught, logged, and still counted toward progress; only
// an error escaping the per-item guard fails the whole job.
func (t *Tracker) ProcessBatch(ctx context.Context, jobID string, items []int64, work func(ctx context.Context, item int64) error) error {
	if !t.transition(jobID, StatusRunning) {
		return fmt.Errorf("job %s not found", jobID)
	}

	err := t.runChunks(ctx, jobID, items, work)
	if err != nil {
		t.fail(jobID, err)
		return err
	}

	t.complete(jobID)
	return nil
}

func (t *Tracker) runChunks(ctx context.Context, jobID string, items []int64, work func(ctx context.Context, item int64) error) error {
	for start := 0; start < len(items); start += t.config.ChunkSize {
		end := start + t.config.ChunkSize
		if end > len(items) {
			end = len(items)
		}

		for _, item := range items[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := work(ctx, item); err != nil {
				log.Warn().
					Err(err).
					Str("job_id", jobID).
					Int64("item", item).
					Msg("Batch item failed, continuing")
			}
			t.incrementProcessed(jobID)
		}

		if end < len(items) && t.config.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.config.ChunkDelay):
			}
		}
	}
	return nil
}

// GetStatus returns a snapshot of the job, or nil for unknown/expired ids.
// Callers must treat nil as "job not found", not an error.
func (t *Tracker) GetStatus(jobID string) *Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// Cleanup removes terminal jobs whose completion is older than maxAge and
// returns how many were removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, job := range t.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Cleanup on the given interval until ctx is cancelled.
func (t *Tracker) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := t.Cleanup(maxAge); removed > 0 {
					log.Debug().Int("removed", removed).Msg("Swept expired batch jobs")
				}
			}
		}
	}()
}

func (t *Tracker) transition(jobID string, status Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return false
	}
	job.Status = status
	if status == StatusRunning && job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	return true
}

func (t *Tracker) incrementProcessed(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobID]; ok {
		job.Processed++
	}
}

func (t *Tracker) complete(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobID]; ok {
		now := time.Now()
		job.Status = StatusComplete
		job.CompletedAt = &now
	}
}

func (t *Tracker) fail(jobID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobID]; ok {
		now := time.Now()
		job.Status = StatusFailed
		job.Error = err.Error()
		job.CompletedAt = &now
	}
}
