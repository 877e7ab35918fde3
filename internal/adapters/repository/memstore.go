package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// MemoryStore is an in-memory Store. Results are kept in insertion order per
// user, so history reads walk a slice backwards.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*model.AnalysisJob
	results map[string]*model.AnalysisResult
	history map[string][]string

	now                   func() time.Time
	metricsUpdateInterval time.Duration
	cancel                context.CancelFunc
	logger                logger.Logger
}

// NewMemoryStore creates a store and starts its metrics updater, which stops
// with ctx or Close.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		jobs:                  make(map[string]*model.AnalysisJob),
		results:               make(map[string]*model.AnalysisResult),
		history:               make(map[string][]string),
		now:                   time.Now,
		metricsUpdateInterval: 5 * time.Second,
		logger:                logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	metrics.UpdateStoredResults(0)
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the metrics updater.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// CreateJob registers a pending job.
func (s *MemoryStore) CreateJob(_ context.Context, job model.AnalysisJob) error { //nolint:gocritic // hugeParam: stored by copy
	if job.ID == "" {
		return fmt.Errorf("create job: empty id: %w", ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, ErrDuplicate)
	}
	now := s.now()
	job.Status = model.JobPending
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = &job
	return nil
}

// Job returns a copy of a job.
func (s *MemoryStore) Job(_ context.Context, id string) (model.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return model.AnalysisJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return *j, nil
}

// MarkRunning moves a pending job to processing.
func (s *MemoryStore) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.openJob(jobID)
	if err != nil {
		return err
	}
	j.Status = model.JobProcessing
	j.UpdatedAt = s.now()
	return nil
}

// Complete records the result of a job and adds it to the owner's history.
func (s *MemoryStore) Complete(_ context.Context, jobID string, result *model.AnalysisResult) error {
	if result == nil || !result.Consistent() {
		return fmt.Errorf("complete %s: %w", jobID, ErrInvalidResult)
	}
	s.mu.Lock()
	j, err := s.openJob(jobID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	j.Status = model.JobCompleted
	j.Result = result
	j.Error = ""
	j.UpdatedAt = s.now()
	n := s.putLocked(j.UserID, result)
	s.mu.Unlock()

	metrics.UpdateStoredResults(n)
	return nil
}

// Fail marks a job failed with cause.
func (s *MemoryStore) Fail(_ context.Context, jobID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.openJob(jobID)
	if err != nil {
		return err
	}
	j.Status = model.JobFailed
	if cause != nil {
		j.Error = cause.Error()
	}
	j.UpdatedAt = s.now()
	return nil
}

// SaveResult stores a result without a job.
func (s *MemoryStore) SaveResult(_ context.Context, userID string, result *model.AnalysisResult) error {
	if result == nil || result.ID == "" || !result.Consistent() {
		return ErrInvalidResult
	}
	s.mu.Lock()
	n := s.putLocked(userID, result)
	s.mu.Unlock()

	metrics.UpdateStoredResults(n)
	return nil
}

// Result returns a stored result.
func (s *MemoryStore) Result(_ context.Context, id string) (*model.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// History returns a user's results, newest first.
func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]*model.AnalysisResult, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.history[userID]
	if limit == 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]*model.AnalysisResult, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.results[ids[i]])
	}
	return out, nil
}

// Count returns the number of stored results.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// openJob returns a job that may still change state. Caller holds mu.
func (s *MemoryStore) openJob(id string) (*model.AnalysisJob, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if j.Finished() {
		return nil, fmt.Errorf("job %s is %s: %w", id, j.Status, ErrJobFinished)
	}
	return j, nil
}

// putLocked stores result once and returns the result count. Caller holds mu.
func (s *MemoryStore) putLocked(userID string, result *model.AnalysisResult) int {
	if _, exists := s.results[result.ID]; !exists {
		s.history[userID] = append(s.history[userID], result.ID)
	}
	s.results[result.ID] = result
	return len(s.results)
}

// startMetricsUpdater periodically republishes the stored result count.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.UpdateStoredResults(s.Count(ctx))
			}
		}
	}()
}
