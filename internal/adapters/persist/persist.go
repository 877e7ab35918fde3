// Package persist copies finished analysis results to durable storage.
//
// Persistence is a side effect: callers hand results to an Async dispatcher
// and move on. Failures are logged and counted, never returned to the user.
package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// Backend names accepted by New.
const (
	BackendNone      = "none"
	BackendPostgrest = "postgrest"
	BackendSQLite    = "sqlite"
)

// Persister stores results per user.
type Persister interface {
	// Save upserts a result by id.
	Save(ctx context.Context, userID string, result *model.AnalysisResult) error

	// History returns a user's results, newest first. A limit of 0 means all.
	History(ctx context.Context, userID string, limit int) ([]*model.AnalysisResult, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}

// Settings selects and configures a backend.
type Settings struct {
	Backend     string
	SupabaseURL string
	SupabaseKey string
	SQLitePath  string
}

// New builds the persister named by s.Backend.
func New(ctx context.Context, s Settings) (Persister, error) {
	switch s.Backend {
	case "", BackendNone:
		return Nop{}, nil
	case BackendPostgrest:
		if s.SupabaseURL == "" || s.SupabaseKey == "" {
			return nil, fmt.Errorf("%s: url and key are required: %w", s.Backend, ErrNotConfigured)
		}
		return NewPostgrest(s.SupabaseURL, s.SupabaseKey)
	case BackendSQLite:
		if s.SQLitePath == "" {
			return nil, fmt.Errorf("%s: path is required: %w", s.Backend, ErrNotConfigured)
		}
		return OpenSQLite(ctx, s.SQLitePath)
	default:
		return nil, fmt.Errorf("%q: %w", s.Backend, ErrUnknownBackend)
	}
}

// Nop discards results.
type Nop struct{}

func (Nop) Save(context.Context, string, *model.AnalysisResult) error { return nil }

func (Nop) History(context.Context, string, int) ([]*model.AnalysisResult, error) {
	return nil, nil
}

func (Nop) Name() string { return BackendNone }
func (Nop) Close() error { return nil }

// Async runs saves in the background with a per-save timeout.
type Async struct {
	p       Persister
	timeout time.Duration
	logger  logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps p.
func NewAsync(p Persister, opts ...Option) *Async {
	a := &Async{
		p:       p,
		timeout: defaultSaveTimeout,
		logger:  logger.Get().Named("persist"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Persister returns the wrapped backend.
func (a *Async) Persister() Persister { return a.p }

// Save schedules a save and returns immediately.
func (a *Async) Save(userID string, result *model.AnalysisResult) {
	if _, nop := a.p.(Nop); nop || result == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn(context.Background(), "dropping result after close", logger.String("result_id", result.ID))
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		backend := a.p.Name()
		if err := a.p.Save(ctx, userID, result); err != nil {
			metrics.RecordPersistError(backend)
			a.logger.Error(ctx, "persisting result failed",
				logger.String("backend", backend),
				logger.String("result_id", result.ID),
				logger.Error(err),
			)
			return
		}
		metrics.RecordPersistSave(backend)
	}()
}

// Close waits for in-flight saves, bounded by ctx, then closes the backend.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn(ctx, "in-flight saves abandoned")
	}
	return a.p.Close()
}
