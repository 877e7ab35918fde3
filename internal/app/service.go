// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/okian/courtside/internal/adapters/gemini"
	"github.com/okian/courtside/internal/adapters/live"
	"github.com/okian/courtside/internal/adapters/media"
	"github.com/okian/courtside/internal/adapters/mq/queue"
	"github.com/okian/courtside/internal/adapters/mq/worker"
	"github.com/okian/courtside/internal/adapters/persist"
	"github.com/okian/courtside/internal/adapters/repository"
	"github.com/okian/courtside/internal/config"
	"github.com/okian/courtside/internal/domain/dedupe"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/internal/domain/session"
	"github.com/okian/courtside/internal/i18n"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// ErrNotStarted is returned by operations that need a running service.
var ErrNotStarted = errors.New("service not started")

// LiveUserID owns results produced by the local live session.
const LiveUserID = ""

const shutdownTimeout = 30 * time.Second

// Service implements the API dependencies for batch analyses and the live
// judge session.
type Service struct {
	mu sync.RWMutex

	cfg config.Config

	// Core components
	store     *repository.MemoryStore
	deduper   dedupe.Deduper
	queue     *queue.InMemoryQueue
	analyzer  scoring.Analyzer
	pool      *worker.Pool
	persister persist.Persister
	async     *persist.Async

	persistOverride persist.Persister
	live            *session.Controller

	// Overrides, mostly for tests
	dialer   session.Dialer
	source   session.MediaSource
	playback session.Playback
	speaker  *media.Speaker

	// State
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option { //nolint:gocritic // hugeParam: copied once at construction
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithWorkerCount sets the number of analysis workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.cfg.WorkerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the analysis queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.cfg.QueueSize = size
		}
	}
}

// WithDedupeSize sets the size of the upload deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.cfg.DedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAnalyzer replaces the remote batch analyzer.
func WithAnalyzer(a scoring.Analyzer) Option {
	return func(s *Service) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithDialer replaces the live model dialer.
func WithDialer(d session.Dialer) Option {
	return func(s *Service) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithMediaSource replaces the ffmpeg capture source.
func WithMediaSource(src session.MediaSource) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithPlayback routes coach audio to p.
func WithPlayback(p session.Playback) Option {
	return func(s *Service) {
		s.playback = p
	}
}

// WithPersister replaces the backend chosen by configuration.
func WithPersister(p persist.Persister) Option {
	return func(s *Service) {
		if p != nil {
			s.persistOverride = p
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: *config.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting courtside service...")

	s.persister = s.persistOverride
	if s.persister == nil {
		p, err := persist.New(ctx, persist.Settings{
			Backend:     s.cfg.PersistBackend,
			SupabaseURL: s.cfg.SupabaseURL,
			SupabaseKey: s.cfg.SupabaseKey,
			SQLitePath:  s.cfg.HistoryDB,
		})
		if err != nil {
			return err
		}
		s.persister = p
	}
	s.async = persist.NewAsync(s.persister, persist.WithLogger(s.logger.Named("persist")))

	s.store = repository.NewMemoryStore(ctx)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))

	if s.analyzer == nil {
		s.analyzer = NewAnalyzer(&s.cfg, s.logger.Named("gemini"), s.recoverKey)
	}

	s.pool = worker.NewPool(s.cfg.WorkerCount, s.queue, s.analyzer, s.store,
		worker.WithLogger(s.logger.Named("worker")),
		worker.WithResultHook(func(_ context.Context, t worker.Task, r *model.AnalysisResult) {
			s.async.Save(t.UserID, r)
		}),
		worker.WithFailureHook(func(ctx context.Context, t worker.Task, _ error) {
			// A failed upload may be retried as new work.
			s.deduper.Unrecord(ctx, t.Key)
		}),
	)
	s.pool.Start(ctx)

	s.live = s.newController()

	s.started = true
	s.logger.Info(ctx, "courtside service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queue.Capacity()),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
		logger.String("persist", s.persister.Name()),
	)
	return nil
}

// NewAnalyzer builds the remote batch analyzer described by cfg.
func NewAnalyzer(cfg *config.Config, l logger.Logger, recovery func(ctx context.Context, err error)) *gemini.Analyzer {
	return gemini.NewAnalyzer(
		gemini.WithLogger(l),
		gemini.WithBaseURL(cfg.APIBaseURL),
		gemini.WithModel(cfg.BatchModel),
		gemini.WithAPIKey(cfg.APIKey),
		gemini.WithRetryPolicy(cfg.RetryPolicy()),
		gemini.WithRecoveryHook(recovery),
	)
}

func (s *Service) newController() *session.Controller {
	if s.dialer == nil {
		s.dialer = live.NewDialer(s.cfg.LiveURL,
			live.WithLogger(s.logger.Named("live")),
			live.WithModel(s.cfg.LiveModel),
			live.WithAPIKey(s.cfg.APIKey),
		)
	}
	if s.source == nil {
		s.source = media.NewFFmpegSource(
			media.WithLogger(s.logger.Named("media")),
			media.WithFFmpegPath(s.cfg.FFmpegPath),
			media.WithVideoDevice(s.cfg.VideoDevice, s.cfg.VideoFormat),
			media.WithAudioDevice(s.cfg.AudioDevice, s.cfg.AudioFormat),
			media.WithLockPath(s.cfg.DeviceLock),
		)
	}

	opts := []session.Option{
		session.WithLogger(s.logger.Named("session")),
		session.WithFrameInterval(s.cfg.FrameInterval()),
		session.WithCalibrationStep(s.cfg.CalibrationStep()),
		session.WithMaxDuration(s.cfg.MaxSession()),
		session.WithLanguage(i18n.Match(s.cfg.Language)),
		session.WithRecoveryHook(s.recoverKey),
		session.WithResultSink(s.saveLive),
		session.WithErrorHandler(func(err error, message string) {
			s.logger.Warn(context.Background(), "live session error",
				logger.Error(err),
				logger.String("message", message),
			)
		}),
	}
	if s.playback == nil {
		s.speaker = media.NewSpeaker(
			media.WithSpeakerLogger(s.logger.Named("speaker")),
			media.WithSpeakerFFmpegPath(s.cfg.FFmpegPath),
			media.WithOutputDevice(s.cfg.OutputDevice, s.cfg.AudioFormat),
		)
		s.playback = s.speaker
	}
	opts = append(opts, session.WithPlayback(s.playback))
	return session.New(s.source, s.dialer, opts...)
}

// saveLive records a finished live session in the history.
func (s *Service) saveLive(ctx context.Context, result *model.AnalysisResult) {
	if err := s.store.SaveResult(ctx, LiveUserID, result); err != nil {
		s.logger.Warn(ctx, "failed to store live result",
			logger.String("resultID", result.ID),
			logger.Error(err),
		)
		return
	}
	s.async.Save(LiveUserID, result)
}

// recoverKey runs when the remote model reports the key or model as unknown.
// The operator has to configure another key; the attempt is logged so it
// shows up next to the failing request.
func (s *Service) recoverKey(ctx context.Context, err error) {
	s.logger.Warn(ctx, "api key or model rejected; configure another key",
		logger.Error(err),
		logger.String("hint", i18n.Localize(err, i18n.Match(s.cfg.Language))),
	)
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping courtside service...")

	if s.live != nil {
		if err := s.live.Close(ctx); err != nil {
			s.logger.Debug(ctx, "live session close", logger.Error(err))
		}
	}
	if s.speaker != nil {
		_ = s.speaker.Close(time.Second)
		s.speaker, s.playback = nil, nil
	}
	// Closes the queue and drains in-flight analyses.
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	if err := s.async.Close(ctx); err != nil {
		s.logger.Warn(ctx, "persister shutdown", logger.Error(err))
	}
	_ = s.store.Close()

	s.started = false
	s.logger.Info(ctx, "courtside service stopped")
}

// SeenOrRecord claims key for jobID. It reports the owning job when the
// key was already claimed.
func (s *Service) SeenOrRecord(ctx context.Context, key, jobID string) (string, bool) {
	existing, seen := s.deduper.SeenOrRecord(ctx, key, jobID)
	if seen {
		metrics.RecordAnalysisDuplicate()
	}
	return existing, seen
}

// Unrecord releases key so the same upload can be submitted again.
func (s *Service) Unrecord(ctx context.Context, key string) {
	s.deduper.Unrecord(ctx, key)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue registers a pending job for task and hands it to the workers.
func (s *Service) Enqueue(ctx context.Context, task model.AnalysisTask) error { //nolint:gocritic // hugeParam: queued by value
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}

	job := model.AnalysisJob{ID: task.JobID, UserID: task.UserID, Key: task.Key}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if ferr := s.store.Fail(ctx, task.JobID, err); ferr != nil {
			s.logger.Debug(ctx, "failed to mark rejected job", logger.Error(ferr))
		}
		return err
	}

	s.logger.Debug(ctx, "analysis queued",
		logger.String("jobID", task.JobID),
		logger.String("userID", task.UserID),
		logger.Int("bytes", len(task.Media)),
	)
	metrics.UpdateQueueSize(s.queue.Len(ctx))
	return nil
}

// Job returns the job registered under id.
func (s *Service) Job(ctx context.Context, id string) (model.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.AnalysisJob{}, ErrNotStarted
	}
	return s.store.Job(ctx, id)
}

// Result returns a stored result by id.
func (s *Service) Result(ctx context.Context, id string) (*model.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store.Result(ctx, id)
}

// History returns userID's results, newest first. Results kept by the
// persistence backend from earlier runs are merged with the in-memory ones.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}

	local, err := s.store.History(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if s.persister.Name() == persist.BackendNone {
		return local, nil
	}

	stored, err := s.persister.History(ctx, userID, limit)
	if err != nil {
		// The in-memory view is still correct for this run.
		s.logger.Warn(ctx, "persisted history unavailable",
			logger.String("backend", s.persister.Name()),
			logger.Error(err),
		)
		return local, nil
	}
	return mergeHistory(local, stored, limit), nil
}

// mergeHistory unions two newest-first lists by result id.
func mergeHistory(local, stored []*model.AnalysisResult, limit int) []*model.AnalysisResult {
	seen := make(map[string]struct{}, len(local)+len(stored))
	out := make([]*model.AnalysisResult, 0, len(local)+len(stored))
	for _, list := range [][]*model.AnalysisResult{local, stored} {
		for _, r := range list {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	// Dates are RFC 3339 in UTC so they order lexically.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Live returns the live session controller, nil before Start.
func (s *Service) Live() *session.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stored := s.store.Count(ctx)

		stats["workerCount"] = s.pool.Size()
		stats["queueLength"] = queueLen
		stats["activeWorkers"] = s.pool.Active()
		stats["processed"] = s.pool.Processed()
		stats["failed"] = s.pool.Failed()
		stats["storedResults"] = stored
		stats["dedupeEntries"] = s.deduper.Size()
		stats["persistBackend"] = s.persister.Name()
		stats["liveState"] = string(s.live.Snapshot().State)

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateStoredResults(stored)
		metrics.UpdateWorkerCount(s.pool.Size())
	}

	return stats
}
