package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/okian/courtside/pkg/logger"
)

const (
	logFilePermission    = 0o600
	percentageMultiplier = 100
)

// ErrIncomplete is returned when the run finished with failed or
// inconsistent jobs.
var ErrIncomplete = errors.New("load test found failures")

// SetupLogging sends log output to stdout and a file. An empty logFile
// gets a timestamped name.
func SetupLogging(logFile string) (io.Closer, error) {
	if logFile == "" {
		logFile = "loadtest_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file, nil
}

// Run executes a complete load test and returns its statistics.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("loadtest")

	log.Info(ctx, "starting courtside load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("clips", cfg.Clips),
		logger.Int("repeats", cfg.Repeats),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
		logger.Duration("wait", cfg.Wait))

	client := newHTTPClient(cfg)

	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	clips, err := generateClips(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("clip generation failed: %w", err)
	}

	jobs := submitClips(ctx, cfg, client, clips, stats)

	if err := awaitJobs(ctx, cfg, client, jobs, stats); err != nil {
		finish(ctx, stats)
		return stats, err
	}

	finish(ctx, stats)
	if stats.JobsFailed > 0 || stats.Inconsistent > 0 || stats.Failed > 0 {
		return stats, fmt.Errorf("%d failed jobs, %d inconsistent, %d failed uploads: %w",
			stats.JobsFailed, stats.Inconsistent, stats.Failed, ErrIncomplete)
	}
	log.Info(ctx, "load test completed successfully")
	return stats, nil
}

func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	resp, err := client.Get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Get().Error(ctx, "failed to close response body", logger.Error(err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func finish(ctx context.Context, stats *Stats) {
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	var acceptRate, uploadsPerSecond float64
	if stats.Submitted > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.Submitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		uploadsPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("clipsGenerated", stats.ClipsGenerated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Int("jobsCompleted", stats.JobsCompleted),
		logger.Int("jobsFailed", stats.JobsFailed),
		logger.Int("inconsistent", stats.Inconsistent),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("uploadsPerSecond", uploadsPerSecond))
}
