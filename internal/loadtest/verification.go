package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/timeline"
	"github.com/okian/courtside/pkg/logger"
)

// ErrUnfinished is returned when jobs are still queued after Config.Wait.
var ErrUnfinished = errors.New("jobs did not finish in time")

// awaitJobs polls every job until it finishes, then checks that completed
// results agree with their own summaries and that the serve map is served.
func awaitJobs(ctx context.Context, cfg *Config, client *HTTPClient, jobIDs []string, stats *Stats) error {
	log := logger.Get().Named("loadtest")
	log.Info(ctx, "waiting for jobs", logger.Int("jobs", len(jobIDs)))

	deadline := time.Now().Add(cfg.Wait)
	pending := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = struct{}{}
	}

	for len(pending) > 0 {
		for id := range pending {
			var job model.AnalysisJob
			if err := client.GetJSON(ctx, "/analyses/"+id, &job); err != nil {
				log.Warn(ctx, "job lookup failed", logger.String("jobID", id), logger.Error(err))
				continue
			}
			if !job.Finished() {
				continue
			}
			delete(pending, id)
			if job.Status == model.JobFailed {
				stats.JobsFailed++
				log.Warn(ctx, "job failed", logger.String("jobID", id), logger.String("reason", job.Error))
				continue
			}
			stats.JobsCompleted++
			if err := checkResult(ctx, client, id, job.Result); err != nil {
				stats.Inconsistent++
				log.Error(ctx, "inconsistent result", logger.String("jobID", id), logger.Error(err))
				continue
			}
			stats.ServesChecked++
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d pending: %w", len(pending), ErrUnfinished)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollBackoff(cfg)):
		}
	}
	return nil
}

func checkResult(ctx context.Context, client *HTTPClient, jobID string, result *model.AnalysisResult) error {
	if result == nil {
		return errors.New("completed job without result")
	}
	if !result.Consistent() {
		return fmt.Errorf("summary totals %d/%d do not match %d events",
			result.Summary.TotalSuccesses, result.Summary.TotalErrors, len(result.Events))
	}
	var serves timeline.Serves
	if err := client.GetJSON(ctx, "/analyses/"+jobID+"/serves", &serves); err != nil {
		return err
	}
	if want := timeline.ServeStats(result.Events); serves.Total != want.Total || serves.Rate != want.Rate {
		return fmt.Errorf("serve map %d@%d%%, expected %d@%d%%", serves.Total, serves.Rate, want.Total, want.Rate)
	}
	return nil
}
