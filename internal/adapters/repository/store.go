// Package repository keeps analysis jobs and their results.
package repository

import (
	"context"

	"github.com/okian/courtside/internal/domain/model"
)

// Store provides read/write access to jobs and results.
type Store interface {
	// CreateJob registers a pending job. Returns ErrDuplicate if the id is taken.
	CreateJob(ctx context.Context, job model.AnalysisJob) error

	// Job returns a job by id or ErrNotFound.
	Job(ctx context.Context, id string) (model.AnalysisJob, error)

	// MarkRunning, Complete and Fail move a job through its lifecycle.
	MarkRunning(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result *model.AnalysisResult) error
	Fail(ctx context.Context, jobID string, cause error) error

	// SaveResult stores a result that did not come from a job, e.g. a live session.
	SaveResult(ctx context.Context, userID string, result *model.AnalysisResult) error

	// Result returns a result by id or ErrNotFound.
	Result(ctx context.Context, id string) (*model.AnalysisResult, error)

	// History returns up to limit results of a user, newest first.
	// A limit of 0 returns all of them.
	History(ctx context.Context, userID string, limit int) ([]*model.AnalysisResult, error)

	// Count returns the number of stored results.
	Count(ctx context.Context) int
}
