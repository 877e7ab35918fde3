package model

import "time"

// JobStatus tracks a batch analysis through the queue.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// AnalysisJob is the bookkeeping record of one uploaded video.
type AnalysisJob struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	Key       string          `json:"-"`
	Status    JobStatus       `json:"status"`
	Error     string          `json:"error,omitempty"`
	Result    *AnalysisResult `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Finished reports whether the job reached a terminal status.
func (j *AnalysisJob) Finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// AnalysisTask is the payload flowing from the upload handler to the workers.
type AnalysisTask struct {
	JobID    string
	UserID   string
	Key      string
	Media    []byte
	MimeType string
	Language string
	Quality  string
}
