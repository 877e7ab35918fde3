// Package loadtest drives a running courtside server with synthetic rally
// uploads and checks that every accepted job reaches a consistent result.
package loadtest

import "time"

// Config holds configuration for a load test run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Clips        int           // Number of distinct clips to upload
	ClipBytes    int           // Size of each synthetic clip
	Repeats      int           // Clips re-sent with the same request id
	Workers      int           // Concurrent uploaders
	Timeout      time.Duration // HTTP request timeout
	PollInterval time.Duration // Delay between job status checks
	Wait         time.Duration // Upper bound on waiting for jobs to finish
	UserID       string        // Sent as X-User-ID
	Verbose      bool
}

// Clip is one synthetic upload.
type Clip struct {
	RequestID string
	Name      string
	Data      []byte
}

// Ack is the upload response.
type Ack struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Stats holds run statistics.
type Stats struct {
	ClipsGenerated int
	Submitted      int
	Accepted       int
	Duplicate      int
	Rejected       int // 429 backpressure
	Failed         int // transport errors and other statuses
	JobsCompleted  int
	JobsFailed     int
	Inconsistent   int
	ServesChecked  int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}
