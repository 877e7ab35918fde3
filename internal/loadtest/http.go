package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/courtside/pkg/logger"
)

// HTTPClient wraps http.Client for the analyses API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	userID  string
}

func newHTTPClient(cfg *Config) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		userID:  cfg.UserID,
	}
}

// Get performs a GET request against the service.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	return c.client.Do(req)
}

// GetJSON decodes a 200 response into v.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Upload posts clip as a multipart video.
func (c *HTTPClient) Upload(ctx context.Context, clip Clip) (int, Ack, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, clip.Name))
	h.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(h)
	if err != nil {
		return 0, Ack{}, err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return 0, Ack{}, err
	}
	if err := mw.Close(); err != nil {
		return 0, Ack{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyses", &body)
	if err != nil {
		return 0, Ack{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", clip.RequestID)
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, Ack{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, Ack{}, err
	}
	var ack Ack
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(data, &ack); err != nil {
			return resp.StatusCode, Ack{}, fmt.Errorf("decode ack: %w", err)
		}
	}
	return resp.StatusCode, ack, nil
}

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeDuplicate
	outcomeRejected
	outcomeFailed
)

// submitClips uploads clips with a worker pool and returns the ids of the
// jobs the server accepted.
func submitClips(ctx context.Context, cfg *Config, client *HTTPClient, clips []Clip, stats *Stats) []string {
	log := logger.Get().Named("loadtest")
	log.Info(ctx, "submitting clips", logger.Int("clips", len(clips)), logger.Int("workers", cfg.Workers))

	var counts [4]int64
	var submitted int64
	var mu sync.Mutex
	jobs := make([]string, 0, len(clips))

	clipChan := make(chan Clip, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < max(cfg.Workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for clip := range clipChan {
				status, ack, err := client.Upload(ctx, clip)
				o := classify(status, err)
				atomic.AddInt64(&counts[o], 1)
				n := atomic.AddInt64(&submitted, 1)
				if o == outcomeAccepted {
					mu.Lock()
					jobs = append(jobs, ack.JobID)
					mu.Unlock()
				}
				if cfg.Verbose {
					log.Debug(ctx, "clip submitted",
						logger.String("requestID", clip.RequestID),
						logger.Int("status", status),
						logger.Int64("submitted", n))
				}
			}
		}()
	}

	go func() {
		defer close(clipChan)
		for _, clip := range clips {
			select {
			case <-ctx.Done():
				return
			case clipChan <- clip:
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(atomic.LoadInt64(&submitted))
	stats.Accepted = int(counts[outcomeAccepted])
	stats.Duplicate = int(counts[outcomeDuplicate])
	stats.Rejected = int(counts[outcomeRejected])
	stats.Failed = int(counts[outcomeFailed])

	log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed))
	return jobs
}

func classify(status int, err error) outcome {
	if err != nil {
		return outcomeFailed
	}
	switch status {
	case http.StatusAccepted:
		return outcomeAccepted
	case http.StatusOK:
		return outcomeDuplicate
	case http.StatusTooManyRequests:
		return outcomeRejected
	default:
		return outcomeFailed
	}
}

// pollBackoff spaces status checks for one job.
func pollBackoff(cfg *Config) time.Duration {
	if cfg.PollInterval > 0 {
		return cfg.PollInterval
	}
	return time.Second
}
