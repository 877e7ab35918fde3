// Package gemini implements batch video analysis against the Generative
// Language REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/internal/i18n"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
	"github.com/okian/courtside/pkg/retry"
)

// DefaultQuality is used when a request names no quality.
const DefaultQuality = "1080p"

// Analyzer scores recorded videos with a single structured generateContent call.
type Analyzer struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	policy  retry.Policy
	recover func(ctx context.Context, err error)
	now     func() time.Time
	logger  logger.Logger
}

var _ scoring.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer with the default retry policy.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		policy:  retry.Default(nil),
		now:     time.Now,
		logger:  logger.Get().Named("gemini"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.policy.Retryable = Retryable
	if a.policy.OnRetry == nil {
		a.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			metrics.RecordAnalysisRetry()
			a.logger.Warn(context.Background(), "analysis rate limited, backing off",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
		}
	}
	return a
}

// Retryable reports whether an analysis error is worth retrying. Only
// throttling is.
func Retryable(err error) bool {
	return errors.Is(err, model.ErrRateLimit)
}

// Analyze uploads the media inline, retries throttled attempts and returns
// the normalized result. A not-found failure invokes the recovery hook once
// and is not retried.
func (a *Analyzer) Analyze(ctx context.Context, req scoring.Request) (*model.AnalysisResult, error) {
	if len(req.Media) == 0 {
		return nil, errors.New("analyze: empty media")
	}
	start := time.Now()
	body, err := a.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	result, err := retry.DoValue(ctx, a.policy, func(ctx context.Context) (*model.AnalysisResult, error) {
		return a.once(ctx, body)
	})
	metrics.RecordAnalysisLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		status := statusOf(err)
		metrics.RecordAnalysisRequest(status)
		if errors.Is(err, model.ErrEntityNotFound) && a.recover != nil {
			metrics.RecordRecoveryInvocation()
			a.recover(ctx, err)
		}
		a.logger.Error(ctx, "analysis failed", logger.String("status", status), logger.Error(err))
		return nil, fmt.Errorf("analyze: %w", err)
	}

	metrics.RecordAnalysisRequest("ok")
	a.logger.Info(ctx, "analysis complete",
		logger.String("result_id", result.ID),
		logger.Int("events", result.Summary.TotalEvents),
		logger.Duration("took", time.Since(start)),
	)
	return result, nil
}

func (a *Analyzer) buildRequest(req scoring.Request) ([]byte, error) {
	tag := i18n.Match(req.Language)
	quality := strings.TrimSpace(req.Quality)
	if quality == "" {
		quality = DefaultQuality
	}
	payload := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{
					MimeType: UploadMimeType(req.MimeType),
					Data:     base64.StdEncoding.EncodeToString(req.Media),
				}},
				{Text: i18n.Sprintf(tag, i18n.KeyAnalysisPrompt, quality)},
			},
		}},
		SystemInstruction: &content{Parts: []part{{Text: i18n.Sprintf(tag, i18n.KeyAnalystRole)}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   model.AnalysisResponseSchema(),
		},
	}
	return json.Marshal(payload)
}

func (a *Analyzer) once(ctx context.Context, body []byte) (*model.AnalysisResult, error) {
	endpoint, err := url.JoinPath(a.baseURL, "v1beta", "models", a.model+":generateContent")
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if a.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(a.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", model.ErrConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrConnection, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatus(parseAPIError(resp.StatusCode, raw))
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("%w: envelope: %w", model.ErrParse, err)
	}
	if gr.Error != nil {
		return nil, classifyStatus(&apiError{StatusCode: gr.Error.Code, Status: gr.Error.Status, Message: gr.Error.Message})
	}
	text, err := candidateText(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrParse, err)
	}
	var result model.AnalysisResult
	if err := decodeJSON(text, &result); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrParse, err)
	}
	return scoring.Normalize(&result, a.now()), nil
}

// UploadMimeType returns the mime type the service accepts for an upload.
// QuickTime is sent as MP4 and an unknown type defaults to MP4.
func UploadMimeType(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "", mime == "video/quicktime", mime == "application/octet-stream":
		return "video/mp4"
	default:
		return mime
	}
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, model.ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, model.ErrEntityNotFound):
		return "not_found"
	case errors.Is(err, model.ErrParse):
		return "parse_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
