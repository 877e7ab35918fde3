package api

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/courtside/internal/domain/dedupe"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/timeline"
	"github.com/okian/courtside/internal/i18n"
)

// Upload form fields and headers.
const (
	fieldVideo      = "video"
	fieldLanguage   = "language"
	fieldQuality    = "quality"
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
)

// AnalysisDependencies is what the analyses handler needs from the service.
type AnalysisDependencies interface {
	dedupe.Deduper

	// Enqueue registers the job and queues it. Returns queue.ErrFull on backpressure.
	Enqueue(ctx context.Context, task model.AnalysisTask) error

	Job(ctx context.Context, id string) (model.AnalysisJob, error)
	Result(ctx context.Context, id string) (*model.AnalysisResult, error)
	History(ctx context.Context, userID string, limit int) ([]*model.AnalysisResult, error)
}

// AnalysesHandler serves batch analyses and their timelines.
type AnalysesHandler struct {
	deps      AnalysisDependencies
	maxUpload int64
}

// NewAnalysesHandler creates a new analyses handler.
func NewAnalysesHandler(deps AnalysisDependencies, maxUpload int64) *AnalysesHandler {
	return &AnalysesHandler{deps: deps, maxUpload: maxUpload}
}

type submitResponse struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// HandleSubmit handles POST /analyses with a multipart video upload.
func (h *AnalysesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_analysis"

	if r.ContentLength > h.maxUpload {
		writeError(w, r, NewKind(op, ErrTooLarge))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile(fieldVideo)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, WrapKind(op, ErrTooLarge, err))
			return
		}
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	defer file.Close()

	media, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(media) == 0 {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("empty video")))
		return
	}

	lang := r.FormValue(fieldLanguage)
	if lang == "" {
		lang = r.Header.Get("Accept-Language")
	}
	task := model.AnalysisTask{
		JobID:    uuid.NewString(),
		UserID:   strings.TrimSpace(r.Header.Get(headerUserID)),
		Key:      dedupe.Key(r.Header.Get(headerRequestID), media),
		Media:    media,
		MimeType: header.Header.Get("Content-Type"),
		Language: i18n.Code(i18n.Match(lang)),
		Quality:  strings.TrimSpace(r.FormValue(fieldQuality)),
	}

	// Idempotency check: the first upload of a key owns the job.
	if existing, seen := h.deps.SeenOrRecord(r.Context(), task.Key, task.JobID); seen {
		status := string(model.JobPending)
		if job, err := h.deps.Job(r.Context(), existing); err == nil {
			status = string(job.Status)
		}
		writeJSON(w, http.StatusOK, submitResponse{JobID: existing, Status: status, Duplicate: true})
		return
	}

	if err := h.deps.Enqueue(r.Context(), task); err != nil {
		// Rollback so a retry of the same upload is not treated as a duplicate.
		h.deps.Unrecord(r.Context(), task.Key)
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: task.JobID, Status: string(model.JobPending)})
}

// HandleGetJob handles GET /analyses/{id}.
func (h *AnalysesHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.get_analysis", err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type activeResponse struct {
	T       float64 `json:"t"`
	EventID string  `json:"eventId,omitempty"`
	Active  bool    `json:"active"`
}

// HandleActive handles GET /analyses/{id}/active?t=seconds.
func (h *AnalysesHandler) HandleActive(w http.ResponseWriter, r *http.Request) {
	const op = "api.active_event"

	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("t must be a number of seconds")))
		return
	}
	result, err := h.result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	id, ok := timeline.ActiveEvent(result.Events, t)
	writeJSON(w, http.StatusOK, activeResponse{T: t, EventID: id, Active: ok})
}

type seekResponse struct {
	EventID  string  `json:"eventId"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// HandleSeek handles GET /analyses/{id}/seek/{eventId}.
func (h *AnalysesHandler) HandleSeek(w http.ResponseWriter, r *http.Request) {
	const op = "api.seek"

	result, err := h.result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	eventID := r.PathValue("eventId")
	player := timeline.NewPlayhead(0)
	pos, err := timeline.SeekByID(player, result, eventID)
	if err != nil {
		writeError(w, r, WrapKind(op, ErrNotFound, err))
		return
	}
	writeJSON(w, http.StatusOK, seekResponse{EventID: eventID, Position: pos, Playing: player.Playing()})
}

// HandleServes handles GET /analyses/{id}/serves.
func (h *AnalysesHandler) HandleServes(w http.ResponseWriter, r *http.Request) {
	result, err := h.result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.serves", err))
		return
	}
	writeJSON(w, http.StatusOK, timeline.ServeStats(result.Events))
}

// HandleHistory handles GET /history?limit=n for the X-User-ID caller.
func (h *AnalysesHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.history"

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, WrapKind(op, ErrBadRequest, err))
			return
		}
		limit = n
	}
	results, err := h.deps.History(r.Context(), strings.TrimSpace(r.Header.Get(headerUserID)), limit)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	if results == nil {
		results = []*model.AnalysisResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// result resolves id as a result id first, then as a job id.
func (h *AnalysesHandler) result(ctx context.Context, id string) (*model.AnalysisResult, error) {
	if r, err := h.deps.Result(ctx, id); err == nil {
		return r, nil
	}
	job, err := h.deps.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Result == nil {
		return nil, NewKind("job "+id+" is "+string(job.Status), ErrNotFound)
	}
	return job.Result, nil
}
