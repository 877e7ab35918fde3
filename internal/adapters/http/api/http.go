// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/courtside/internal/adapters/mq/queue"
	"github.com/okian/courtside/internal/adapters/repository"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/i18n"
)

// defaultMaxUpload caps multipart uploads when no limit is configured.
const defaultMaxUpload = 200 << 20

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	analysesHandler *AnalysesHandler
	liveHandler     *LiveHandler
}

// NewServer creates a new API server with all handlers. maxUpload bounds
// uploaded videos in bytes; 0 keeps the default.
func NewServer(analyses AnalysisDependencies, live LiveDependencies, statsProvider StatsProvider, maxUpload int64) *Server {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		analysesHandler: NewAnalysesHandler(analyses, maxUpload),
		liveHandler:     NewLiveHandler(live),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /analyses", MetricsMiddleware(s.analysesHandler.HandleSubmit, "analyses"))
	mux.HandleFunc("GET /analyses/{id}", MetricsMiddleware(s.analysesHandler.HandleGetJob, "analysis"))
	mux.HandleFunc("GET /analyses/{id}/active", MetricsMiddleware(s.analysesHandler.HandleActive, "analysis_active"))
	mux.HandleFunc("GET /analyses/{id}/seek/{eventId}", MetricsMiddleware(s.analysesHandler.HandleSeek, "analysis_seek"))
	mux.HandleFunc("GET /analyses/{id}/serves", MetricsMiddleware(s.analysesHandler.HandleServes, "analysis_serves"))
	mux.HandleFunc("GET /history", MetricsMiddleware(s.analysesHandler.HandleHistory, "history"))

	mux.HandleFunc("GET /live", MetricsMiddleware(s.liveHandler.HandleSnapshot, "live"))
	mux.HandleFunc("POST /live/open", MetricsMiddleware(s.liveHandler.HandleOpen, "live_open"))
	mux.HandleFunc("POST /live/start", MetricsMiddleware(s.liveHandler.HandleStart, "live_start"))
	mux.HandleFunc("POST /live/stop", MetricsMiddleware(s.liveHandler.HandleStop, "live_stop"))
	mux.HandleFunc("POST /live/close", MetricsMiddleware(s.liveHandler.HandleClose, "live_close"))
	mux.HandleFunc("PUT /live/view", MetricsMiddleware(s.liveHandler.HandleSetView, "live_view"))
	mux.HandleFunc("PUT /live/mode", MetricsMiddleware(s.liveHandler.HandleSetMode, "live_mode"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and writes a localized message for the
// request's Accept-Language.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if key := i18n.KeyFor(err); key != i18n.KeyGeneric || status >= statusInternalError {
		msg = i18n.Localize(err, i18n.Match(r.Header.Get("Accept-Language")))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, model.ErrRateLimit):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrPermission):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, model.ErrEntityNotFound):
		return http.StatusBadGateway, "entity_not_found"
	case errors.Is(err, model.ErrConnection):
		return http.StatusBadGateway, "connection_failed"
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
