package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/courtside/internal/domain/model"
)

// LiveDependencies is the live session surface exposed over HTTP.
type LiveDependencies interface {
	Open(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*model.AnalysisResult, error)
	Close(ctx context.Context) error
	SetView(view model.View) error
	SetMode(mode model.Mode) error
	Snapshot() model.SessionSnapshot
}

// LiveHandler drives the live session.
type LiveHandler struct {
	deps LiveDependencies
}

// NewLiveHandler creates a new live handler.
func NewLiveHandler(deps LiveDependencies) *LiveHandler {
	return &LiveHandler{deps: deps}
}

// HandleSnapshot handles GET /live.
func (h *LiveHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Snapshot())
}

// HandleOpen handles POST /live/open.
func (h *LiveHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.live_open", h.deps.Open)
}

// HandleStart handles POST /live/start.
func (h *LiveHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.live_start", h.deps.Start)
}

// HandleClose handles POST /live/close.
func (h *LiveHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "api.live_close", h.deps.Close)
}

// HandleStop handles POST /live/stop. It answers with the session result,
// or 204 when there was nothing to analyze.
func (h *LiveHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Stop(r.Context())
	if err != nil {
		writeError(w, r, Wrap("api.live_stop", err))
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type viewRequest struct {
	View string `json:"view"`
}

// HandleSetView handles PUT /live/view.
func (h *LiveHandler) HandleSetView(w http.ResponseWriter, r *http.Request) {
	const op = "api.live_view"

	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	view, ok := model.ParseView(req.View)
	if !ok {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("unknown view "+req.View)))
		return
	}
	if err := h.deps.SetView(view); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Snapshot())
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// HandleSetMode handles PUT /live/mode; only allowed while idle.
func (h *LiveHandler) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	const op = "api.live_mode"

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	mode := model.Mode(req.Mode)
	if mode != model.ModeJudge && mode != model.ModeCoach {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("unknown mode "+req.Mode)))
		return
	}
	if err := h.deps.SetMode(mode); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Snapshot())
}

func (h *LiveHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Snapshot())
}
