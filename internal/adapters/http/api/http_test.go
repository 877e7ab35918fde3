package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/courtside/internal/adapters/http/api"
	"github.com/okian/courtside/internal/adapters/mq/queue"
	"github.com/okian/courtside/internal/adapters/repository"
	"github.com/okian/courtside/internal/domain/dedupe"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// Mock implementations for testing
type mockAnalyses struct {
	dedupe.Deduper

	mu         sync.Mutex
	enqueueErr error
	enqueued   []model.AnalysisTask
	jobs       map[string]model.AnalysisJob
	results    map[string]*model.AnalysisResult
	history    []*model.AnalysisResult
	historyFor string
}

func newMockAnalyses() *mockAnalyses {
	return &mockAnalyses{
		Deduper: dedupe.NewInMemoryDeduper(),
		jobs:    make(map[string]model.AnalysisJob),
		results: make(map[string]*model.AnalysisResult),
	}
}

func (m *mockAnalyses) Enqueue(_ context.Context, t model.AnalysisTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, t)
	m.jobs[t.JobID] = model.AnalysisJob{ID: t.JobID, UserID: t.UserID, Status: model.JobPending}
	return nil
}

func (m *mockAnalyses) Job(_ context.Context, id string) (model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.AnalysisJob{}, fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	return j, nil
}

func (m *mockAnalyses) Result(_ context.Context, id string) (*model.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, repository.ErrNotFound)
	}
	return r, nil
}

func (m *mockAnalyses) History(_ context.Context, userID string, limit int) ([]*model.AnalysisResult, error) {
	if limit < 0 {
		return nil, repository.ErrInvalidLimit
	}
	m.historyFor = userID
	return m.history, nil
}

type mockLive struct {
	snapshot model.SessionSnapshot
	err      error
	result   *model.AnalysisResult
	calls    []string
}

func (m *mockLive) Open(context.Context) error  { m.calls = append(m.calls, "open"); return m.err }
func (m *mockLive) Start(context.Context) error { m.calls = append(m.calls, "start"); return m.err }
func (m *mockLive) Close(context.Context) error { m.calls = append(m.calls, "close"); return m.err }
func (m *mockLive) Stop(context.Context) (*model.AnalysisResult, error) {
	m.calls = append(m.calls, "stop")
	return m.result, m.err
}

func (m *mockLive) SetView(v model.View) error {
	if m.err != nil {
		return m.err
	}
	m.snapshot.View = v
	return nil
}

func (m *mockLive) SetMode(mode model.Mode) error {
	if m.err != nil {
		return m.err
	}
	m.snapshot.Mode = mode
	return nil
}

func (m *mockLive) Snapshot() model.SessionSnapshot { return m.snapshot }

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func sampleResult() *model.AnalysisResult {
	r := scoring.NewResult([]model.PerformanceEvent{
		{ID: "e1", Timestamp: "0:05", Type: model.EventSuccess, Description: "serve ace", Movement: "Serve", CallType: model.CallIn},
		{ID: "e2", Timestamp: "0:07", Type: model.EventError, Description: "net", Movement: "Saque", CallType: model.CallNet},
		{ID: "e3", Timestamp: "1:02", Type: model.EventSuccess, Description: "volley"},
	}, time.Now())
	r.ID = "r1"
	return r
}

func upload(t *testing.T, media []byte, headers map[string]string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if media != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="video"; filename="rally.mov"`)
		h.Set("Content-Type", "video/quicktime")
		part, _ := mw.CreatePart(h)
		_, _ = part.Write(media)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestServer(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		analyses := newMockAnalyses()
		live := &mockLive{snapshot: model.SessionSnapshot{State: model.StateIdle, Mode: model.ModeJudge, View: model.ViewBaseline}}
		stats := &mockStatsProvider{stats: map[string]interface{}{"started": true}}
		server := api.NewServer(analyses, live, stats, 1<<10)
		mux := http.NewServeMux()
		server.Register(context.Background(), mux)

		serve := func(req *http.Request) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			return w
		}

		Convey("Health and stats are served", func() {
			So(serve(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code, ShouldEqual, http.StatusOK)

			w := serve(httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("When a video is uploaded", func() {
			w := serve(upload(t, []byte("rally"), map[string]string{"X-User-ID": "u1"}, map[string]string{"language": "pt-BR", "quality": "720p"}))

			Convey("Then it is accepted and queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var resp map[string]any
				decode(w, &resp)
				So(resp["status"], ShouldEqual, "pending")
				So(resp["duplicate"], ShouldEqual, false)

				So(analyses.enqueued, ShouldHaveLength, 1)
				task := analyses.enqueued[0]
				So(task.JobID, ShouldEqual, resp["jobId"])
				So(task.UserID, ShouldEqual, "u1")
				So(task.Language, ShouldEqual, "pt")
				So(task.Quality, ShouldEqual, "720p")
				So(task.MimeType, ShouldEqual, "video/quicktime")
				So(task.Key, ShouldEqual, dedupe.Key("", []byte("rally")))
			})

			Convey("Then the same bytes are recognized as a duplicate", func() {
				var first map[string]any
				decode(w, &first)

				again := serve(upload(t, []byte("rally"), nil, nil))
				So(again.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				decode(again, &resp)
				So(resp["duplicate"], ShouldEqual, true)
				So(resp["jobId"], ShouldEqual, first["jobId"])
				So(analyses.enqueued, ShouldHaveLength, 1)
			})

			Convey("Then the job can be read back", func() {
				var resp map[string]any
				decode(w, &resp)
				got := serve(httptest.NewRequest(http.MethodGet, "/analyses/"+resp["jobId"].(string), nil))
				So(got.Code, ShouldEqual, http.StatusOK)
				So(got.Body.String(), ShouldContainSubstring, `"status":"pending"`)
			})
		})

		Convey("When the same request id is retried with different bytes", func() {
			serve(upload(t, []byte("take-1"), map[string]string{"X-Request-ID": "req-7"}, nil))
			w := serve(upload(t, []byte("take-2"), map[string]string{"X-Request-ID": "req-7"}, nil))

			Convey("Then it is a duplicate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(analyses.enqueued, ShouldHaveLength, 1)
			})
		})

		Convey("When the queue is full", func() {
			analyses.enqueueErr = queue.ErrFull
			w := serve(upload(t, []byte("rally"), nil, nil))

			Convey("Then the upload is refused with 429 and may be retried", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(analyses.Size(), ShouldEqual, 0)

				analyses.enqueueErr = nil
				So(serve(upload(t, []byte("rally"), nil, nil)).Code, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When the queue is closed", func() {
			analyses.enqueueErr = queue.ErrClosed
			w := serve(upload(t, []byte("rally"), nil, nil))

			Convey("Then the upload is refused with 503", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, `"unavailable"`)
				So(analyses.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the job cannot be registered", func() {
			analyses.enqueueErr = errors.New("insert job: disk I/O error")
			w := serve(upload(t, []byte("rally"), nil, nil))

			Convey("Then the upload fails with 500 and may be retried", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldNotContainSubstring, "backpressure")
				So(analyses.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the upload is malformed", func() {
			So(serve(upload(t, nil, nil, map[string]string{"language": "en"})).Code, ShouldEqual, http.StatusBadRequest)
			So(serve(upload(t, []byte{}, nil, nil)).Code, ShouldEqual, http.StatusBadRequest)
			So(serve(upload(t, bytes.Repeat([]byte("x"), 4<<10), nil, nil)).Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		})

		Convey("Given a finished result", func() {
			analyses.results["r1"] = sampleResult()
			analyses.jobs["job-9"] = model.AnalysisJob{ID: "job-9", Status: model.JobCompleted, Result: analyses.results["r1"]}
			analyses.jobs["job-busy"] = model.AnalysisJob{ID: "job-busy", Status: model.JobProcessing}

			Convey("The active event follows the playback time", func() {
				w := serve(httptest.NewRequest(http.MethodGet, "/analyses/r1/active?t=6", nil))
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				decode(w, &resp)
				So(resp["eventId"], ShouldEqual, "e1")
				So(resp["active"], ShouldEqual, true)

				w = serve(httptest.NewRequest(http.MethodGet, "/analyses/job-9/active?t=30", nil))
				decode(w, &resp)
				So(resp["active"], ShouldEqual, false)

				So(serve(httptest.NewRequest(http.MethodGet, "/analyses/r1/active?t=soon", nil)).Code, ShouldEqual, http.StatusBadRequest)
				So(serve(httptest.NewRequest(http.MethodGet, "/analyses/job-busy/active?t=1", nil)).Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("Seeking moves to the event and plays", func() {
				w := serve(httptest.NewRequest(http.MethodGet, "/analyses/r1/seek/e3", nil))
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				decode(w, &resp)
				So(resp["position"], ShouldEqual, 62.0)
				So(resp["playing"], ShouldEqual, true)

				So(serve(httptest.NewRequest(http.MethodGet, "/analyses/r1/seek/nope", nil)).Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("Serve stats count both languages", func() {
				w := serve(httptest.NewRequest(http.MethodGet, "/analyses/r1/serves", nil))
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				decode(w, &resp)
				So(resp["total"], ShouldEqual, 2.0)
				So(resp["rate"], ShouldEqual, 50.0)
			})

			Convey("Unknown ids are 404", func() {
				So(serve(httptest.NewRequest(http.MethodGet, "/analyses/zzz", nil)).Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("History is read for the calling user", func() {
			analyses.history = []*model.AnalysisResult{sampleResult()}
			req := httptest.NewRequest(http.MethodGet, "/history?limit=5", nil)
			req.Header.Set("X-User-ID", "u9")
			w := serve(req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(analyses.historyFor, ShouldEqual, "u9")
			So(w.Body.String(), ShouldContainSubstring, `"id":"r1"`)

			So(serve(httptest.NewRequest(http.MethodGet, "/history?limit=x", nil)).Code, ShouldEqual, http.StatusBadRequest)
			So(serve(httptest.NewRequest(http.MethodGet, "/history?limit=-1", nil)).Code, ShouldEqual, http.StatusBadRequest)

			analyses.history = nil
			So(strings.TrimSpace(serve(httptest.NewRequest(http.MethodGet, "/history", nil)).Body.String()), ShouldEqual, "[]")
		})

		Convey("Live transitions reach the session", func() {
			for _, p := range []string{"/live/open", "/live/start", "/live/close"} {
				So(serve(httptest.NewRequest(http.MethodPost, p, nil)).Code, ShouldEqual, http.StatusOK)
			}
			So(live.calls, ShouldResemble, []string{"open", "start", "close"})

			w := serve(httptest.NewRequest(http.MethodGet, "/live", nil))
			So(w.Body.String(), ShouldContainSubstring, `"state":"idle"`)
		})

		Convey("Stopping returns the result or nothing", func() {
			So(serve(httptest.NewRequest(http.MethodPost, "/live/stop", nil)).Code, ShouldEqual, http.StatusNoContent)

			live.result = sampleResult()
			w := serve(httptest.NewRequest(http.MethodPost, "/live/stop", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"totalEvents":3`)
		})

		Convey("View and mode are validated", func() {
			w := serve(httptest.NewRequest(http.MethodPut, "/live/view", strings.NewReader(`{"view":"side"}`)))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(live.snapshot.View, ShouldEqual, model.ViewSide)

			So(serve(httptest.NewRequest(http.MethodPut, "/live/view", strings.NewReader(`{"view":"drone"}`))).Code, ShouldEqual, http.StatusBadRequest)
			So(serve(httptest.NewRequest(http.MethodPut, "/live/mode", strings.NewReader(`{"mode":"coach"}`))).Code, ShouldEqual, http.StatusOK)
			So(live.snapshot.Mode, ShouldEqual, model.ModeCoach)
			So(serve(httptest.NewRequest(http.MethodPut, "/live/mode", strings.NewReader(`{"mode":"umpire"}`))).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Session errors are mapped and localized", func() {
			live.err = fmt.Errorf("start: %w", model.ErrInvalidTransition)
			req := httptest.NewRequest(http.MethodPost, "/live/start", nil)
			req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")
			w := serve(req)
			So(w.Code, ShouldEqual, http.StatusConflict)
			var resp map[string]string
			decode(w, &resp)
			So(resp["code"], ShouldEqual, "invalid_transition")
			So(resp["message"], ShouldEqual, "Esta ação não está disponível agora.")

			live.err = model.NotFound(fmt.Errorf("handshake"))
			w = serve(httptest.NewRequest(http.MethodPost, "/live/start", nil))
			So(w.Code, ShouldEqual, http.StatusBadGateway)
			decode(w, &resp)
			So(resp["code"], ShouldEqual, "entity_not_found")
			So(resp["message"], ShouldContainSubstring, "Select another key")

			live.err = fmt.Errorf("open: %w", model.ErrPermission)
			So(serve(httptest.NewRequest(http.MethodPost, "/live/open", nil)).Code, ShouldEqual, http.StatusForbidden)
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := fmt.Errorf("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(api.NewKind("api.op", api.ErrNotFound).Error(), ShouldEqual, "api.op: not found")
		So(api.Wrap("api.op", nil), ShouldBeNil)
	})
}
