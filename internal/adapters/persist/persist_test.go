package persist_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/courtside/internal/adapters/persist"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func result(id, date string) *model.AnalysisResult {
	r := scoring.NewResult([]model.PerformanceEvent{
		{ID: id + "-1", Timestamp: "0:04", Type: model.EventSuccess, Category: model.CategoryFootwork, Description: "split step"},
		{ID: id + "-2", Timestamp: "0:09", Type: model.EventError, Category: model.CategoryLineCall, Description: "long", CallType: model.CallOut, IsLineCall: true},
	}, time.Now())
	r.ID = id
	r.Date = date
	return r
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	Convey("Given backend settings", t, func() {
		Convey("An empty backend is a no-op", func() {
			p, err := persist.New(ctx, persist.Settings{})
			So(err, ShouldBeNil)
			So(p.Name(), ShouldEqual, persist.BackendNone)
		})

		Convey("PostgREST needs a url and key", func() {
			_, err := persist.New(ctx, persist.Settings{Backend: persist.BackendPostgrest})
			So(errors.Is(err, persist.ErrNotConfigured), ShouldBeTrue)
		})

		Convey("SQLite needs a path", func() {
			_, err := persist.New(ctx, persist.Settings{Backend: persist.BackendSQLite})
			So(errors.Is(err, persist.ErrNotConfigured), ShouldBeTrue)
		})

		Convey("Unknown backends are rejected", func() {
			_, err := persist.New(ctx, persist.Settings{Backend: "mongo"})
			So(errors.Is(err, persist.ErrUnknownBackend), ShouldBeTrue)
		})
	})
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh history database", t, func() {
		path := filepath.Join(t.TempDir(), "nested", "history.db")
		p, err := persist.OpenSQLite(ctx, path)
		So(err, ShouldBeNil)
		Reset(func() { _ = p.Close() })

		So(p.Save(ctx, "u1", result("old", "2025-01-01T10:00:00Z")), ShouldBeNil)
		So(p.Save(ctx, "u1", result("new", "2025-02-01T10:00:00Z")), ShouldBeNil)
		So(p.Save(ctx, "u2", result("theirs", "2025-03-01T10:00:00Z")), ShouldBeNil)

		Convey("History is per user and newest first", func() {
			h, err := p.History(ctx, "u1", 0)
			So(err, ShouldBeNil)
			So(h, ShouldHaveLength, 2)
			So(h[0].ID, ShouldEqual, "new")
			So(h[1].ID, ShouldEqual, "old")
			So(h[0].Summary.TotalEvents, ShouldEqual, 2)
			So(h[0].Events[1].CallType, ShouldEqual, model.CallOut)
		})

		Convey("A limit caps the history", func() {
			h, err := p.History(ctx, "u1", 1)
			So(err, ShouldBeNil)
			So(h, ShouldHaveLength, 1)
			So(h[0].ID, ShouldEqual, "new")
		})

		Convey("Saving the same id again replaces the row", func() {
			again := result("old", "2025-01-01T10:00:00Z")
			again.SportType = "padel"
			So(p.Save(ctx, "u1", again), ShouldBeNil)
			h, _ := p.History(ctx, "u1", 0)
			So(h, ShouldHaveLength, 2)
			So(h[1].SportType, ShouldEqual, "padel")
		})

		Convey("Reopening keeps the data and skips applied migrations", func() {
			So(p.Close(), ShouldBeNil)
			reopened, err := persist.OpenSQLite(ctx, path)
			So(err, ShouldBeNil)
			defer reopened.Close()
			h, err := reopened.History(ctx, "u2", 0)
			So(err, ShouldBeNil)
			So(h, ShouldHaveLength, 1)
		})
	})
}

func TestPostgrest(t *testing.T) {
	ctx := context.Background()

	Convey("Given a PostgREST endpoint", t, func() {
		var mu sync.Mutex
		var requests []*http.Request
		var bodies []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			requests = append(requests, r)
			bodies = append(bodies, string(body))
			mu.Unlock()

			switch r.Method {
			case http.MethodPost:
				w.WriteHeader(http.StatusCreated)
			case http.MethodGet:
				data, _ := json.Marshal(result("r9", "2025-02-01T10:00:00Z"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[{"data":` + string(data) + `}]`))
			}
		}))
		Reset(srv.Close)

		p, err := persist.NewPostgrest(srv.URL+"/", "service-key")
		So(err, ShouldBeNil)

		Convey("Save upserts a row keyed by id", func() {
			So(p.Save(ctx, "u1", result("r1", "2025-01-01T10:00:00Z")), ShouldBeNil)

			mu.Lock()
			defer mu.Unlock()
			So(requests, ShouldHaveLength, 1)
			r := requests[0]
			So(r.Method, ShouldEqual, http.MethodPost)
			So(r.URL.Path, ShouldEqual, "/rest/v1/"+persist.ResultsTable)
			So(r.Header.Get("apikey"), ShouldEqual, "service-key")
			So(r.Header.Get("Authorization"), ShouldEqual, "Bearer service-key")
			So(r.Header.Get("Prefer"), ShouldContainSubstring, "merge-duplicates")

			var row map[string]any
			So(json.Unmarshal([]byte(bodies[0]), &row), ShouldBeNil)
			So(row["id"], ShouldEqual, "r1")
			So(row["user_id"], ShouldEqual, "u1")
			So(row["created_at"], ShouldStartWith, "2025-01-01T10:00:00")
			data, ok := row["data"].(map[string]any)
			So(ok, ShouldBeTrue)
			So(data["sportType"], ShouldEqual, scoring.DefaultSportType)
		})

		Convey("History filters by user and orders newest first", func() {
			h, err := p.History(ctx, "u1", 5)
			So(err, ShouldBeNil)
			So(h, ShouldHaveLength, 1)
			So(h[0].ID, ShouldEqual, "r9")

			mu.Lock()
			defer mu.Unlock()
			q := requests[0].URL.RawQuery
			So(q, ShouldContainSubstring, "user_id=eq.u1")
			So(strings.Contains(q, "order=created_at.desc"), ShouldBeTrue)
		})
	})
}

type countingPersister struct {
	mu    sync.Mutex
	saved []string
	fail  bool
	delay time.Duration
}

func (c *countingPersister) Save(ctx context.Context, _ string, r *model.AnalysisResult) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.fail {
		return errors.New("backend down")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, r.ID)
	return nil
}

func (c *countingPersister) History(context.Context, string, int) ([]*model.AnalysisResult, error) {
	return nil, nil
}

func (c *countingPersister) Name() string { return "counting" }
func (c *countingPersister) Close() error { return nil }

func TestAsync(t *testing.T) {
	Convey("Given an async dispatcher", t, func() {
		backend := &countingPersister{delay: 20 * time.Millisecond}
		a := persist.NewAsync(backend, persist.WithLogger(logger.Nop()))

		Convey("Save returns before the backend finishes", func() {
			start := time.Now()
			a.Save("u1", result("r1", ""))
			So(time.Since(start), ShouldBeLessThan, 20*time.Millisecond)

			So(a.Close(context.Background()), ShouldBeNil)
			So(backend.saved, ShouldResemble, []string{"r1"})
		})

		Convey("Saves after close are dropped", func() {
			So(a.Close(context.Background()), ShouldBeNil)
			a.Save("u1", result("r2", ""))
			So(backend.saved, ShouldBeEmpty)
		})

		Convey("Backend failures are swallowed", func() {
			backend.fail = true
			a.Save("u1", result("r3", ""))
			So(a.Close(context.Background()), ShouldBeNil)
			So(backend.saved, ShouldBeEmpty)
		})
	})

	Convey("Given the no-op backend", t, func() {
		a := persist.NewAsync(persist.Nop{})
		a.Save("u1", result("r1", ""))
		So(a.Close(context.Background()), ShouldBeNil)
	})
}
