package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/courtside/internal/adapters/persist"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/timeline"
	"github.com/okian/courtside/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func rally() *model.AnalysisResult {
	acc := 50.0
	return &model.AnalysisResult{
		ID:        "r-1",
		Date:      time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339),
		SportType: "Tennis",
		Summary: model.Summary{
			SuccessRate: 50, ErrorRate: 50, TotalSuccesses: 1, TotalErrors: 1, TotalEvents: 2,
			LineAccuracy: &acc,
		},
		Events: []model.PerformanceEvent{
			{ID: "e1", Timestamp: "0:05", Type: model.EventSuccess, Category: model.CategoryLineCall,
				Description: "ace down the T", IsLineCall: true, CallType: model.CallIn, Movement: "first serve"},
			{ID: "e2", Timestamp: "0:12", Type: model.EventError, Category: model.CategoryLineCall,
				Description: "long second serve", IsLineCall: true, CallType: model.CallOut, Movement: "second serve"},
		},
	}
}

func execute(args ...string) (string, error) {
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRender(t *testing.T) {
	Convey("Given the table helpers", t, func() {
		Convey("Then an empty header renders nothing", func() {
			So(renderTable(nil, [][]string{{"x"}}, nil), ShouldEqual, "")
		})

		Convey("Then short rows are padded", func() {
			out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
			So(out, ShouldContainSubstring, "only")
			So(out, ShouldContainSubstring, "A")
		})

		Convey("Then the active event is marked and unknown calls show a question mark", func() {
			events := rally().Events
			events[1].CallType = ""
			rows := eventRows(events, "e1", false)
			So(rows, ShouldHaveLength, 2)
			So(rows[0][0], ShouldEqual, "▶")
			So(rows[1][0], ShouldEqual, "")
			So(rows[0][2], ShouldEqual, "5")
			So(rows[1][5], ShouldEqual, "?")
		})

		Convey("Then history rows show relative dates", func() {
			r := rally()
			other := rally()
			other.ID = "r-2"
			other.Date = "yesterday"
			other.Summary.LineAccuracy = nil
			rows := historyRows([]*model.AnalysisResult{r, other}, time.Now())
			So(rows[0][0], ShouldEqual, "2 hours ago")
			So(rows[0][4], ShouldEqual, "50%")
			So(rows[0][5], ShouldEqual, "50%")
			So(rows[1][0], ShouldEqual, "yesterday")
			So(rows[1][5], ShouldEqual, "-")
		})

		Convey("Then a result prints its summary and events", func() {
			var buf bytes.Buffer
			printResult(&buf, rally(), false)
			So(buf.String(), ShouldContainSubstring, "Result r-1")
			So(buf.String(), ShouldContainSubstring, "line accuracy 50%")
			So(buf.String(), ShouldContainSubstring, "long second serve")
		})
	})
}

func TestMimeFor(t *testing.T) {
	Convey("Given video file names", t, func() {
		So(mimeFor("rally.mov"), ShouldEqual, "video/mp4")
		So(mimeFor("rally.unknownext"), ShouldEqual, "video/mp4")
	})
}

func TestUserError(t *testing.T) {
	Convey("Given a command context without configuration", t, func() {
		cc := newCommandContext(nil, nil)

		Convey("Then nil and cancellation pass through", func() {
			So(cc.userError(nil), ShouldBeNil)
			So(cc.userError(context.Canceled), ShouldEqual, context.Canceled)
		})

		Convey("Then unclassified errors are unchanged", func() {
			err := errors.New("disk full")
			So(cc.userError(err), ShouldEqual, err)
		})

		Convey("Then known failures are localized but still match", func() {
			err := cc.userError(model.ErrRateLimit)
			So(errors.Is(err, model.ErrRateLimit), ShouldBeTrue)
			So(err.Error(), ShouldNotBeBlank)
		})
	})
}

func TestTimelineCommand(t *testing.T) {
	Convey("Given a saved result file", t, func() {
		data, err := json.Marshal(rally())
		So(err, ShouldBeNil)
		path := writeFile(t, "result.json", data)

		Convey("When asking for a position near an event", func() {
			out, err := execute("timeline", path, "--at", "0:06")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "▶")
		})

		Convey("When asking for a position between events", func() {
			out, err := execute("timeline", path, "--at", "0:09")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "no event at 0:09")
			So(out, ShouldNotContainSubstring, "▶")
		})

		Convey("When printing the serve map", func() {
			out, err := execute("timeline", path, "--serves")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "In rate")
			So(out, ShouldContainSubstring, "50%")
		})

		Convey("When seeking by id", func() {
			out, err := execute("timeline", path, "--seek", "e2")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "playhead at 0:12 (12s)")

			_, err = execute("timeline", path, "--seek", "nope")
			So(errors.Is(err, timeline.ErrUnknownEvent), ShouldBeTrue)
		})

		Convey("When replaying", func() {
			out, err := execute("timeline", path, "--replay", "1s")
			So(err, ShouldBeNil)
			first := strings.Index(out, "ace down the T")
			second := strings.Index(out, "long second serve")
			So(first, ShouldBeGreaterThanOrEqualTo, 0)
			So(second, ShouldBeGreaterThan, first)
		})
	})

	Convey("Given a file without events", t, func() {
		path := writeFile(t, "empty.json", []byte(`{"id":"x","events":[]}`))
		_, err := execute("timeline", path)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "no events")
	})
}

func TestHistoryCommand(t *testing.T) {
	Convey("Given a sqlite history", t, func() {
		ctx := context.Background()
		db := filepath.Join(t.TempDir(), "history.db")
		p, err := persist.OpenSQLite(ctx, db)
		So(err, ShouldBeNil)
		So(p.Save(ctx, "u1", rally()), ShouldBeNil)
		So(p.Close(), ShouldBeNil)

		cfg := writeFile(t, "judge.yaml", []byte("persist_backend: sqlite\nhistory_db: "+db+"\n"))

		Convey("Then the user's results are listed", func() {
			out, err := execute("--config", cfg, "history", "--user", "u1")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "r-1")
			So(out, ShouldContainSubstring, "2 hours ago")
		})

		Convey("Then JSON output decodes", func() {
			out, err := execute("--config", cfg, "history", "--user", "u1", "--json")
			So(err, ShouldBeNil)
			var got []*model.AnalysisResult
			So(json.Unmarshal([]byte(out), &got), ShouldBeNil)
			So(got, ShouldHaveLength, 1)
			So(got[0].Events, ShouldHaveLength, 2)
		})

		Convey("Then another user has nothing", func() {
			out, err := execute("--config", cfg, "history", "--user", "u2")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "no analyses stored")
		})
	})

	Convey("Given history is disabled", t, func() {
		cfg := writeFile(t, "judge.yaml", []byte("persist_backend: none\n"))
		_, err := execute("--config", cfg, "history")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "disabled")
	})
}

type fakeSession struct {
	state   model.SessionState
	events  []model.PerformanceEvent
	lastErr error
	result  *model.AnalysisResult
	calls   []string
}

func (f *fakeSession) Open(context.Context) error {
	f.calls = append(f.calls, "open")
	f.state = model.StatePreviewing
	return nil
}

func (f *fakeSession) Start(context.Context) error {
	f.calls = append(f.calls, "start")
	f.state = model.StateStreaming
	return nil
}

func (f *fakeSession) Stop(context.Context) (*model.AnalysisResult, error) {
	f.calls = append(f.calls, "stop")
	f.state = model.StateIdle
	return f.result, nil
}

func (f *fakeSession) SetView(v model.View) error {
	f.calls = append(f.calls, "view:"+string(v))
	return nil
}

func (f *fakeSession) SetMode(m model.Mode) error {
	f.calls = append(f.calls, "mode:"+string(m))
	return nil
}

func (f *fakeSession) Snapshot() model.SessionSnapshot {
	return model.SessionSnapshot{State: f.state, Events: f.events}
}

func (f *fakeSession) LastError() error { return f.lastErr }

type fakeHistory struct{ results []*model.AnalysisResult }

func (f fakeHistory) History(context.Context, string, int) ([]*model.AnalysisResult, error) {
	return f.results, nil
}

// endsOnStart goes idle as soon as it starts streaming.
type endsOnStart struct{ fakeSession }

func (e *endsOnStart) Start(ctx context.Context) error {
	_ = e.fakeSession.Start(ctx)
	e.state = model.StateIdle
	return nil
}

func TestDriveLive(t *testing.T) {
	Convey("Given a streaming session", t, func() {
		cc := newCommandContext(nil, nil)
		var out, status bytes.Buffer

		Convey("When the user interrupts", func() {
			s := &fakeSession{events: rally().Events, result: rally()}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := driveLive(ctx, cc, s, fakeHistory{}, model.ModeJudge, model.ViewSide, false, &out, &status, time.Millisecond)
			So(err, ShouldBeNil)
			So(s.calls, ShouldResemble, []string{"mode:judge", "open", "view:side", "start", "stop"})
			So(status.String(), ShouldContainSubstring, "ace down the T [IN]")
			So(out.String(), ShouldContainSubstring, "Result r-1")
		})

		Convey("When the session ends on its own", func() {
			s := &endsOnStart{}
			err := driveLive(context.Background(), cc, s, fakeHistory{results: []*model.AnalysisResult{rally()}},
				model.ModeJudge, model.ViewBaseline, true, &out, &status, time.Millisecond)
			So(err, ShouldBeNil)
			var got model.AnalysisResult
			So(json.Unmarshal(out.Bytes(), &got), ShouldBeNil)
			So(got.ID, ShouldEqual, "r-1")
		})

		Convey("When the session failed", func() {
			s := &endsOnStart{fakeSession{lastErr: model.ErrConnection}}
			err := driveLive(context.Background(), cc, s, fakeHistory{}, model.ModeJudge, model.ViewBaseline, false, &out, &status, time.Millisecond)
			So(errors.Is(err, model.ErrConnection), ShouldBeTrue)
		})
	})
}
