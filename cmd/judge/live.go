package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/courtside/internal/app"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

const livePollInterval = 500 * time.Millisecond

func newLiveCommand(ctx *commandContext) *cobra.Command {
	var mode string
	var view string
	var duration time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run a live judge or voice coach session from the local camera",
		Long: "Opens the camera, streams it to the live model and prints calls as they are logged.\n" +
			"Press Ctrl+C to stop and print the session result.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Context())
			if err != nil {
				return err
			}
			m := model.Mode(mode)
			if m != model.ModeJudge && m != model.ModeCoach {
				return fmt.Errorf("unknown mode %q (judge, coach)", mode)
			}
			v, ok := model.ParseView(view)
			if !ok {
				return fmt.Errorf("unknown view %q (baseline, side, high)", view)
			}
			local := *cfg
			if duration > 0 {
				local.MaxSessionSeconds = int(duration.Round(time.Second) / time.Second)
			}

			svc := app.New(app.WithConfig(local), app.WithLogger(logger.Get().Named("service")))
			if err := svc.Start(cmd.Context()); err != nil {
				return err
			}
			defer svc.Stop()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runLive(sigCtx, ctx, svc, m, v, asJSON, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(model.ModeJudge), "Session mode: judge or coach")
	cmd.Flags().StringVar(&view, "view", string(model.ViewBaseline), "Camera view: baseline, side or high")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop automatically after this long (0 runs until Ctrl+C)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// liveSession is the part of the session controller the command drives.
type liveSession interface {
	Open(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*model.AnalysisResult, error)
	SetView(view model.View) error
	SetMode(mode model.Mode) error
	Snapshot() model.SessionSnapshot
	LastError() error
}

// historySource finds results of sessions that ended on their own.
type historySource interface {
	History(ctx context.Context, userID string, limit int) ([]*model.AnalysisResult, error)
}

func runLive(ctx context.Context, cc *commandContext, svc *app.Service, mode model.Mode, view model.View, asJSON bool, out, status io.Writer) error {
	return driveLive(ctx, cc, svc.Live(), svc, mode, view, asJSON, out, status, livePollInterval)
}

// driveLive runs one session until ctx ends or the session stops itself,
// echoing new calls and transcript as they arrive.
func driveLive(ctx context.Context, cc *commandContext, s liveSession, history historySource, mode model.Mode, view model.View, asJSON bool, out, status io.Writer, poll time.Duration) error {
	colorize := shouldColorize(status)
	bg := context.WithoutCancel(ctx)

	if err := s.SetMode(mode); err != nil {
		return cc.userError(err)
	}
	if err := s.Open(bg); err != nil {
		return cc.userError(err)
	}
	if err := s.SetView(view); err != nil {
		_, _ = s.Stop(bg)
		return cc.userError(err)
	}
	if err := s.Start(bg); err != nil {
		_, _ = s.Stop(bg)
		return cc.userError(err)
	}
	fmt.Fprintf(status, "%s %s mode, %s view. Press Ctrl+C to stop.\n", paint("streaming", ansiGreen, colorize), mode, view)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	seen := 0
	transcript := ""
	for {
		snap := s.Snapshot()
		seen = echoEvents(status, snap.Events, seen, colorize)
		if mode == model.ModeCoach && snap.Transcript != transcript {
			transcript = snap.Transcript
			fmt.Fprintf(status, "%s %s\n", paint("coach:", ansiBlue, colorize), transcript)
		}
		if snap.State == model.StateIdle {
			// Ended by the duration bound or a connection failure.
			if err := s.LastError(); err != nil {
				return cc.userError(err)
			}
			result, err := latest(bg, history)
			if err != nil {
				return err
			}
			return emitResult(out, result, asJSON)
		}

		select {
		case <-ctx.Done():
			result, err := s.Stop(bg)
			if err != nil {
				return cc.userError(err)
			}
			if result == nil {
				fmt.Fprintln(status, "nothing was streaming")
				return nil
			}
			return emitResult(out, result, asJSON)
		case <-ticker.C:
		}
	}
}

func echoEvents(w io.Writer, events []model.PerformanceEvent, seen int, colorize bool) int {
	for ; seen < len(events); seen++ {
		e := events[seen]
		line := fmt.Sprintf("%5s  %-7s %-10s %s", e.Timestamp, e.Type, e.Category, e.Description)
		if e.CallType != "" {
			line += " [" + string(e.CallType) + "]"
		}
		fmt.Fprintln(w, paint(line, eventColor(e.Type), colorize))
	}
	return seen
}

func latest(ctx context.Context, history historySource) (*model.AnalysisResult, error) {
	results, err := history.History(ctx, app.LiveUserID, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("session ended without a result")
	}
	return results[0], nil
}

func emitResult(out io.Writer, result *model.AnalysisResult, asJSON bool) error {
	if asJSON {
		return writeJSON(out, result)
	}
	printResult(out, result, shouldColorize(out))
	return nil
}
