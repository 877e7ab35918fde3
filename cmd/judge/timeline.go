package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/timeline"
)

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	var at string
	var seek string
	var serves bool
	var replay time.Duration

	cmd := &cobra.Command{
		Use:   "timeline <result.json>",
		Short: "Inspect the events of a saved analysis against playback time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := loadResult(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rec := timeline.NewReconciler(result.Events)

			switch {
			case serves:
				printServes(out, timeline.ServeStats(result.Events))
				return nil
			case seek != "":
				head := timeline.NewPlayhead(timelineEnd(result.Events))
				pos, err := timeline.SeekByID(head, result, seek)
				if err != nil {
					return fmt.Errorf("seek %s: %w", seek, err)
				}
				active, _ := rec.At(pos)
				fmt.Fprintf(out, "playhead at %s (%.0fs)\n", timeline.FormatTimestamp(seconds(pos)), pos)
				fmt.Fprintln(out, renderTable(eventHeaders, eventRows(rec.Events(), active, colorize), eventAligns))
				return nil
			case replay > 0:
				return replayTimeline(out, rec, replay, colorize)
			}

			active := ""
			if at != "" {
				t := timeline.ParseTimestamp(at)
				active, _ = rec.At(t)
				if active == "" {
					fmt.Fprintf(out, "no event at %s\n", at)
				}
			}
			fmt.Fprintln(out, renderTable(eventHeaders, eventRows(rec.Events(), active, colorize), eventAligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Mark the event active at this position (m:ss)")
	cmd.Flags().StringVar(&seek, "seek", "", "Seek to the event with this id")
	cmd.Flags().BoolVar(&serves, "serves", false, "Print the serve map")
	cmd.Flags().DurationVar(&replay, "replay", 0, "Step through the timeline in this increment and print each active change")
	return cmd
}

func loadResult(path string) (*model.AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r model.AnalysisResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(r.Events) == 0 {
		return nil, errors.New(path + ": result has no events")
	}
	return &r, nil
}

// timelineEnd is a little past the last event so the final window closes.
func timelineEnd(events []model.PerformanceEvent) float64 {
	end := 0.0
	for _, e := range events {
		end = math.Max(end, timeline.ParseTimestamp(e.Timestamp))
	}
	return end + 3
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// replayTimeline advances a playhead from 0 to the end and prints every
// change of the active event.
func replayTimeline(w io.Writer, rec *timeline.Reconciler, step time.Duration, colorize bool) error {
	head := timeline.NewPlayhead(timelineEnd(rec.Events()))
	if err := head.Play(); err != nil {
		return err
	}
	byID := make(map[string]model.PerformanceEvent, len(rec.Events()))
	for _, e := range rec.Events() {
		byID[e.ID] = e
	}

	last := ""
	for pos := head.CurrentTime(); ; pos = head.Advance(step.Seconds()) {
		id, _ := rec.At(pos)
		if id != last {
			stamp := timeline.FormatTimestamp(seconds(pos))
			if id == "" {
				fmt.Fprintf(w, "%6s  -\n", stamp)
			} else {
				e := byID[id]
				fmt.Fprintf(w, "%6s  %s\n", stamp, paint(e.Description, eventColor(e.Type), colorize))
			}
			last = id
		}
		if !head.Playing() {
			return nil
		}
	}
}
