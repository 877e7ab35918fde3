package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/timeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

func eventColor(t model.EventType) string {
	if t == model.EventError {
		return ansiRed
	}
	return ansiGreen
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64) + "%"
}

// eventRows renders events as table rows. The row of activeID is marked.
func eventRows(events []model.PerformanceEvent, activeID string, colorize bool) [][]string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		marker := ""
		if e.ID == activeID && activeID != "" {
			marker = paint("▶", ansiBlue, colorize)
		}
		call := string(e.CallType)
		if e.IsLineCall && call == "" {
			call = "?"
		}
		rows = append(rows, []string{
			marker,
			e.Timestamp,
			strconv.FormatFloat(timeline.ParseTimestamp(e.Timestamp), 'f', 0, 64),
			paint(string(e.Type), eventColor(e.Type), colorize),
			string(e.Category),
			call,
			e.Description,
		})
	}
	return rows
}

// Event table layout.
var eventHeaders = []string{"", "Time", "Sec", "Type", "Category", "Call", "Description"} //nolint:gochecknoglobals

var eventAligns = []columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft} //nolint:gochecknoglobals

// printResult writes a summary block followed by the event table.
func printResult(w io.Writer, r *model.AnalysisResult, colorize bool) {
	s := r.Summary
	fmt.Fprintf(w, "%s  %s  %s\n", paint("Result "+r.ID, ansiBlue, colorize), r.SportType, r.Date)
	fmt.Fprintf(w, "  events %d  successes %s  errors %s  success rate %s\n",
		s.TotalEvents,
		paint(strconv.Itoa(s.TotalSuccesses), ansiGreen, colorize),
		paint(strconv.Itoa(s.TotalErrors), ansiRed, colorize),
		percent(s.SuccessRate),
	)
	if s.LineAccuracy != nil {
		fmt.Fprintf(w, "  line accuracy %s\n", percent(*s.LineAccuracy))
	}
	if sc := s.TechnicalScorecard; sc != nil {
		fmt.Fprintf(w, "  consistency %s  power %s  footwork %s  precision %s\n",
			percent(sc.Consistency), percent(sc.Power), percent(sc.Footwork), percent(sc.Precision))
	}
	if len(r.Events) == 0 {
		fmt.Fprintln(w, paint("  no events recorded", ansiYellow, colorize))
		return
	}
	fmt.Fprintln(w, renderTable(eventHeaders, eventRows(r.Events, "", colorize), eventAligns))
}

// printServes writes the serve map.
func printServes(w io.Writer, s timeline.Serves) {
	if s.Total == 0 {
		fmt.Fprintln(w, "no serves recorded")
		return
	}
	rows := [][]string{{
		strconv.Itoa(s.Total), strconv.Itoa(s.In), strconv.Itoa(s.Out), strconv.Itoa(s.Net), strconv.Itoa(s.Rate) + "%",
	}}
	fmt.Fprintln(w, renderTable([]string{"Serves", "In", "Out", "Net", "In rate"}, rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight}))
}

// historyRows renders stored results newest first with relative dates.
func historyRows(results []*model.AnalysisResult, now time.Time) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		when := r.Date
		if t, err := time.Parse(time.RFC3339, r.Date); err == nil {
			when = humanize.RelTime(t, now, "ago", "from now")
		}
		accuracy := "-"
		if r.Summary.LineAccuracy != nil {
			accuracy = percent(*r.Summary.LineAccuracy)
		}
		rows = append(rows, []string{
			when,
			r.ID,
			strings.TrimSpace(r.SportType),
			strconv.Itoa(r.Summary.TotalEvents),
			percent(r.Summary.SuccessRate),
			accuracy,
		})
	}
	return rows
}
