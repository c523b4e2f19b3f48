package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"juptidu/internal/domain"
)

var (
	runLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	fileStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	abortStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

func outcomeStyle(o domain.Outcome) lipgloss.Style {
	switch o {
	case domain.OutcomeSucceeded:
		return okStyle
	case domain.OutcomeFailed:
		return failStyle
	case domain.OutcomeAborted:
		return abortStyle
	default:
		return lipgloss.NewStyle()
	}
}

// fileSummary is the per-file rollup printed under the attempt table.
type fileSummary struct {
	Path     string
	Attempts int
	Last     domain.Outcome
	Elapsed  time.Duration
}

// summarize groups attempts by run and file. The last attempt (highest
// number) decides the final outcome.
func summarize(attempts []domain.Attempt) []fileSummary {
	type key struct{ run, path string }
	byKey := make(map[key]*fileSummary)
	lastNum := make(map[key]int)
	first := make(map[key]time.Time)
	var order []key

	for _, a := range attempts {
		k := key{a.RunID, a.ConfigPath}
		s, ok := byKey[k]
		if !ok {
			s = &fileSummary{Path: a.ConfigPath}
			byKey[k] = s
			order = append(order, k)
			first[k] = a.StartedAt
		}
		s.Attempts++
		if a.StartedAt.Before(first[k]) {
			first[k] = a.StartedAt
		}
		if a.Number >= lastNum[k] {
			lastNum[k] = a.Number
			s.Last = a.Outcome
			s.Elapsed = a.FinishedAt.Sub(first[k])
		}
	}

	out := make([]fileSummary, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// renderAttempts formats one run's attempts as a table followed by the
// per-file summary.
func renderAttempts(runID string, attempts []domain.Attempt, width int) string {
	var b strings.Builder

	label := fmt.Sprintf(" run %s  %d attempts ", runID, len(attempts))
	b.WriteString(runLabelStyle.Width(width).Render(label))
	b.WriteString("\n")

	if len(attempts) == 0 {
		b.WriteString(dimStyle.Render("  (no attempts recorded)"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-19s  %-28s  %3s  %-9s  %4s  %9s  %s",
		"STARTED", "FILE", "#", "OUTCOME", "EXIT", "DURATION", "ERROR")))
	b.WriteString("\n")

	for _, a := range attempts {
		b.WriteString("  ")
		b.WriteString(dimStyle.Render(a.StartedAt.Local().Format("2006-01-02 15:04:05")))
		b.WriteString("  ")
		b.WriteString(fileStyle.Width(28).Render(truncate(filepath.Base(a.ConfigPath), 28)))
		b.WriteString(fmt.Sprintf("  %3d  ", a.Number))
		b.WriteString(outcomeStyle(a.Outcome).Render(fmt.Sprintf("%-9s", a.Outcome)))
		b.WriteString(fmt.Sprintf("  %4d  %9s  ", a.ExitCode, a.Duration().Round(time.Millisecond)))
		b.WriteString(dimStyle.Render(a.Error))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	for _, s := range summarize(attempts) {
		b.WriteString("  ")
		b.WriteString(fileStyle.Render(s.Path))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d attempt(s), %s  ", s.Attempts, s.Elapsed.Round(time.Second))))
		b.WriteString(outcomeStyle(s.Last).Render(string(s.Last)))
		b.WriteString("\n")
	}
	return b.String()
}

// truncate shortens s to at most n terminal cells, ending in an ellipsis
// when cut. Multi-byte characters are never split.
func truncate(s string, n int) string {
	return ansi.Truncate(s, n, "…")
}
