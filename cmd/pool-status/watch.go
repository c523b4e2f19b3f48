package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"juptidu/internal/status"
)

// Styles.
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	fileStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

// Messages.
type stateMsg struct {
	path  string
	state status.State
}

type watchErrMsg struct {
	path string
	err  error
}

type watchModel struct {
	paths   []string
	states  map[string]status.State
	errs    map[string]error
	spinner spinner.Model
	width   int
}

func newWatchModel(paths []string) watchModel {
	states := make(map[string]status.State, len(paths))
	for _, p := range paths {
		states[p] = status.StateUnknown
	}
	return watchModel{
		paths:   paths,
		states:  states,
		errs:    make(map[string]error),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(pendingStyle)),
		width:   80,
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case stateMsg:
		m.states[msg.path] = msg.state
		delete(m.errs, msg.path)
		if m.done() == len(m.paths) {
			return m, tea.Quit
		}

	case watchErrMsg:
		m.errs[msg.path] = msg.err
		// Every stream gone means the supervisor went away.
		if len(m.errs) == len(m.paths) {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) done() int {
	n := 0
	for _, p := range m.paths {
		if m.states[p] == status.StateDone {
			n++
		}
	}
	return n
}

// exitCode mirrors report: done, pending, or unreachable.
func (m watchModel) exitCode() int {
	switch {
	case m.done() == len(m.paths):
		return ExitDone
	case len(m.errs) > 0:
		return ExitUnreachable
	default:
		return ExitPending
	}
}

func (m watchModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf(" pool-download  %d/%d files downloaded ", m.done(), len(m.paths))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	for _, p := range m.paths {
		var mark, label string
		switch {
		case m.errs[p] != nil:
			mark = errStyle.Render("x")
			label = errStyle.Render(fmt.Sprintf("%-11s", "unreachable"))
		case m.states[p] == status.StateDone:
			mark = doneStyle.Render("✓")
			label = doneStyle.Render(fmt.Sprintf("%-11s", string(status.StateDone)))
		case m.states[p] == status.StatePending:
			mark = m.spinner.View()
			label = pendingStyle.Render(fmt.Sprintf("%-11s", string(status.StatePending)))
		default:
			mark = unknownStyle.Render("?")
			label = unknownStyle.Render(fmt.Sprintf("%-11s", string(status.StateUnknown)))
		}
		b.WriteString(fmt.Sprintf(" %s %s %s\n", mark, label, fileStyle.Render(p)))
	}

	b.WriteString(footerStyle.Width(m.width).Render(" q quit"))
	b.WriteString("\n")
	return b.String()
}

// watchFiles opens one health Watch stream per file and renders their
// states until every file is done, all streams fail, or the user quits.
func watchFiles(ctx context.Context, c *status.Client, paths []string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWatchModel(paths), tea.WithOutput(stdout), tea.WithContext(ctx))

	for _, path := range paths {
		path := path
		go func() {
			err := c.Watch(ctx, path, func(st status.State) {
				p.Send(stateMsg{path: path, state: st})
			})
			if err != nil && ctx.Err() == nil {
				p.Send(watchErrMsg{path: path, err: err})
			}
		}()
	}

	final, err := p.Run()
	cancel()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUnreachable
	}
	return final.(watchModel).exitCode()
}
