// Package ui renders the Orchestrator's published model: a session list
// with live status and a count of tasks still open to claim. It keeps
// to a minimal keymap and leaves any richer tree-view widget or add-task
// dialog to the CLI glue.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"

	"github.com/kbtz/kbtz-workspace/lifecycle"
	"github.com/kbtz/kbtz-workspace/orchestrator"
)

// pollInterval drives the periodic re-snapshot of the Orchestrator's
// model; it is independent of (and slower than) the Orchestrator's own
// Tick cadence, which runs regardless of whether a UI is attached.
const pollInterval = 150 * time.Millisecond

type tickMsg time.Time

func pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea program that renders one Orchestrator's state.
// It never mutates the Orchestrator beyond SetDisplayed, which only moves
// the raw-output forwarding flag and touches nothing the lifecycle engine
// reasons about.
type Model struct {
	orch     *orchestrator.Orchestrator
	snapshot orchestrator.Model
	cursor   int
	width    int
	height   int
	quitting bool
}

// New returns a Model bound to orch, ready to hand to tea.NewProgram.
func New(orch *orchestrator.Orchestrator) Model {
	return Model{orch: orch, snapshot: orch.Snapshot()}
}

func (m Model) Init() tea.Cmd {
	return pollCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		m.snapshot = m.orch.Snapshot()
		return m, pollCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.orch.SetDisplayed("")
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.snapshot.Sessions)-1 {
				m.cursor++
			}
			return m, nil
		case "enter":
			if m.cursor >= 0 && m.cursor < len(m.snapshot.Sessions) {
				m.orch.SetDisplayed(m.snapshot.Sessions[m.cursor].ID)
			}
			return m, nil
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %d claimable\n\n", TreeLabelStyle.Render("kbtz-workspace"), m.snapshot.ClaimableCount)

	if len(m.snapshot.Sessions) == 0 {
		b.WriteString(MutedStyle.Render("no active sessions") + "\n")
		return b.String()
	}

	for i, sess := range m.snapshot.Sessions {
		row := fmt.Sprintf("%-10s %-20s %s", sess.ID, sess.TaskName, statusStyle(sess.Status).Render(string(sess.Status)))
		if m.width > 0 {
			row = truncateRow(row, m.width)
		}
		if i == m.cursor {
			row = TreeSelectedStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}
	return b.String()
}

// truncateRow clips an already-styled row to width columns, measuring by
// visible cell width rather than byte length so embedded SGR sequences
// don't get cut mid-escape.
func truncateRow(row string, width int) string {
	if lipgloss.Width(row) <= width {
		return row
	}
	return ansi.Truncate(row, width, "…")
}

func statusStyle(status lifecycle.SessionStatus) lipgloss.Style {
	switch status {
	case lifecycle.StatusStarting:
		return StatusStarting
	case lifecycle.StatusActive:
		return StatusActive
	case lifecycle.StatusIdle:
		return StatusIdle
	case lifecycle.StatusNeedsInput:
		return StatusNeedsInput
	case lifecycle.StatusDead:
		return StatusDead
	default:
		return TreeLabelStyle
	}
}
