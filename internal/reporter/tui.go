package reporter

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loopforge/claudeloop/internal/loopstate"
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	runStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pauseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type tickMsg time.Time

// TUIModel is the Bubbletea model for claude-loop's live status view.
type TUIModel struct {
	taskID      string
	getSummary  func() loopstate.Summary
	memoryPaused func() bool
	cancelRun   func()

	summary loopstate.Summary
	frame   int
	width   int
	done    bool
}

// NewTUIModel creates a live TUI model polling getSummary/memoryPaused.
func NewTUIModel(taskID string, getSummary func() loopstate.Summary, memoryPaused func() bool, cancelRun func()) TUIModel {
	return TUIModel{taskID: taskID, getSummary: getSummary, memoryPaused: memoryPaused, cancelRun: cancelRun}
}

// Init implements tea.Model.
func (m TUIModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancelRun != nil {
				m.cancelRun()
			}
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		m.summary = m.getSummary()
		m.frame = (m.frame + 1) % len(spinnerChars)
		if m.summary.Total > 0 && m.summary.Completed+m.summary.Failed == m.summary.Total {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()
	}
	return m, nil
}

// View implements tea.Model.
func (m TUIModel) View() string {
	s := m.summary
	spinner := spinnerChars[m.frame]

	inFlight := s.PromptInProgress + s.AwaitingVerification + s.VerifyInProgress + s.FixupInProgress

	out := headerStyle.Render(fmt.Sprintf("claude-loop %s", m.taskID)) + "\n\n"
	out += fmt.Sprintf("%s  %s %d   %s %d   %s %d   %s %d\n",
		spinner,
		runStyle.Render("in-flight:"), inFlight,
		doneStyle.Render("completed:"), s.Completed,
		failedStyle.Render("failed:"), s.Failed,
		dimStyle.Render("pending:"), s.Pending,
	)
	if m.memoryPaused != nil && m.memoryPaused() {
		out += "\n" + pauseStyle.Render("⏸ paused: host memory pressure") + "\n"
	}
	out += "\n" + helpStyle.Render("press q to stop (in-flight work gets a short grace period to finish)")
	return out
}
