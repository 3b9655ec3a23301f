package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"etikett/internal/models"
	"etikett/internal/service"
)

const progressTick = 250 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers reading the pipeline progress
type tickMsg time.Time

// progressMsg carries a pipeline progress snapshot
type progressMsg service.Progress

// resultMsg carries the outcome of the run
type resultMsg struct {
	report *service.Report
	err    error
}

// runnerModel is the bubbletea model for a classification run.
type runnerModel struct {
	cancel   context.CancelFunc
	resultCh <-chan resultMsg
	pipe     *service.Pipeline
	prog     progress.Model
	theme    Theme
	current  service.Progress
	result   *resultMsg
	quitting bool
}

// newRunnerModel creates a new runner model.
func newRunnerModel(cancel context.CancelFunc, resultCh <-chan resultMsg, pipe *service.Pipeline) runnerModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return runnerModel{
		cancel:   cancel,
		resultCh: resultCh,
		pipe:     pipe,
		prog:     prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial commands (start ticking, wait for the outcome).
func (m runnerModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.waitForResult(),
		m.prog.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m runnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Cancel the run but stay up until the result arrives,
			// so job state is persisted before the screen is gone.
			m.quitting = true
			m.cancel()
			return m, nil
		}

	case tickMsg:
		return m, m.readProgress()

	case progressMsg:
		m.current = service.Progress(msg)
		return m, tickCmd()

	case resultMsg:
		m.result = &msg
		// One last snapshot so the final view has the run ID even when
		// the run ended before the first tick.
		m.current = m.pipe.Progress()
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.prog, cmd = m.prog.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m runnerModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m runnerModel) renderContent() string {
	if m.result != nil {
		return m.finalView()
	}

	cur := m.current
	if cur.Phase == "" {
		return "Starting run...\n"
	}

	// Status line with color
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", cur.Phase))

	bar := m.prog.ViewAs(m.percent())

	counts := fmt.Sprintf("%d pending  %d running  %d succeeded  %d failed  %d expired",
		cur.Counts[models.JobPending],
		cur.Counts[models.JobRunning],
		cur.Counts[models.JobSucceeded],
		cur.Counts[models.JobFailed],
		cur.Counts[models.JobExpired],
	)

	hint := m.theme.hintStyle().Render("Press q to cancel; the run can be resumed.")

	return fmt.Sprintf("%s %s\n%s\n%s\n", status, bar, counts, hint)
}

// percent estimates run completion. During monitoring the settled job
// count is the real signal; the phases around it get fixed fractions.
func (m runnerModel) percent() float64 {
	cur := m.current
	switch cur.Phase {
	case service.PhaseLoading:
		return 0.02
	case service.PhaseChunking:
		return 0.05
	case service.PhaseBuilding:
		return 0.08
	case service.PhaseSubmitting:
		return 0.12
	case service.PhaseMonitoring:
		if cur.Shards == 0 {
			return 0.15
		}
		settled := cur.Counts[models.JobSucceeded] + cur.Counts[models.JobFailed] + cur.Counts[models.JobExpired]
		return 0.15 + 0.8*float64(settled)/float64(cur.Shards)
	case service.PhaseReconciling:
		return 0.96
	case service.PhaseWriting:
		return 0.98
	case service.PhaseDone:
		return 1
	}
	return 0
}

// finalView renders the completion message.
func (m runnerModel) finalView() string {
	if m.result.err != nil {
		if m.quitting || errors.Is(m.result.err, context.Canceled) {
			msg := fmt.Sprintf("\nRun %s interrupted. Resume with 'etikett resume %s'.\n",
				m.current.RunID, m.current.RunID)
			return m.theme.hintStyle().Render(msg)
		}
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Run failed: %v\n", m.result.err))
	}

	r := m.result.report
	var output string
	output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
	output += fmt.Sprintf("  Classified: %d\n", r.Classified)
	output += fmt.Sprintf("  Errors:     %d\n", r.Errors)
	output += fmt.Sprintf("  Missing:    %d\n", r.Missing)
	output += fmt.Sprintf("\n  Results written to %s\n", r.OutputPath)
	return output
}

// readProgress reads the pipeline snapshot.
// Runs as a command to keep Update() non-blocking.
func (m runnerModel) readProgress() tea.Cmd {
	return func() tea.Msg {
		return progressMsg(m.pipe.Progress())
	}
}

// waitForResult blocks until the run goroutine delivers its outcome.
func (m runnerModel) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return <-m.resultCh
	}
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(progressTick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWithProgress executes fn under an interactive progress view and
// prints the final report. Cancelling the view cancels the run context;
// the run itself decides how to wind down.
func runWithProgress(ctx context.Context, pipe *service.Pipeline, fn func(context.Context) (*service.Report, error)) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan resultMsg, 1)
	go func() {
		report, err := fn(runCtx)
		resultCh <- resultMsg{report: report, err: err}
	}()

	model := newRunnerModel(cancel, resultCh, pipe)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(runnerModel); ok && m.result != nil && m.result.err != nil {
		// A cancelled run is not a failure; it resumes later.
		if m.quitting || errors.Is(m.result.err, context.Canceled) {
			return nil
		}
		return m.result.err
	}
	return nil
}
