package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/reviewradar/reviewradar/internal/client"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/service"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Skip    lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Skip:    lipgloss.Color("#D7AF00"), // amber
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) skipStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Skip)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *client.Job
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	client   *client.Client
	jobID    string
	job      *client.Job
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, job *client.Job) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		jobID:    job.JobID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		switch m.job.Status {
		case service.JobStatusCompleted, service.JobStatusCancelled:
			m.done = true
			return m, tea.Quit
		case service.JobStatusFailed:
			m.done = true
			if m.job.Error != "" {
				m.err = fmt.Errorf("%s", m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// settled counts item runs that reached a terminal state.
func settled(runs map[string]*service.ItemRun) int {
	n := 0
	for _, run := range runs {
		switch run.Status {
		case service.ItemStatusSucceeded, service.ItemStatusFailed, service.ItemStatusSkipped:
			n++
		}
	}
	return n
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	total := len(m.job.Items)
	doneItems := settled(m.job.Runs)
	var pct float64
	if total > 0 {
		pct = float64(doneItems) / float64(total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d items", doneItems, total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	out := fmt.Sprintf("%s %s %s\n", status, progressBar, counts)
	out += m.itemLines()
	out += hint + "\n"
	return out
}

// itemLines renders one line per item in submission order.
func (m progressModel) itemLines() string {
	var out string
	for _, id := range m.job.Items {
		run, ok := m.job.Runs[id]
		if !ok {
			continue
		}
		var line string
		switch run.Status {
		case service.ItemStatusSucceeded:
			line = m.theme.completedStyle().Render("✓") + " " + id
		case service.ItemStatusFailed:
			line = m.theme.errorStyle().Render("✗") + " " + id
			if run.Error != "" {
				line += m.theme.hintStyle().Render("  " + run.Error)
			}
		case service.ItemStatusSkipped:
			line = m.theme.skipStyle().Render("-") + " " + id
		case service.ItemStatusInProgress:
			line = m.theme.statusStyle().Render("›") + " " + id
			if run.Stage != "" {
				stage := run.Stage
				if run.Attempt > 1 {
					stage = fmt.Sprintf("%s (attempt %d)", stage, run.Attempt)
				}
				line += m.theme.hintStyle().Render("  " + stage)
			}
		default:
			line = m.theme.hintStyle().Render("·") + " " + id
		}
		out += "  " + line + "\n"
	}
	return out
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'reviewradar jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil && m.job.Status == service.JobStatusCancelled {
		return m.theme.skipStyle().Render("\n- Job cancelled\n") + renderSummary(m.job.Summary)
	}

	if m.job != nil && m.job.Summary != nil {
		return m.theme.completedStyle().Render("\n✓ Completed") + "\n" + renderSummary(m.job.Summary)
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// renderSummary formats the batch rollup for terminal output.
func renderSummary(s *report.Summary) string {
	if s == nil {
		return ""
	}
	out := fmt.Sprintf("\n  Items:     %d\n  Succeeded: %d\n  Failed:    %d\n  Skipped:   %d\n  Elapsed:   %.1fs\n",
		s.Count, s.Succeeded, s.Failed, s.Skipped, s.Elapsed)

	entries := append([]report.SummaryEntry(nil), s.Results...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })
	for _, e := range entries {
		out += fmt.Sprintf("\n  %s [%s]", e.ItemID, e.Status)
		if e.Title != "" {
			out += " " + e.Title
		}
		if e.ReviewsExtracted > 0 {
			out += fmt.Sprintf(" (%d reviews)", e.ReviewsExtracted)
		}
	}
	if len(entries) > 0 {
		out += "\n"
	}
	return out
}

// fetchJob fetches the current job status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(c *client.Client, job *client.Job) error {
	model := newProgressModel(c, job)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// Ctrl+C leaves the job running in the background, not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
