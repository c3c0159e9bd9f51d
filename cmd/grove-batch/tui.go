package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattsolo1/grove-batch/internal/store"
)

// refreshInterval is how often the live view repolls the store.
const refreshInterval = 2 * time.Second

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type refreshTickMsg time.Time

type snapshotMsg struct {
	job    *store.Job
	counts map[store.UnitStatus]int
	err    error
}

// statusModel is a minimal bubbletea program that polls the store
// directly rather than going through the HTTP API, since status runs
// alongside the same binary that can open the store file.
type statusModel struct {
	st      *store.Store
	jobID   string
	bar     progress.Model
	job     *store.Job
	counts  map[store.UnitStatus]int
	err     error
	done    bool
	width   int
}

func runStatusTUI(st *store.Store, jobID string) error {
	m := statusModel{
		st:    st,
		jobID: jobID,
		bar:   progress.New(progress.WithDefaultGradient()),
	}
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickAfter(refreshInterval))
}

func (m statusModel) poll() tea.Cmd {
	return func() tea.Msg {
		job, err := m.st.GetJob(m.jobID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		counts, err := m.st.CountUnitsByStatus(m.jobID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{job: job, counts: counts}
	}
}

func tickAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return refreshTickMsg(t) })
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case refreshTickMsg:
		if m.done {
			return m, nil
		}
		return m, tea.Batch(m.poll(), tickAfter(refreshInterval))

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.job, m.counts = msg.job, msg.counts
		switch m.job.Status {
		case store.JobStatusCompleted, store.JobStatusFailed:
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m statusModel) View() string {
	if m.err != nil {
		return styleFailed.Render(fmt.Sprintf("error: %v\n", m.err))
	}
	if m.job == nil {
		return "loading...\n"
	}

	var fraction float64
	if m.job.TotalUnits > 0 {
		fraction = float64(m.job.DisplayCompletedUnits()) / float64(m.job.TotalUnits)
	}

	out := styleTitle.Render(m.job.Name) + "\n"
	out += fmt.Sprintf("status: %s\n", m.job.Status)
	out += m.bar.ViewAs(fraction) + "\n"
	out += fmt.Sprintf("%d/%d units completed, %d failed\n",
		m.job.DisplayCompletedUnits(), m.job.TotalUnits, m.job.FailedUnits)

	if n := m.counts[store.UnitStatusProcessing]; n > 0 {
		out += styleSuccess.Render(fmt.Sprintf("%d processing\n", n))
	}
	if n := m.counts[store.UnitStatusFailed]; n > 0 {
		out += styleFailed.Render(fmt.Sprintf("%d failed\n", n))
	}

	out += styleMuted.Render("q to quit")
	return out
}
