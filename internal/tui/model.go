// Package tui is an optional live view of a run in progress: a
// bubbletea program fed by a channel of interfaces.StageEvent, the
// "external adapter" SPEC_FULL.md describes for the observer protocol
// (spec §4.8). It never participates in pipeline control flow — closing
// its event channel is the only way a run signals it, and the program
// simply stops rendering updates.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/qingrongy/logtmpl/pkg/interfaces"
	"github.com/qingrongy/logtmpl/pkg/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF88"))
)

// eventMsg wraps one observer StageEvent as a bubbletea message.
type eventMsg interfaces.StageEvent

// channelClosedMsg signals the event channel has no more events.
type channelClosedMsg struct{}

// Model renders the running total of stage events for one batch run.
type Model struct {
	events   <-chan interfaces.StageEvent
	progress progress.Model

	libraryID  string
	lastStage  interfaces.StageEventKind
	matched    int
	total      int
	failures   int
	conflicts  int
	newTmpls   int
	lastErr    error
	done       bool
	started    time.Time
	latency    types.MatchLatencySnapshot
}

// New builds a Model that consumes events until the channel closes. The
// caller is responsible for wiring an interfaces.Observer that forwards
// StageEvents onto events (see ChannelObserver).
func New(events <-chan interfaces.StageEvent) Model {
	return Model{
		events:   events,
		progress: progress.New(progress.WithScaledGradient("#00FFFF", "#00FF88"), progress.WithoutPercentage()),
		started:  time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan interfaces.StageEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case eventMsg:
		m.apply(interfaces.StageEvent(msg))
		return m, waitForEvent(m.events)
	case channelClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev interfaces.StageEvent) {
	m.lastStage = ev.Kind
	if ev.LibraryID != "" {
		m.libraryID = ev.LibraryID
	}
	switch ev.Kind {
	case interfaces.StageMatching:
		m.matched += ev.Count
		m.total += ev.Total
	case interfaces.StageUpdate:
		m.newTmpls++
	case interfaces.StageFailure:
		m.failures++
		m.lastErr = ev.Err
	case interfaces.StageBatchProgress:
		m.total = ev.Total
		m.matched = ev.Count
		m.latency = ev.Latency
	}
	if ev.Kind != interfaces.StageFailure && ev.Err == nil {
		_ = ev // this model does not count conflicts
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("logtmpl — live run") + "\n")
	if m.libraryID != "" {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("library: %s", m.libraryID)) + "\n")
	}
	b.WriteString(fmt.Sprintf("stage: %-12s elapsed: %s\n", m.lastStage, time.Since(m.started).Round(time.Second)))

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.matched) / float64(m.total)
	}
	b.WriteString(m.progress.ViewAs(pct) + "\n")

	b.WriteString(successStyle.Render(fmt.Sprintf("matched: %d/%d", m.matched, m.total)) + "  ")
	b.WriteString(fmt.Sprintf("new templates: %d  ", m.newTmpls))
	if m.latency.Count > 0 {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("match latency p50/p95/p99: %s/%s/%s  ",
			time.Duration(m.latency.P50), time.Duration(m.latency.P95), time.Duration(m.latency.P99))))
	}
	if m.failures > 0 {
		b.WriteString(errStyle.Render(fmt.Sprintf("failures: %d", m.failures)))
	}
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("last error: "+m.lastErr.Error()) + "\n")
	}
	if m.done {
		b.WriteString(subtleStyle.Render("\nrun finished\n"))
	} else {
		b.WriteString(subtleStyle.Render("\nq to quit\n"))
	}
	return b.String()
}
