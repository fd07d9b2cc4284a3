// Package tui is an interactive terminal front panel for the emulator.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/state"
)

const (
	refreshInterval = 500 * time.Millisecond
	actionTimeout   = 5 * time.Second
)

// Peripheral is the part of *peripheral.Peripheral the TUI drives.
type Peripheral interface {
	Snapshot(ctx context.Context) (peripheral.Snapshot, error)
	StartAdvertising(ctx context.Context) error
	StopAdvertising(ctx context.Context) error
}

// Model is the Bubbletea model for the emulator front panel.
type Model struct {
	p     Peripheral
	state *state.CaseState

	snap      peripheral.Snapshot
	caseSnap  state.Snapshot
	statusMsg string
	errorMsg  string
	width     int

	keys   KeyMap
	help   help.Model
	styles Styles
}

// snapshotMsg delivers a refreshed peripheral snapshot.
type snapshotMsg struct {
	snap peripheral.Snapshot
	err  error
}

// actionMsg reports the result of a key action.
type actionMsg struct {
	status string
	err    error
}

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// NewModel creates the front panel for p and caseState.
func NewModel(p Peripheral, caseState *state.CaseState) Model {
	return Model{
		p:        p,
		state:    caseState,
		caseSnap: caseState.Snapshot(),
		keys:     DefaultKeyMap(),
		help:     help.New(),
		styles:   DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		snap, err := m.p.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) action(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		status, err := fn(ctx)
		return actionMsg{status: status, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case snapshotMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
			return m, nil
		}
		m.snap = msg.snap
		m.caseSnap = m.state.Snapshot()
		return m, nil

	case actionMsg:
		m.errorMsg = ""
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
		} else {
			m.statusMsg = msg.status
		}
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		return m, m.action(func(context.Context) (string, error) {
			open, err := m.state.Toggle()
			return "case " + openWord(open), err
		})

	case key.Matches(msg, m.keys.Detect):
		return m, m.action(func(context.Context) (string, error) {
			detected := !m.state.IsDetected()
			return fmt.Sprintf("blister pack detected: %v", detected), m.state.SetDetected(detected)
		})

	case key.Matches(msg, m.keys.Advertise):
		advertising := m.snap.Advertising.State == "Advertising"
		return m, m.action(func(ctx context.Context) (string, error) {
			if advertising {
				return "advertising stopped", m.p.StopAdvertising(ctx)
			}
			return "advertising started", m.p.StartAdvertising(ctx)
		})

	case key.Matches(msg, m.keys.Clear):
		return m, m.action(func(context.Context) (string, error) {
			m.state.ClearMessages()
			return "messages cleared", nil
		})
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(s.Title.Render("Cadence Emulator"))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(s.Label.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	onOff := func(on bool, yes, no string) string {
		if on {
			return s.On.Render(yes)
		}
		return s.Off.Render(no)
	}

	row("Case", onOff(m.caseSnap.Open, "OPEN", "CLOSED"))
	row("Opened", s.Value.Render(fmt.Sprintf("%d times", m.caseSnap.OpenCount)))
	row("Blister pack", onOff(m.caseSnap.BlisterDetected, "detected", "absent"))
	row("Advertising", onOff(m.snap.Advertising.State == "Advertising", m.snap.Advertising.Name, "idle"))
	row("Radio", onOff(m.snap.Advertising.Powered, "powered", "off"))

	b.WriteString(s.Header.Render("Characteristics"))
	b.WriteString("\n")
	for _, c := range m.snap.Characteristics {
		value := c.Value
		if value == "" {
			value = "-"
		}
		b.WriteString(fmt.Sprintf("  %-26s %-18s %-12s %s\n",
			c.Name, c.Properties, value, s.Muted.Render(fmt.Sprintf("%d subs", len(c.Subscribers)))))
	}

	b.WriteString(s.Header.Render("Messages"))
	b.WriteString("\n")
	if len(m.caseSnap.Messages) == 0 {
		b.WriteString(s.Muted.Render("  none"))
		b.WriteString("\n")
	}
	for _, msg := range m.caseSnap.Messages {
		b.WriteString("  " + msg + "\n")
	}

	status := m.statusMsg
	if m.errorMsg != "" {
		status = s.Error.Render(m.errorMsg)
	}
	b.WriteString(s.StatusBar.Render(lipgloss.JoinHorizontal(lipgloss.Top,
		fmt.Sprintf("uptime %s  ", m.caseSnap.Uptime), status)))
	b.WriteString("\n")
	b.WriteString(s.Help.Render(m.help.View(m.keys)))

	return s.App.Render(b.String())
}

func openWord(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
