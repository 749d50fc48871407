// ABOUTME: Terminal UI model
// ABOUTME: Renders the roster, levels and music progress; writes controls
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/SuperKenVery/wifi-party-go/internal/party"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	selStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
)

type tickMsg time.Time

// Model is the bubbletea model over shared state. The UI writes only
// volume, enable flags and music controls; everything else is read-mostly.
type Model struct {
	st       *state.AppState
	p        *party.Party
	selected int
	hosts    []state.HostInfo
	quitting bool
}

// New creates the TUI model.
func New(st *state.AppState, p *party.Party) Model {
	return Model{st: st, p: p}
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles key input and refresh ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.hosts = m.st.Snapshot()
		if m.selected >= len(m.hosts) {
			m.selected = 0
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "m":
			m.st.MicEnabled.Toggle()
		case "s":
			m.st.SystemEnabled.Toggle()
		case "l":
			m.st.LoopbackEnabled.Toggle()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.hosts)-1 {
				m.selected++
			}
		case "e":
			if h := m.selectedHost(); h != nil {
				h.Enabled.Toggle()
			}
		case "+", "=":
			if h := m.selectedHost(); h != nil {
				v := h.Volume.Get() + 0.1
				if v > 2.0 {
					v = 2.0
				}
				h.Volume.Set(v)
			}
		case "-":
			if h := m.selectedHost(); h != nil {
				v := h.Volume.Get() - 0.1
				if v < 0 {
					v = 0
				}
				h.Volume.Set(v)
			}
		case " ":
			if ms := m.p.Music(); ms != nil && !ms.Done() {
				ms.Pause()
			}
		}
	}
	return m, nil
}

func (m Model) selectedHost() *state.HostEntry {
	if m.selected >= len(m.hosts) {
		return nil
	}
	return m.st.Host(m.hosts[m.selected].ID)
}

// View renders the party dashboard.
func (m Model) View() string {
	if m.quitting {
		return "bye\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Wi-Fi Party"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s", m.st.LocalHost)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Local"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  mic %s %s   system %s %s   monitor %s\n",
		flag(m.st.MicEnabled.Get()), levelBar(m.st.MicLevel.Get()),
		flag(m.st.SystemEnabled.Get()), levelBar(m.st.SystemLevel.Get()),
		flag(m.st.LoopbackEnabled.Get())))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("Participants (%d)", len(m.hosts))))
	b.WriteString("\n")
	if len(m.hosts) == 0 {
		b.WriteString(dimStyle.Render("  nobody else yet\n"))
	}
	for i, h := range m.hosts {
		line := fmt.Sprintf("  %-18s vol %.1f %s", h.ID, h.Volume, flag(h.Enabled))
		for _, s := range h.Streams {
			line += fmt.Sprintf("  [%s %s jitter %dms loss %.1f%%]",
				s.Kind, levelBar(s.Level), s.TargetLatencyMs, s.LossPercent)
		}
		if i == m.selected {
			line = selStyle.Render(">" + line[1:])
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	if title := m.st.Music.Title(); title != "" {
		sent := m.st.Music.SentFrames.Load()
		total := m.st.Music.TotalFrames.Load()
		b.WriteString(headerStyle.Render("Music"))
		b.WriteString(fmt.Sprintf("  %s  %d/%d\n\n", title, sent, total))
	}

	b.WriteString(dimStyle.Render("m mic · s system · l monitor · ↑↓ select · +/- volume · e enable · q quit\n"))
	return b.String()
}

func flag(on bool) string {
	if on {
		return onStyle.Render("on")
	}
	return offStyle.Render("off")
}

// levelBar renders a 0-100 level as a small meter.
func levelBar(level float32) string {
	const width = 8
	filled := int(level) * width / 100
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("·", width-filled) + "]"
}
