// Package tui provides a Bubble Tea dashboard that watches the bridge: the
// slot table, daemon health, and the tail of the daemon log, refreshed live.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("82")).
		Bold(true)

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	slotBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("237")).
			Padding(0, 1).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Snapshot ─────────────────

// SlotRow is one active session as shown in the dashboard.
type SlotRow struct {
	Ordinal    int
	Project    string
	TopicName  string
	SessionKey string
	ThreadID   int64
	StartedAt  time.Time
}

// Snapshot is everything the dashboard shows for one refresh.
type Snapshot struct {
	Configured bool
	DaemonUp   bool
	DaemonPID  int
	Slots      []SlotRow
	LogLines   []string
	TakenAt    time.Time
}

// Loader produces a fresh snapshot; the dashboard calls it once per tick.
type Loader func() (Snapshot, error)

// ── Model ────────────────────

const refreshEvery = time.Second

type tickMsg time.Time

// Model is the root Bubble Tea model for the watch dashboard.
type Model struct {
	load     Loader
	snap     Snapshot
	loadErr  error
	logView  viewport.Model
	follow   bool
	width    int
	height   int
	ready    bool
	refreshN int
}

// New creates a dashboard model around a snapshot loader.
func New(load Loader) Model {
	m := Model{load: load, follow: true}
	m.reload()
	return m
}

func (m *Model) reload() {
	snap, err := m.load()
	m.loadErr = err
	if err == nil {
		m.snap = snap
		m.refreshN++
	}
}

// ── Bubble Tea interface ───────────────

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.reload()
			m.refreshLogViewport()
			return m, nil
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.logView.GotoBottom()
			}
			return m, nil
		}
		// Scrolling by hand turns follow off until it is re-armed.
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		if m.logView.ScrollPercent() < 1 {
			m.follow = false
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initLogViewport()
		return m, nil

	case tickMsg:
		m.reload()
		if m.ready {
			m.refreshLogViewport()
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  afk  Telegram bridge")
	header := m.renderHeader()
	slots := m.renderSlots()
	logHead := sectionHeader.Render("  Daemon log")
	logBody := m.logView.View()

	hint := "  r refresh  f follow  ↑/↓ scroll  q quit"
	stamp := m.snap.TakenAt.Format("15:04:05")
	if m.loadErr != nil {
		stamp = "load error"
	}
	pad := m.width - lipgloss.Width(hint) - len(stamp) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + stamp)

	return lipgloss.JoinVertical(lipgloss.Left, title, header, slots, logHead, logBody, statusBar)
}

// ── Sections ─────────────────────────────

func (m Model) renderHeader() string {
	var sb strings.Builder
	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-12s", label)) + "  " + value + "\n")
	}

	bot := okStyle.Render("configured")
	if !m.snap.Configured {
		bot = downStyle.Render("not configured") + dimStyle.Render("  (run afk setup)")
	}
	row("Bot:", bot)

	daemon := downStyle.Render("○ stopped")
	if m.snap.DaemonUp {
		daemon = okStyle.Render(fmt.Sprintf("● running (PID %d)", m.snap.DaemonPID))
	}
	row("Daemon:", daemon)

	if m.loadErr != nil {
		row("Error:", downStyle.Render(m.loadErr.Error()))
	}
	return sb.String()
}

func (m Model) renderSlots() string {
	var sb strings.Builder
	sb.WriteString(sectionHeader.Render(fmt.Sprintf("  Slots (%d)", len(m.snap.Slots))) + "\n\n")
	if len(m.snap.Slots) == 0 {
		sb.WriteString(dimStyle.Render("  (no active sessions)") + "\n")
		return sb.String()
	}
	for _, s := range m.snap.Slots {
		badge := slotBadgeStyle.Render(fmt.Sprintf("S%d", s.Ordinal))
		since := timeStyle.Render(elapsed(m.snap.TakenAt, s.StartedAt))
		topic := s.TopicName
		if topic == "" {
			topic = dimStyle.Render("(topic pending)")
		}
		key := dimStyle.Render("…" + tail(s.SessionKey))
		sb.WriteString(fmt.Sprintf("  %s  %-20s %s  %s  %s\n", badge, s.Project, topic, key, since))
	}
	return sb.String()
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initLogViewport() {
	// title(1) + header(2..3) + slots + log heading(1) + statusBar(1)
	fixed := 4 + lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderSlots())
	h := m.height - fixed
	if h < 3 {
		h = 3
	}
	m.logView = viewport.New(m.width, h)
	m.refreshLogViewport()
}

func (m *Model) refreshLogViewport() {
	var sb strings.Builder
	if len(m.snap.LogLines) == 0 {
		sb.WriteString(dimStyle.Render("  (log empty)"))
	}
	for _, line := range m.snap.LogLines {
		sb.WriteString(dimStyle.Render("  "+line) + "\n")
	}
	m.logView.SetContent(sb.String())
	if m.follow {
		m.logView.GotoBottom()
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func elapsed(now, since time.Time) string {
	if since.IsZero() {
		return ""
	}
	d := now.Sub(since).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

func tail(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[len(key)-8:]
}

// Run starts the dashboard and blocks until the user quits.
func Run(load Loader) error {
	p := tea.NewProgram(New(load), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
