// Package tui is the terminal dashboard. It only reads the caches; every
// change goes through the coordinator, the connection manager or the report
// date preference.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alsoamit/manager-dash-sub001/internal/client"
	"github.com/alsoamit/manager-dash-sub001/internal/entity"
	"github.com/alsoamit/manager-dash-sub001/internal/prefs"
	"github.com/alsoamit/manager-dash-sub001/internal/syncer"
)

// summaryFields are shown next to a record id, in this order, when present.
var summaryFields = []string{"name", "status", "date", "quantity", "total", "goal", "achieved"}

// Options wires the model to the sync layer. Manager may be nil.
type Options struct {
	Coordinator *syncer.Coordinator
	Manager     *client.Manager
	ReportDate  *prefs.ReportDate
	StaleAfter  time.Duration
}

type refreshMsg struct{}

type loadDoneMsg struct {
	date string
	err  error
}

// Model is the root Bubble Tea model.
type Model struct {
	coord      *syncer.Coordinator
	mgr        *client.Manager
	date       *prefs.ReportDate
	staleAfter time.Duration
	now        func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan tea.Msg
	cancels []func()

	keys   KeyMap
	width  int
	height int

	selected int // index into entity.All
	cursor   int // record index in the selected collection

	loading bool
	loadErr error
}

// New creates the root model and subscribes to every change source.
func New(opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		coord:      opts.Coordinator,
		mgr:        opts.Manager,
		date:       opts.ReportDate,
		staleAfter: opts.StaleAfter,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan tea.Msg, 64),
		keys:       DefaultKeyMap(),
	}

	ping := func() {
		select {
		case m.events <- refreshMsg{}:
		default:
		}
	}
	m.cancels = append(m.cancels,
		m.coord.Store().Subscribe(func(entity.Collection) { ping() }),
		m.date.Subscribe(func(string) { ping() }),
	)
	if m.mgr != nil {
		stateID := m.mgr.On(client.EventState, func(client.Event) { ping() })
		connID := m.mgr.On(client.EventConnect, func(client.Event) { ping() })
		mgr := m.mgr
		m.cancels = append(m.cancels, func() {
			mgr.Off(client.EventState, stateID)
			mgr.Off(client.EventConnect, connID)
		})
	}
	return m
}

// Close removes the model's subscriptions.
func (m Model) Close() {
	m.cancel()
	for _, c := range m.cancels {
		c()
	}
}

// Init connects and loads every collection for the stored report date.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForEvent(), m.loadAll(m.date.Get())}
	if m.mgr != nil {
		mgr := m.mgr
		cmds = append(cmds, func() tea.Msg {
			mgr.Connect()
			return nil
		})
	}
	return tea.Batch(cmds...)
}

func (m Model) waitForEvent() tea.Cmd {
	events, ctx := m.events, m.ctx
	return func() tea.Msg {
		select {
		case msg := <-events:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) loadAll(date string) tea.Cmd {
	coord, ctx := m.coord, m.ctx
	return func() tea.Msg {
		err := coord.LoadAll(ctx, client.SnapshotParams{Date: date})
		return loadDoneMsg{date: date, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case refreshMsg:
		m.clampCursor()
		return m, m.waitForEvent()

	case loadDoneMsg:
		if msg.date == m.date.Get() {
			m.loading = false
			m.loadErr = msg.err
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Tab):
		m.selected = (m.selected + 1) % len(entity.All)
		m.cursor = 0
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if n := m.current().Len(); n > 0 {
			m.cursor = (m.cursor + 1) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if n := m.current().Len(); n > 0 {
			m.cursor = (m.cursor - 1 + n) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.PrevDate):
		return m.reload(m.date.Shift(-1))

	case key.Matches(msg, m.keys.NextDate):
		return m.reload(m.date.Shift(1))

	case key.Matches(msg, m.keys.Today):
		return m.reload(m.date.Today())

	case key.Matches(msg, m.keys.Reload):
		return m.reload(m.date.Get())

	case key.Matches(msg, m.keys.Reconnect):
		if m.mgr != nil {
			switch m.mgr.State() {
			case client.Disconnected, client.Failed:
				m.mgr.Connect()
			}
		}
		return m, nil
	}

	return m, nil
}

func (m Model) reload(date string) (tea.Model, tea.Cmd) {
	m.loading = true
	m.loadErr = nil
	m.cursor = 0
	return m, m.loadAll(date)
}

func (m Model) current() *syncer.Collection {
	return m.coord.Store().Get(entity.All[m.selected])
}

func (m *Model) clampCursor() {
	if n := m.current().Len(); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	bar := statusBar{ReportDate: m.date.Get(), Width: m.width, Suspended: m.coord.Suspended()}
	if m.mgr != nil {
		bar.Conn = m.mgr.Status()
	}

	sections := []string{
		bar.View(),
		m.renderTabs(),
		m.renderDetail(),
		m.renderRecords(),
	}
	if m.loadErr != nil {
		sections = append(sections, StyleWarning.Render("  load failed: "+m.loadErr.Error()))
	}
	sections = append(sections,
		StyleDimmed.Render("  tab:collection  j/k:navigate  [/]:day  t:today  r:reload  c:reconnect  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTabs() string {
	var tabs []string
	for i, name := range entity.All {
		col := m.coord.Store().Get(name)
		label := fmt.Sprintf("%s(%d)", name, col.Len())
		style := lipgloss.NewStyle().Foreground(StatusColor(col.Status()))
		if i == m.selected {
			style = style.Bold(true).Underline(true)
		}
		tabs = append(tabs, style.Render(label))
	}
	return " " + strings.Join(tabs, "  ")
}

func (m Model) renderDetail() string {
	col := m.current()
	status := lipgloss.NewStyle().Foreground(StatusColor(col.Status())).Render(col.Status().String())
	line := fmt.Sprintf("  %s  %s", StyleHeader.Render(string(entity.All[m.selected])), status)

	if ts := col.LastSyncedAt(); !ts.IsZero() {
		line += StyleDimmed.Render("  synced " + ago(m.now().Sub(ts)))
		if m.staleAfter > 0 && col.Stale(m.staleAfter, m.now()) {
			line += StyleWarning.Render("  stale")
		}
	}
	if err := col.Err(); err != nil {
		line += lipgloss.NewStyle().Foreground(ColorDanger).Render("  " + err.Error())
	}
	if m.loading {
		line += StyleDimmed.Render("  loading…")
	}
	return line
}

func (m Model) renderRecords() string {
	recs := m.current().List()
	if len(recs) == 0 {
		return StyleDimmed.Render("  No records")
	}

	rows := m.height - 8
	if rows < 3 {
		rows = 3
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := min(start+rows, len(recs))

	width := m.width - 6
	if width < 20 {
		width = 20
	}
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		line := truncate(recs[i].ID+"  "+StyleDimmed.Render(summarize(recs[i])), width)
		if i == m.cursor {
			lines = append(lines, StyleSelected.Render("> ")+line)
		} else {
			lines = append(lines, "  "+line)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// summarize renders the well-known fields of a record as key=value pairs.
func summarize(r entity.Record) string {
	var fields map[string]any
	if err := json.Unmarshal(r.Data, &fields); err != nil {
		return ""
	}
	var parts []string
	for _, k := range summaryFields {
		if v, ok := fields[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if len(parts) == 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			if k != "_id" && k != "id" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width-1).Render(s) + "…"
}

func ago(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
