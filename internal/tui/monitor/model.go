// Package monitor implements the read-only session dashboard TUI.
//
// It renders the team roster with runtime and mailbox state, refreshed
// on a one second tick and on filesystem events under the session
// directory. It never writes to the stores it reads.
package monitor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/codexteams/codexteams/internal/bus"
	"github.com/codexteams/codexteams/internal/style"
	"github.com/codexteams/codexteams/internal/teamfs"
)

// memberRow is one roster line in the snapshot.
type memberRow struct {
	Name        string
	Role        string
	Color       string
	Backend     string
	Status      string
	PID         int
	Unread      int
	LastSummary string
}

// snapshot is one refresh worth of session state.
type snapshot struct {
	TeamName string
	Rows     []memberRow
	BusLine  string
	TakenAt  time.Time
}

// Model is the bubbletea model for the monitor.
type Model struct {
	store   *teamfs.Store
	room    string
	watcher *fsnotify.Watcher

	snap *snapshot
	err  error

	width  int
	height int

	keys     KeyMap
	help     help.Model
	showHelp bool
}

// New builds a monitor over one session's stores. The fsnotify watcher
// is best effort: when it cannot be attached, the tick alone drives
// refreshes.
func New(repo, session, room string) *Model {
	store := teamfs.New(repo, session)
	m := &Model{
		store: store,
		room:  room,
		keys:  DefaultKeyMap(),
		help:  help.New(),
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		paths := store.Paths()
		added := 0
		for _, dir := range []string{paths.Root, paths.Inboxes()} {
			if err := w.Add(dir); err == nil {
				added++
			}
		}
		if added > 0 {
			m.watcher = w
		} else {
			_ = w.Close()
		}
	}
	return m
}

// Close releases the fsnotify watcher. Safe to call more than once.
func (m *Model) Close() {
	if m.watcher != nil {
		_ = m.watcher.Close()
		m.watcher = nil
	}
}

// snapshotMsg is sent when a fresh snapshot has been read
type snapshotMsg struct {
	snap *snapshot
	err  error
}

// fsEventMsg is sent when the session directory changes
type fsEventMsg struct{}

// tickMsg is sent periodically to refresh the view
type tickMsg time.Time

// tick returns a command for periodic refresh
func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot returns a command that reads the stores off the UI loop
func (m *Model) fetchSnapshot() tea.Cmd {
	store := m.store
	room := m.room
	return func() tea.Msg {
		snap, err := takeSnapshot(store, room)
		return snapshotMsg{snap: snap, err: err}
	}
}

// watchEvents returns a command that blocks until the session tree
// changes. Re-armed from Update after every delivery.
func (m *Model) watchEvents() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	w := m.watcher
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) ||
					ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
					return fsEventMsg{}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

// takeSnapshot reads the roster, runtime registry, mailboxes, and room
// log totals into a single immutable view.
func takeSnapshot(store *teamfs.Store, room string) (*snapshot, error) {
	cfg, err := store.LoadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := store.LoadRuntime()
	if err != nil {
		return nil, err
	}
	snap := &snapshot{TeamName: cfg.Name, TakenAt: time.Now()}
	for _, mem := range cfg.Members {
		row := memberRow{
			Name:    mem.Name,
			Role:    mem.AgentType,
			Color:   mem.Color,
			Backend: mem.BackendType,
			Status:  "-",
		}
		if rec, ok := rt.Agents[mem.Name]; ok {
			row.Status = rec.Status
			row.PID = rec.PID
		}
		if items, err := store.ReadIndexed(mem.Name, teamfs.ReadOptions{}); err == nil {
			for _, it := range items {
				if !it.Message.Read {
					row.Unread++
				}
			}
			if n := len(items); n > 0 {
				last := items[n-1].Message
				row.LastSummary = last.Summary
				if row.LastSummary == "" {
					row.LastSummary = last.Text
				}
			}
		}
		snap.Rows = append(snap.Rows, row)
	}

	// Room log totals, only when the bus has been initialized for this
	// session. The monitor never creates the database.
	if _, statErr := os.Stat(store.Paths().BusDB()); statErr == nil {
		if b, err := bus.Open(store.Paths().BusDB()); err == nil {
			if st, err := b.Stats(room); err == nil {
				active, _ := b.ActiveMembers(room)
				snap.BusLine = fmt.Sprintf("room %s: %d messages (last #%d), %d active",
					room, st.TotalMessages, st.LastID, len(active))
			}
			_ = b.Close()
		}
	}
	return snap, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchSnapshot(),
		m.watchEvents(),
		tick(),
		tea.SetWindowTitle("ct monitor"),
	)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.snap = msg.snap
		}
		return m, nil

	case fsEventMsg:
		return m, tea.Batch(m.fetchSnapshot(), m.watchEvents())

	case tickMsg:
		return m, tea.Batch(m.fetchSnapshot(), tick())
	}
	return m, nil
}

// handleKey processes key presses
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchSnapshot()
	}
	return m, nil
}

// Column widths of the fixed cells. The summary column takes the rest.
const (
	colName    = 14
	colRole    = 10
	colColor   = 8
	colBackend = 10
	colStatus  = 10
	colPID     = 6
	colUnread  = 6
)

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	title := "session monitor"
	if m.snap != nil && m.snap.TeamName != "" {
		title = fmt.Sprintf("team %s", m.snap.TeamName)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	if m.snap != nil && m.snap.BusLine != "" {
		b.WriteString(mutedStyle.Render(m.snap.BusLine))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	header := pad("NAME", colName) + pad("ROLE", colRole) + pad("COLOR", colColor) +
		pad("BACKEND", colBackend) + pad("STATUS", colStatus) + pad("PID", colPID) +
		pad("UNREAD", colUnread) + "LAST"
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	if m.snap == nil {
		b.WriteString(mutedStyle.Render("(loading)"))
		b.WriteString("\n")
	} else if len(m.snap.Rows) == 0 {
		b.WriteString(mutedStyle.Render("(no members)"))
		b.WriteString("\n")
	} else {
		for _, row := range m.snap.Rows {
			b.WriteString(m.renderRow(row))
			b.WriteString("\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// renderRow formats one roster line. Cells are padded before styling so
// escape codes never skew the column widths.
func (m *Model) renderRow(row memberRow) string {
	var b strings.Builder

	name := pad(row.Name, colName)
	if style.IsValid(row.Color) {
		b.WriteString(style.Render(style.Color(row.Color), name))
	} else {
		b.WriteString(rowStyle.Render(name))
	}

	b.WriteString(rowStyle.Render(pad(row.Role, colRole)))

	colorCell := pad(row.Color, colColor)
	if style.IsValid(row.Color) {
		b.WriteString(style.Render(style.Color(row.Color), colorCell))
	} else {
		b.WriteString(mutedStyle.Render(colorCell))
	}

	b.WriteString(rowStyle.Render(pad(row.Backend, colBackend)))
	b.WriteString(statusCell(row.Status, colStatus))

	pid := "-"
	if row.PID > 0 {
		pid = fmt.Sprintf("%d", row.PID)
	}
	b.WriteString(rowStyle.Render(pad(pid, colPID)))

	unread := pad(fmt.Sprintf("%d", row.Unread), colUnread)
	if row.Unread > 0 {
		b.WriteString(unreadStyle.Render(unread))
	} else {
		b.WriteString(mutedStyle.Render(unread))
	}

	last := colName + colRole + colColor + colBackend + colStatus + colPID + colUnread
	width := m.width
	if width <= 0 {
		width = 100
	}
	avail := width - last
	if avail < 8 {
		avail = 8
	}
	b.WriteString(mutedStyle.Render(truncate(row.LastSummary, avail)))
	return b.String()
}

// pad left-aligns s in a cell of the given width with a trailing space
// separator, truncating when s is longer.
func pad(s string, width int) string {
	if len(s) >= width {
		s = truncate(s, width-1)
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
