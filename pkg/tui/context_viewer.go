package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/Slach/clickhouse-logcontext/pkg/memo"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SnapshotMsg carries a session update into the bubbletea loop
type SnapshotMsg struct {
	Snapshot logcontext.Snapshot
}

// ContextSession is the part of logcontext.Session the viewer drives
type ContextSession interface {
	LoadMore()
	SetSortOrder(order logcontext.SortOrder)
	Snapshot() logcontext.Snapshot
}

type keyMap struct {
	LoadMore key.Binding
	Order    key.Binding
	Quit     key.Binding
}

var defaultKeys = keyMap{
	LoadMore: key.NewBinding(key.WithKeys("m", "ctrl+n"), key.WithHelp("m", "load more")),
	Order:    key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "toggle order")),
	Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	focalStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
)

type renderKey struct {
	revision uint64
	width    int
}

// ContextViewer shows the lines around a focal row and lets the user page through them
type ContextViewer struct {
	session  ContextSession
	snapshot logcontext.Snapshot
	viewport viewport.Model
	keys     keyMap
	width    int
	height   int
	body     memo.Last[renderKey, string]
}

func NewContextViewer(session ContextSession, width, height int) *ContextViewer {
	m := newViewer(width, height)
	m.attach(session)
	return m
}

func newViewer(width, height int) *ContextViewer {
	return &ContextViewer{
		keys:     defaultKeys,
		viewport: viewport.New(width, bodyHeight(height)),
		width:    width,
		height:   height,
	}
}

func (m *ContextViewer) attach(session ContextSession) {
	m.session = session
	m.snapshot = session.Snapshot()
	m.refresh()
}

func bodyHeight(height int) int {
	// title, status, help and the border
	if h := height - 6; h > 1 {
		return h
	}
	return 1
}

func (m *ContextViewer) Init() tea.Cmd {
	return nil
}

func (m *ContextViewer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = bodyHeight(msg.Height)
		m.refresh()
		return m, nil

	case SnapshotMsg:
		// callbacks may race; keep the newest state
		if msg.Snapshot.Revision >= m.snapshot.Revision {
			m.snapshot = msg.Snapshot
			m.refresh()
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.LoadMore):
			m.session.LoadMore()
			return m, nil
		case key.Matches(msg, m.keys.Order):
			next := logcontext.SortAscending
			if m.snapshot.Order == logcontext.SortAscending {
				next = logcontext.SortDescending
			}
			m.session.SetSortOrder(next)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *ContextViewer) refresh() {
	m.viewport.SetContent(m.body.Get(renderKey{revision: m.snapshot.Revision, width: m.width}, func(renderKey) string {
		return RenderBody(m.snapshot)
	}))
}

func (m *ContextViewer) View() string {
	snap := m.snapshot
	title := fmt.Sprintf("Context of %s", time.UnixMilli(snap.Focal.TimestampMillis).Format("2006-01-02 15:04:05.000"))
	if snap.Focal.ID != "" {
		title += " id=" + snap.Focal.ID
	}

	status := fmt.Sprintf("limit %d | order %s | %s", snap.Limit, snap.Order, snap.Phase)
	help := hintStyle.Render(strings.Join([]string{
		helpEntry(m.keys.LoadMore), helpEntry(m.keys.Order), helpEntry(m.keys.Quit), "↑/↓ scroll",
	}, " | "))

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		status,
		borderStyle.Render(m.viewport.View()),
		help,
	)
}

func helpEntry(b key.Binding) string {
	h := b.Help()
	return h.Key + ": " + h.Desc
}

// RenderBody lays the context out around the focal line. Newer lines go on top
// in descending order and at the bottom in ascending order.
func RenderBody(snap logcontext.Snapshot) string {
	upper, lower := logcontext.After, logcontext.Before
	if snap.Order == logcontext.SortAscending {
		upper, lower = logcontext.Before, logcontext.After
	}

	var sb strings.Builder
	writeSide(&sb, snap, upper, true)
	sb.WriteString(focalStyle.Render("> " + snap.Focal.Line))
	sb.WriteString("\n")
	writeSide(&sb, snap, lower, false)
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeSide(sb *strings.Builder, snap logcontext.Snapshot, d logcontext.Direction, top bool) {
	marker := ""
	switch {
	case snap.Error(d) != "":
		marker = errorStyle.Render(fmt.Sprintf("! %s: %s", d, snap.Error(d)))
	case snap.Phase == logcontext.PhaseFetching:
		marker = hintStyle.Render(fmt.Sprintf("… loading %s", d))
	case snap.HasMore[d]:
		marker = hintStyle.Render(fmt.Sprintf("… more %s (m)", d))
	default:
		marker = hintStyle.Render(fmt.Sprintf("· no more lines %s", d))
	}

	if top {
		sb.WriteString(marker + "\n")
	}
	for _, line := range snap.Rows(d) {
		sb.WriteString("  " + line + "\n")
	}
	if !top {
		sb.WriteString(marker + "\n")
	}
}
