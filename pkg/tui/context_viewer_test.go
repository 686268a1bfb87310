package tui

import (
	"strings"
	"testing"

	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	snap      logcontext.Snapshot
	loadMores int
	orders    []logcontext.SortOrder
}

func (f *fakeSession) LoadMore() {
	f.loadMores++
}

func (f *fakeSession) SetSortOrder(order logcontext.SortOrder) {
	f.orders = append(f.orders, order)
}

func (f *fakeSession) Snapshot() logcontext.Snapshot {
	return f.snap
}

func settledSnapshot(revision uint64, order logcontext.SortOrder) logcontext.Snapshot {
	snap := logcontext.Snapshot{
		Revision: revision,
		Phase:    logcontext.PhaseSettled,
		Focal:    logcontext.FocalRow{ID: "0", TimestampMillis: 1000, Line: "focal"},
		Limit:    10,
		Order:    order,
		HasMore:  [2]bool{true, false},
	}
	snap.Results[logcontext.Before] = logcontext.ContextResult{Direction: logcontext.Before, Rows: []string{"b1", "b2"}}
	snap.Results[logcontext.After] = logcontext.ContextResult{Direction: logcontext.After, Rows: []string{"a2", "a1"}}
	return snap
}

func lineIndex(t *testing.T, body, needle string) int {
	t.Helper()
	for i, line := range strings.Split(body, "\n") {
		if strings.Contains(line, needle) {
			return i
		}
	}
	require.Failf(t, "line not found", "%q not in body", needle)
	return -1
}

func TestRenderBodyDescendingPutsAfterOnTop(t *testing.T) {
	body := RenderBody(settledSnapshot(1, logcontext.SortDescending))

	assert.Less(t, lineIndex(t, body, "a2"), lineIndex(t, body, "a1"))
	assert.Less(t, lineIndex(t, body, "a1"), lineIndex(t, body, "focal"))
	assert.Less(t, lineIndex(t, body, "focal"), lineIndex(t, body, "b1"))
	assert.Contains(t, body, "more before")
	assert.Contains(t, body, "no more lines after")
}

func TestRenderBodyAscendingPutsBeforeOnTop(t *testing.T) {
	body := RenderBody(settledSnapshot(1, logcontext.SortAscending))
	assert.Less(t, lineIndex(t, body, "b2"), lineIndex(t, body, "focal"))
	assert.Less(t, lineIndex(t, body, "focal"), lineIndex(t, body, "a1"))
}

func TestRenderBodyShowsDirectionError(t *testing.T) {
	snap := settledSnapshot(1, logcontext.SortDescending)
	snap.Results[logcontext.After] = logcontext.ContextResult{Direction: logcontext.After, Rows: []string{}, Error: "timeout"}

	body := RenderBody(snap)
	assert.Contains(t, body, "after: timeout")
	assert.Contains(t, body, "b1")
}

func TestViewerKeys(t *testing.T) {
	session := &fakeSession{snap: settledSnapshot(1, logcontext.SortDescending)}
	viewer := NewContextViewer(session, 80, 24)

	viewer.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	assert.Equal(t, 1, session.loadMores)

	viewer.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")})
	assert.Equal(t, []logcontext.SortOrder{logcontext.SortAscending}, session.orders)

	_, cmd := viewer.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewerIgnoresOlderSnapshots(t *testing.T) {
	session := &fakeSession{snap: settledSnapshot(3, logcontext.SortDescending)}
	viewer := NewContextViewer(session, 80, 24)

	older := settledSnapshot(2, logcontext.SortDescending)
	older.Limit = 99
	viewer.Update(SnapshotMsg{Snapshot: older})
	assert.Equal(t, 10, viewer.snapshot.Limit)

	newer := settledSnapshot(4, logcontext.SortAscending)
	newer.Limit = 20
	viewer.Update(SnapshotMsg{Snapshot: newer})
	assert.Equal(t, 20, viewer.snapshot.Limit)
	assert.Contains(t, viewer.View(), "limit 20 | order asc")
}
