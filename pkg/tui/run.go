package tui

import (
	"context"
	"sync"

	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/Slach/clickhouse-logcontext/pkg/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
)

// snapshotRelay hands session snapshots to the program without ever blocking the
// session. Only the newest pending snapshot is kept.
type snapshotRelay struct {
	mu      sync.Mutex
	pending *logcontext.Snapshot
	wake    chan struct{}
}

func newSnapshotRelay() *snapshotRelay {
	return &snapshotRelay{wake: make(chan struct{}, 1)}
}

func (r *snapshotRelay) push(snap logcontext.Snapshot) {
	r.mu.Lock()
	if r.pending == nil || snap.Revision > r.pending.Revision {
		r.pending = &snap
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *snapshotRelay) take() (logcontext.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return logcontext.Snapshot{}, false
	}
	snap := *r.pending
	r.pending = nil
	return snap, true
}

// forward delivers snapshots with send until ctx is done
func (r *snapshotRelay) forward(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		if snap, ok := r.take(); ok {
			send(SnapshotMsg{Snapshot: snap})
		}
	}
}

// Run opens a context session around focal and shows it until the user quits
func Run(ctx context.Context, state *models.AppState, focal logcontext.FocalRow, width, height int) error {
	_, err := run(ctx, state, focal, width, height, tea.WithAltScreen(), tea.WithMouseCellMotion())
	return err
}

func run(ctx context.Context, state *models.AppState, focal logcontext.FocalRow, width, height int, opts ...tea.ProgramOption) (*ContextViewer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer state.CloseContext()

	viewer := newViewer(width, height)
	p := tea.NewProgram(viewer, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	relay := newSnapshotRelay()
	go relay.forward(ctx, p.Send)

	viewer.attach(state.OpenContext(ctx, focal, relay.push))

	final, err := p.Run()
	if err != nil {
		log.Error().Err(err).Stack().Msg("context viewer stopped")
		return viewer, err
	}
	if v, ok := final.(*ContextViewer); ok {
		viewer = v
	}
	return viewer, nil
}
