package models

import (
	"context"
	"sync"

	"github.com/Slach/clickhouse-logcontext/pkg/config"
	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/Slach/clickhouse-logcontext/pkg/types"
)

// AppState holds the core application state.
// It owns the one context session that may be live at a time.
type AppState struct {
	Config  *config.Config
	Version string
	CLI     *types.CLI

	Executor logcontext.Executor
	Order    logcontext.SortOrder

	mu      sync.Mutex
	session *logcontext.Session
}

// NewAppState creates a new application state with default values
func NewAppState(cfg *config.Config, version string) *AppState {
	return &AppState{
		Config:  cfg,
		Version: version,
		CLI:     &types.CLI{},
		Order:   logcontext.SortDescending,
	}
}

// OpenContext starts a session around focal. A session opened earlier is closed
// first so its late results can't leak into the new one.
func (s *AppState) OpenContext(ctx context.Context, focal logcontext.FocalRow, onChange func(logcontext.Snapshot)) *logcontext.Session {
	session := logcontext.NewSession(ctx, s.Executor, s.Order)
	if onChange != nil {
		session.OnChange(onChange)
	}

	s.mu.Lock()
	prev := s.session
	s.session = session
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	session.Initialize(focal)
	return session
}

// Session returns the active session, nil when context is closed
func (s *AppState) Session() *logcontext.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CloseContext discards the active session
func (s *AppState) CloseContext() {
	s.mu.Lock()
	prev := s.session
	s.session = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// IsContextOpen returns true while a session is active
func (s *AppState) IsContextOpen() bool {
	return s.Session() != nil
}
