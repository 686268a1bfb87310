package logcontext

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultLimit is the number of context lines requested per direction on open
	DefaultLimit = 10
	// LimitStep is how much every LoadMore grows the limit
	LimitStep = 10
)

// Phase is the state of a Session
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseSettled:
		return "settled"
	}
	return "unknown"
}

// Snapshot is a read-only copy of the session state handed to consumers.
// Results and HasMore are indexed by Direction.
type Snapshot struct {
	Revision uint64
	Phase    Phase
	Focal    FocalRow
	Limit    int
	Order    SortOrder
	Results  [2]ContextResult
	HasMore  [2]bool
}

// Rows returns the context lines for d
func (s Snapshot) Rows(d Direction) []string {
	return s.Results[d].Rows
}

// Error returns the fetch error for d, empty when there is none
func (s Snapshot) Error(d Direction) string {
	return s.Results[d].Error
}

// Session owns the context state for a single focal row.
//
// Every Initialize and LoadMore takes a new call token; a fetch round is applied
// only if its token is still current when it settles, so results of superseded
// rounds and of closed sessions are dropped without a trace.
type Session struct {
	fetcher *Fetcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	token     uint64
	revision  uint64
	phase     Phase
	closed    bool
	settled   bool
	focal     FocalRow
	limit     int
	order     SortOrder
	results   [2]ContextResult
	hasMore   [2]bool
	outcomes  *Outcomes
	onChange  func(Snapshot)
	inflight  sync.WaitGroup
	delivered uint64
}

// NewSession creates an idle session reading context through executor.
// Cancelling ctx or calling Close abandons any fetch still in flight.
func NewSession(ctx context.Context, executor Executor, order SortOrder) *Session {
	if order == "" {
		order = SortDescending
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		fetcher: NewFetcher(executor),
		ctx:     ctx,
		cancel:  cancel,
		limit:   DefaultLimit,
		order:   order,
		results: emptyResults(),
		hasMore: [2]bool{true, true},
	}
}

func emptyResults() [2]ContextResult {
	return [2]ContextResult{
		{Direction: Before, Rows: []string{}},
		{Direction: After, Rows: []string{}},
	}
}

// OnChange registers the callback invoked after every externally visible change.
// The callback runs on the goroutine that made the change, so it may fire
// concurrently; consumers should keep the snapshot with the highest Revision.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Initialize resets the session to the default limit and fetches context around focal
func (s *Session) Initialize(focal FocalRow) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.focal = focal
	s.limit = DefaultLimit
	s.results = emptyResults()
	s.hasMore = [2]bool{true, true}
	s.settled = false
	s.outcomes = nil
	snap, token := s.startLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.spawn(token, focal, DefaultLimit)
}

// LoadMore grows the limit by LimitStep and refetches both directions.
// It does nothing while a fetch is in flight or before the first fetch settled.
func (s *Session) LoadMore() {
	s.mu.Lock()
	if s.closed || s.phase != PhaseSettled {
		s.mu.Unlock()
		return
	}
	s.limit += LimitStep
	focal, limit := s.focal, s.limit
	snap, token := s.startLocked()
	s.mu.Unlock()

	s.notify(snap)
	s.spawn(token, focal, limit)
}

// SetSortOrder changes the display order and reapplies it to the last settled
// results without refetching. A fetch still in flight settles in the new order.
func (s *Session) SetSortOrder(order SortOrder) {
	s.mu.Lock()
	if s.closed || order == s.order {
		s.mu.Unlock()
		return
	}
	s.order = order
	if s.outcomes != nil {
		before, after := Aggregate(s.focal, *s.outcomes, s.order)
		s.results = [2]ContextResult{before, after}
	}
	s.revision++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until every fetch round started so far has settled or been dropped
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close discards the session. Results still in flight are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.token++
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) startLocked() (Snapshot, uint64) {
	s.token++
	s.phase = PhaseFetching
	s.revision++
	s.inflight.Add(1)
	return s.snapshotLocked(), s.token
}

func (s *Session) spawn(token uint64, focal FocalRow, limit int) {
	go func() {
		defer s.inflight.Done()
		outcomes := s.fetcher.Fetch(s.ctx, focal, limit)
		s.settle(token, outcomes)
	}()
}

func (s *Session) settle(token uint64, outcomes Outcomes) {
	s.mu.Lock()
	if s.closed || token != s.token {
		s.mu.Unlock()
		log.Debug().Uint64("token", token).Msg("dropping stale context result")
		return
	}

	before, after := Aggregate(s.focal, outcomes, s.order)
	next := [2]ContextResult{before, after}
	for _, d := range Directions {
		if s.settled {
			s.hasMore[d] = len(next[d].Rows) > len(s.results[d].Rows)
		} else {
			s.hasMore[d] = true
		}
	}
	s.results = next
	s.outcomes = &outcomes
	s.settled = true
	s.phase = PhaseSettled
	s.revision++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().
		Int("limit", snap.Limit).
		Int("before", len(before.Rows)).
		Int("after", len(after.Rows)).
		Bool("has_more_before", snap.HasMore[Before]).
		Bool("has_more_after", snap.HasMore[After]).
		Msg("context settled")
	s.notify(snap)
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Revision: s.revision,
		Phase:    s.phase,
		Focal:    s.focal,
		Limit:    s.limit,
		Order:    s.order,
		HasMore:  s.hasMore,
	}
	for _, d := range Directions {
		r := s.results[d]
		r.Rows = append([]string{}, r.Rows...)
		snap.Results[d] = r
	}
	return snap
}

func (s *Session) notify(snap Snapshot) {
	s.mu.Lock()
	fn := s.onChange
	if fn == nil || snap.Revision <= s.delivered {
		s.mu.Unlock()
		return
	}
	s.delivered = snap.Revision
	s.mu.Unlock()
	fn(snap)
}
