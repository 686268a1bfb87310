package logcontext

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FetchOptions describes one directional context query
type FetchOptions struct {
	Direction Direction
	// Limit is inclusive of the focal timestamp for After
	Limit int
}

// Executor runs context queries against a log data source.
// Batches must address rows by a ts column and optionally id and line columns.
type Executor interface {
	FetchContext(ctx context.Context, focal FocalRow, opts FetchOptions) (RawBatch, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, focal FocalRow, opts FetchOptions) (RawBatch, error)

func (f ExecutorFunc) FetchContext(ctx context.Context, focal FocalRow, opts FetchOptions) (RawBatch, error) {
	return f(ctx, focal, opts)
}

// Outcome is the settled result of one directional fetch
type Outcome struct {
	Batch RawBatch
	Err   error
}

// Outcomes holds both directional outcomes of one fetch round
type Outcomes struct {
	Before Outcome
	After  Outcome
}

// Of returns the outcome for direction d
func (o Outcomes) Of(d Direction) Outcome {
	if d == After {
		return o.After
	}
	return o.Before
}

// Fetcher issues the before and after queries of a fetch round
type Fetcher struct {
	executor Executor
}

func NewFetcher(executor Executor) *Fetcher {
	return &Fetcher{executor: executor}
}

// QueryLimit is the limit sent to the executor for a direction. The After query
// starts at the focal timestamp, so it asks for one extra row to cover the focal
// entry that gets filtered out.
func QueryLimit(d Direction, limit int) int {
	if d == After {
		return limit + 1
	}
	return limit
}

// Fetch runs both directions concurrently and waits until both settle.
// A failure on one side never cancels or hides the other.
func (f *Fetcher) Fetch(ctx context.Context, focal FocalRow, limit int) Outcomes {
	var (
		wg       sync.WaitGroup
		outcomes [2]Outcome
	)
	for _, d := range Directions {
		wg.Add(1)
		go func(d Direction) {
			defer wg.Done()
			outcomes[d] = f.fetchOne(ctx, focal, FetchOptions{Direction: d, Limit: QueryLimit(d, limit)})
		}(d)
	}
	wg.Wait()
	return Outcomes{Before: outcomes[Before], After: outcomes[After]}
}

func (f *Fetcher) fetchOne(ctx context.Context, focal FocalRow, opts FetchOptions) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: errors.Errorf("context query %s panicked: %v", opts.Direction, r)}
		}
		ev := log.Debug().Str("direction", opts.Direction.String()).Int("limit", opts.Limit).Dur("elapsed", time.Since(start))
		if out.Err != nil {
			ev = ev.Err(out.Err)
		}
		ev.Msg("context fetch settled")
	}()
	batch, err := f.executor.FetchContext(ctx, focal, opts)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Batch: batch}
}
