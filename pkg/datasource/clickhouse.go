package datasource

import (
	"context"
	"database/sql"
	"time"

	"github.com/Slach/clickhouse-logcontext/pkg/config"
	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/Slach/clickhouse-logcontext/pkg/memo"
	"github.com/eapache/go-resiliency/breaker"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Querier runs SQL; *client.Client implements it
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

const (
	breakerErrorThreshold   = 3
	breakerSuccessThreshold = 1
	breakerTimeout          = 10 * time.Second
)

// ErrFocalNotFound is returned when no row matches the focal lookup
var ErrFocalNotFound = errors.New("focal row not found")

// ClickHouse reads log context from a ClickHouse table described by a source
type ClickHouse struct {
	querier Querier
	source  config.Source
	breaker *breaker.Breaker
	// the query text only depends on direction, limit and whether ties split by id
	queries [2]memo.Last[queryKey, string]
}

type queryKey struct {
	limit int
	byID  bool
}

func NewClickHouse(querier Querier, source config.Source) *ClickHouse {
	return &ClickHouse{
		querier: querier,
		source:  source,
		breaker: breaker.New(breakerErrorThreshold, breakerSuccessThreshold, breakerTimeout),
	}
}

// Source returns the log source the executor reads from
func (c *ClickHouse) Source() config.Source {
	return c.source
}

// SortOrder returns the display order configured for the source
func (c *ClickHouse) SortOrder() logcontext.SortOrder {
	if c.source.SortOrder == string(logcontext.SortAscending) {
		return logcontext.SortAscending
	}
	return logcontext.SortDescending
}

// ContextQuery returns the SQL and placeholder values for one direction
func (c *ClickHouse) ContextQuery(focal logcontext.FocalRow, opts logcontext.FetchOptions) (string, []interface{}) {
	key := queryKey{limit: opts.Limit, byID: splitsByID(c.source, focal)}
	query := c.queries[opts.Direction].Get(key, func(k queryKey) string {
		return buildContextQuery(c.source, opts.Direction, k.limit, k.byID)
	})
	return query, contextArgs(c.source, focal)
}

// FetchContext implements logcontext.Executor
func (c *ClickHouse) FetchContext(ctx context.Context, focal logcontext.FocalRow, opts logcontext.FetchOptions) (logcontext.RawBatch, error) {
	query, args := c.ContextQuery(focal, opts)

	var frame logcontext.Frame
	err := c.run(ctx, func(ctx context.Context) error {
		rows, err := c.querier.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Wrapf(err, "%s context query failed", opts.Direction)
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("can't close context query")
			}
		}()
		frame, err = readFrame(rows, c.source.IDField != "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return logcontext.RawBatch{frame}, nil
}

// FindFocal looks up the row context is shown around. With an id the row must
// match it; otherwise the first row at or after at is used.
func (c *ClickHouse) FindFocal(ctx context.Context, at time.Time, id string) (logcontext.FocalRow, error) {
	byID := id != "" && c.source.IDField != ""
	if id != "" && !byID {
		return logcontext.FocalRow{}, errors.Errorf("source %q has no id_field, can't look up rows by id", c.source.Name)
	}
	query := buildFocalQuery(c.source, byID)
	args := []interface{}{at.UnixMilli()}
	if byID {
		args = append(args, id)
	}

	var focal logcontext.FocalRow
	err := c.run(ctx, func(ctx context.Context) error {
		rows, err := c.querier.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "focal row query failed")
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("can't close focal row query")
			}
		}()
		focal, err = readFocal(rows, c.source)
		return err
	})
	return focal, err
}

func readFocal(rows rowScanner, src config.Source) (logcontext.FocalRow, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return logcontext.FocalRow{}, errors.Wrap(err, "error reading focal row")
		}
		return logcontext.FocalRow{}, ErrFocalNotFound
	}

	var focal logcontext.FocalRow
	streamValues := make([]string, len(src.StreamFields))
	dest := []interface{}{&focal.TimestampMillis}
	if src.IDField != "" {
		dest = append(dest, &focal.ID)
	}
	dest = append(dest, &focal.Line)
	for i := range streamValues {
		dest = append(dest, &streamValues[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return logcontext.FocalRow{}, errors.Wrap(err, "error scanning focal row")
	}
	for i, field := range src.StreamFields {
		focal.Stream = append(focal.Stream, logcontext.StreamLabel{Name: field, Value: streamValues[i]})
	}
	return focal, nil
}

// run applies the source query timeout when ctx has none and guards the call
// with the circuit breaker. Cancellation by the caller doesn't count as a
// server failure.
func (c *ClickHouse) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Deadline(); !ok && c.source.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.source.QueryTimeout)
		defer cancel()
	}

	var callErr error
	err := c.breaker.Run(func() error {
		callErr = fn(ctx)
		if callErr != nil && errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return errors.Wrapf(err, "ClickHouse source %q is failing, retry in %s", c.source.Name, breakerTimeout)
	}
	return callErr
}
