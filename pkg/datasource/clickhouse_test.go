package datasource

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Slach/clickhouse-logcontext/pkg/config"
	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appSource = config.Source{
	Name:         "app",
	Database:     "logs",
	Table:        "app_logs",
	TimeField:    "event_time",
	IDField:      "uuid",
	MessageField: "message",
	StreamFields: []string{"host"},
	SortOrder:    "desc",
	QueryTimeout: time.Second,
}

func TestBuildContextQuery(t *testing.T) {
	before := buildContextQuery(appSource, logcontext.Before, 10, false)
	assert.Equal(t, "SELECT toUnixTimestamp64Milli(toDateTime64(`event_time`, 3)) AS __ts, toString(`uuid`) AS __id, toString(`message`) AS __line\n"+
		"FROM `logs`.`app_logs`\n"+
		"WHERE `event_time` < fromUnixTimestamp64Milli(toInt64(?)) AND toString(`host`) = ?\n"+
		"ORDER BY `event_time` DESC, `uuid` DESC\n"+
		"LIMIT 10", before)

	after := buildContextQuery(appSource, logcontext.After, 11, false)
	assert.Contains(t, after, "WHERE `event_time` >= fromUnixTimestamp64Milli(toInt64(?))")
	assert.Contains(t, after, "ORDER BY `event_time` ASC, `uuid` ASC")
	assert.Contains(t, after, "LIMIT 11\n)\nORDER BY __ts DESC, __id DESC")
}

func TestBuildContextQueryWithoutIDOrStream(t *testing.T) {
	src := config.Source{Database: "db", Table: "t`x", TimeField: "ts", MessageField: "msg"}
	query := buildContextQuery(src, logcontext.Before, 5, false)
	assert.NotContains(t, query, "__id")
	assert.Contains(t, query, "FROM `db`.`t``x`")
	assert.Contains(t, query, "WHERE `ts` < fromUnixTimestamp64Milli(toInt64(?))\n")
	assert.Contains(t, query, "ORDER BY `ts` DESC\n")
}

func TestBuildContextQuerySplitsFocalMillisecondByID(t *testing.T) {
	before := buildContextQuery(appSource, logcontext.Before, 10, true)
	assert.Equal(t, "SELECT toUnixTimestamp64Milli(toDateTime64(`event_time`, 3)) AS __ts, toString(`uuid`) AS __id, toString(`message`) AS __line\n"+
		"FROM `logs`.`app_logs`\n"+
		"WHERE `event_time` < fromUnixTimestamp64Milli(toInt64(?) + 1)"+
		" AND (toUnixTimestamp64Milli(toDateTime64(`event_time`, 3)), toString(`uuid`)) < (toInt64(?), ?)"+
		" AND toString(`host`) = ?\n"+
		"ORDER BY __ts DESC, __id DESC\n"+
		"LIMIT 10", before)

	after := buildContextQuery(appSource, logcontext.After, 11, true)
	assert.Contains(t, after, "WHERE `event_time` >= fromUnixTimestamp64Milli(toInt64(?))"+
		" AND (toUnixTimestamp64Milli(toDateTime64(`event_time`, 3)), toString(`uuid`)) >= (toInt64(?), ?)")
	assert.Contains(t, after, "ORDER BY __ts ASC, __id ASC\nLIMIT 11\n)\nORDER BY __ts DESC, __id DESC")
}

func TestContextArgsWithFocalID(t *testing.T) {
	focal := logcontext.FocalRow{
		ID:              "id-7",
		TimestampMillis: 42,
		Stream:          []logcontext.StreamLabel{{Name: "host", Value: "web-1"}},
	}
	assert.Equal(t, []interface{}{int64(42), int64(42), "id-7", "web-1"}, contextArgs(appSource, focal))

	src := appSource
	src.IDField = ""
	assert.Equal(t, []interface{}{int64(42), "web-1"}, contextArgs(src, focal))
}

func TestContextQueryTracksIDSplit(t *testing.T) {
	ch := NewClickHouse(nil, appSource)
	opts := logcontext.FetchOptions{Direction: logcontext.Before, Limit: 10}

	withID, args := ch.ContextQuery(logcontext.FocalRow{ID: "a", TimestampMillis: 1}, opts)
	assert.Contains(t, withID, "(toInt64(?), ?)")
	assert.Len(t, args, 4)

	withoutID, args := ch.ContextQuery(logcontext.FocalRow{TimestampMillis: 1}, opts)
	assert.NotContains(t, withoutID, "(toInt64(?), ?)")
	assert.Len(t, args, 2)
}

func TestContextArgs(t *testing.T) {
	src := appSource
	src.StreamFields = []string{"host", "service"}
	focal := logcontext.FocalRow{
		TimestampMillis: 42,
		Stream:          []logcontext.StreamLabel{{Name: "service", Value: "api"}, {Name: "host", Value: "web-1"}},
	}
	assert.Equal(t, []interface{}{int64(42), "web-1", "api"}, contextArgs(src, focal))
}

func TestBuildFocalQuery(t *testing.T) {
	query := buildFocalQuery(appSource, true)
	assert.Contains(t, query, "toString(`host`) AS __stream_0")
	assert.Contains(t, query, "AND toString(`uuid`) = ?")
	assert.Contains(t, query, "LIMIT 1")

	query = buildFocalQuery(appSource, false)
	assert.NotContains(t, query, "toString(`uuid`) = ?")
}

func TestContextQueryIsMemoizedPerDirection(t *testing.T) {
	ch := NewClickHouse(nil, appSource)
	focal := logcontext.FocalRow{TimestampMillis: 1}

	q1, _ := ch.ContextQuery(focal, logcontext.FetchOptions{Direction: logcontext.Before, Limit: 10})
	q2, _ := ch.ContextQuery(focal, logcontext.FetchOptions{Direction: logcontext.After, Limit: 11})
	q3, _ := ch.ContextQuery(focal, logcontext.FetchOptions{Direction: logcontext.Before, Limit: 20})
	assert.Contains(t, q1, "LIMIT 10")
	assert.Contains(t, q2, "LIMIT 11")
	assert.Contains(t, q3, "LIMIT 20")
}

// fakeRows replays fixed rows through the rowScanner interface
type fakeRows struct {
	rows [][]interface{}
	pos  int
	err  error
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...interface{}) error {
	row := f.rows[f.pos-1]
	if len(dest) != len(row) {
		return errors.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *string:
			*p = row[i].(string)
		default:
			return errors.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func (f *fakeRows) Err() error {
	return f.err
}

func TestReadFrame(t *testing.T) {
	rows := &fakeRows{rows: [][]interface{}{
		{int64(3), "c", "third"},
		{int64(2), "b", "second"},
	}}
	frame, err := readFrame(rows, true)
	require.NoError(t, err)

	flat, err := logcontext.Flatten(logcontext.RawBatch{frame})
	require.NoError(t, err)
	assert.Equal(t, []logcontext.FlattenedRow{
		{TimestampMillis: 3, ID: "c", HasID: true, Line: "third"},
		{TimestampMillis: 2, ID: "b", HasID: true, Line: "second"},
	}, flat)
}

func TestReadFrameWithoutID(t *testing.T) {
	frame, err := readFrame(&fakeRows{rows: [][]interface{}{{int64(1), "only"}}}, false)
	require.NoError(t, err)
	_, hasID := frame.Column("id")
	assert.False(t, hasID)

	_, err = readFrame(&fakeRows{err: errors.New("connection reset")}, false)
	assert.ErrorContains(t, err, "connection reset")
}

func TestReadFocal(t *testing.T) {
	rows := &fakeRows{rows: [][]interface{}{{int64(1000), "id-1", "boom", "web-1"}}}
	focal, err := readFocal(rows, appSource)
	require.NoError(t, err)
	assert.Equal(t, logcontext.FocalRow{
		ID:              "id-1",
		TimestampMillis: 1000,
		Line:            "boom",
		Stream:          []logcontext.StreamLabel{{Name: "host", Value: "web-1"}},
	}, focal)

	_, err = readFocal(&fakeRows{}, appSource)
	assert.True(t, errors.Is(err, ErrFocalNotFound))
}

// failingQuerier counts calls and always fails
type failingQuerier struct {
	calls int32
	err   error
}

func (f *failingQuerier) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, f.err
}

func TestFetchContextOpensBreaker(t *testing.T) {
	q := &failingQuerier{err: errors.New("code: 241, memory limit exceeded")}
	ch := NewClickHouse(q, appSource)
	opts := logcontext.FetchOptions{Direction: logcontext.Before, Limit: 10}

	for i := 0; i < breakerErrorThreshold; i++ {
		_, err := ch.FetchContext(context.Background(), logcontext.FocalRow{}, opts)
		require.ErrorContains(t, err, "memory limit exceeded")
		assert.ErrorContains(t, err, "before context query failed")
	}

	_, err := ch.FetchContext(context.Background(), logcontext.FocalRow{}, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is failing")
	assert.Equal(t, int32(breakerErrorThreshold), atomic.LoadInt32(&q.calls))
}

func TestFetchContextCancellationDoesNotTripBreaker(t *testing.T) {
	q := &failingQuerier{err: context.Canceled}
	ch := NewClickHouse(q, appSource)
	opts := logcontext.FetchOptions{Direction: logcontext.After, Limit: 11}

	for i := 0; i < breakerErrorThreshold+2; i++ {
		_, err := ch.FetchContext(context.Background(), logcontext.FocalRow{}, opts)
		require.True(t, errors.Is(err, context.Canceled))
	}
	assert.Equal(t, int32(breakerErrorThreshold+2), atomic.LoadInt32(&q.calls))
}

func TestFindFocalRequiresIDField(t *testing.T) {
	src := appSource
	src.IDField = ""
	_, err := NewClickHouse(&failingQuerier{}, src).FindFocal(context.Background(), time.Now(), "abc")
	assert.ErrorContains(t, err, "has no id_field")
}

func TestExplainPlain(t *testing.T) {
	ch := NewClickHouse(nil, appSource)
	var buf bytes.Buffer
	focal := logcontext.FocalRow{TimestampMillis: 7, Stream: []logcontext.StreamLabel{{Name: "host", Value: "web-1"}}}

	require.NoError(t, ch.Explain(&buf, focal, 10, false))
	out := buf.String()
	assert.Contains(t, out, "-- before, args: [7, \"web-1\"]\n")
	assert.Contains(t, out, "-- after, args: [7, \"web-1\"]\n")
	assert.Contains(t, out, "LIMIT 10\n")
	assert.Contains(t, out, "LIMIT 11\n)")
}

func TestExplainColor(t *testing.T) {
	ch := NewClickHouse(nil, appSource)
	var buf bytes.Buffer
	require.NoError(t, ch.Explain(&buf, logcontext.FocalRow{}, 10, true))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestExplainWarnsOnParserRejection(t *testing.T) {
	origValidate, origLogger := validateSQL, log.Logger
	t.Cleanup(func() {
		validateSQL = origValidate
		log.Logger = origLogger
	})
	var logs bytes.Buffer
	log.Logger = zerolog.New(&logs)
	validateSQL = func(query string) error {
		if strings.Contains(query, "FROM (") {
			return errors.New("unexpected token FROM (")
		}
		return nil
	}

	var buf bytes.Buffer
	require.NoError(t, NewClickHouse(nil, appSource).Explain(&buf, logcontext.FocalRow{}, 10, false))
	out := buf.String()
	assert.NotContains(t, out, "-- before query did not pass")
	assert.Contains(t, out, "-- after query did not pass the SQL parser, see log\n")
	assert.Contains(t, out, "LIMIT 11\n)")
	assert.Contains(t, logs.String(), `"direction":"after"`)
	assert.Contains(t, logs.String(), "unexpected token FROM (")
}
