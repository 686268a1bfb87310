package datasource

import (
	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/pkg/errors"
)

// rowScanner is the part of *sql.Rows the frame reader needs
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// readFrame collects query rows into a single frame with ts, id and line columns.
// The id column is present only when the source has an id field.
func readFrame(rows rowScanner, withID bool) (logcontext.Frame, error) {
	var ts, ids, lines []interface{}
	for rows.Next() {
		var (
			millis int64
			id     string
			line   string
		)
		dest := []interface{}{&millis}
		if withID {
			dest = append(dest, &id)
		}
		dest = append(dest, &line)
		if err := rows.Scan(dest...); err != nil {
			return logcontext.Frame{}, errors.Wrap(err, "error scanning row")
		}
		ts = append(ts, millis)
		if withID {
			ids = append(ids, id)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return logcontext.Frame{}, errors.Wrap(err, "error reading rows")
	}

	frame := logcontext.Frame{Columns: []logcontext.Column{{Name: "ts", Values: ts}}}
	if withID {
		frame.Columns = append(frame.Columns, logcontext.Column{Name: "id", Values: ids})
	}
	frame.Columns = append(frame.Columns, logcontext.Column{Name: "line", Values: lines})
	return frame, nil
}
