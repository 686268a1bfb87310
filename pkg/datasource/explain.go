package datasource

import (
	"fmt"
	"io"
	"strings"

	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/ajitpratap0/GoSQLX/pkg/gosqlx"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// validateSQL parses a query without running it
var validateSQL = gosqlx.Validate

// checkQuery reports queries the generic SQL parser rejects. ClickHouse accepts
// more than the parser does, so a rejection is only a warning.
func checkQuery(d logcontext.Direction, query string) bool {
	if err := validateSQL(query); err != nil {
		log.Warn().Err(err).Str("direction", d.String()).Str("query", query).Msg("context query did not pass SQL parser")
		return false
	}
	return true
}

// Explain writes the two context queries a fetch round at limit would run.
// With color the SQL is highlighted for a 256-color terminal.
func (c *ClickHouse) Explain(w io.Writer, focal logcontext.FocalRow, limit int, color bool) error {
	for _, d := range logcontext.Directions {
		query, args := c.ContextQuery(focal, logcontext.FetchOptions{Direction: d, Limit: logcontext.QueryLimit(d, limit)})
		if _, err := fmt.Fprintf(w, "-- %s, args: %s\n", d, formatArgs(args)); err != nil {
			return err
		}
		if !checkQuery(d, query) {
			if _, err := fmt.Fprintf(w, "-- %s query did not pass the SQL parser, see log\n", d); err != nil {
				return err
			}
		}
		if color {
			if err := quick.Highlight(w, query+"\n", "sql", "terminal256", "monokai"); err != nil {
				return errors.Wrap(err, "can't highlight query")
			}
		} else if _, err := io.WriteString(w, query+"\n"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

func formatArgs(args []interface{}) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprint(arg)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
