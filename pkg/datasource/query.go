package datasource

import (
	"fmt"
	"strings"

	"github.com/Slach/clickhouse-logcontext/pkg/config"
	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
)

// Result columns get private aliases: an alias named like a table column would
// shadow that column inside WHERE.
const (
	aliasTimestamp    = "__ts"
	aliasID           = "__id"
	aliasLine         = "__line"
	aliasStreamPrefix = "__stream_"
)

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func tableName(src config.Source) string {
	return quoteIdentifier(src.Database) + "." + quoteIdentifier(src.Table)
}

func timestampExpr(src config.Source) string {
	return fmt.Sprintf("toUnixTimestamp64Milli(toDateTime64(%s, 3))", quoteIdentifier(src.TimeField))
}

func idExpr(src config.Source) string {
	return fmt.Sprintf("toString(%s)", quoteIdentifier(src.IDField))
}

func selectColumns(src config.Source, withStream bool) string {
	cols := []string{timestampExpr(src) + " AS " + aliasTimestamp}
	if src.IDField != "" {
		cols = append(cols, idExpr(src)+" AS "+aliasID)
	}
	cols = append(cols, fmt.Sprintf("toString(%s) AS %s", quoteIdentifier(src.MessageField), aliasLine))
	if withStream {
		for i, field := range src.StreamFields {
			cols = append(cols, fmt.Sprintf("toString(%s) AS %s%d", quoteIdentifier(field), aliasStreamPrefix, i))
		}
	}
	return strings.Join(cols, ", ")
}

func streamConditions(src config.Source) []string {
	conds := make([]string, 0, len(src.StreamFields))
	for _, field := range src.StreamFields {
		conds = append(conds, fmt.Sprintf("toString(%s) = ?", quoteIdentifier(field)))
	}
	return conds
}

// splitsByID reports whether context queries order rows by (timestamp, id).
// Rows sharing the focal millisecond then fall on the side their id puts them,
// instead of all landing after the focal row.
func splitsByID(src config.Source, focal logcontext.FocalRow) bool {
	return src.IDField != "" && focal.HasID()
}

// buildContextQuery renders the SQL for one direction. Before reads strictly
// older rows; After reads from the focal row on, inclusive. Both return rows
// newest-first. Placeholders are the focal millis, with byID the focal millis
// again and the focal id, then the stream values.
func buildContextQuery(src config.Source, d logcontext.Direction, limit int, byID bool) string {
	timeField := quoteIdentifier(src.TimeField)
	op, order := "<", "DESC"
	if d == logcontext.After {
		op, order = ">=", "ASC"
	}

	var conds []string
	orderBy := timeField + " " + order
	if byID {
		// the plain range keeps primary key pruning, the tuple splits the focal millisecond
		rangeCond := fmt.Sprintf("%s < fromUnixTimestamp64Milli(toInt64(?) + 1)", timeField)
		if d == logcontext.After {
			rangeCond = fmt.Sprintf("%s >= fromUnixTimestamp64Milli(toInt64(?))", timeField)
		}
		conds = append(conds,
			rangeCond,
			fmt.Sprintf("(%s, %s) %s (toInt64(?), ?)", timestampExpr(src), idExpr(src), op),
		)
		orderBy = aliasTimestamp + " " + order + ", " + aliasID + " " + order
	} else {
		conds = append(conds, fmt.Sprintf("%s %s fromUnixTimestamp64Milli(toInt64(?))", timeField, op))
		if src.IDField != "" {
			orderBy += ", " + quoteIdentifier(src.IDField) + " " + order
		}
	}
	conds = append(conds, streamConditions(src)...)

	query := fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s\nORDER BY %s\nLIMIT %d",
		selectColumns(src, false),
		tableName(src),
		strings.Join(conds, " AND "),
		orderBy,
		limit,
	)
	if d == logcontext.After {
		// the nearest rows are picked ascending, then flipped to newest-first
		outerOrder := aliasTimestamp + " DESC"
		if src.IDField != "" {
			outerOrder += ", " + aliasID + " DESC"
		}
		query = fmt.Sprintf("SELECT *\nFROM (\n%s\n)\nORDER BY %s", query, outerOrder)
	}
	return query
}

// contextArgs returns the placeholder values of a context query. Stream labels
// are matched to the configured fields by name.
func contextArgs(src config.Source, focal logcontext.FocalRow) []interface{} {
	args := []interface{}{focal.TimestampMillis}
	if splitsByID(src, focal) {
		args = append(args, focal.TimestampMillis, focal.ID)
	}
	for _, field := range src.StreamFields {
		value := ""
		for _, label := range focal.Stream {
			if label.Name == field {
				value = label.Value
				break
			}
		}
		args = append(args, value)
	}
	return args
}

// buildFocalQuery renders the lookup of the focal row: the row with the given id
// when one is set, otherwise the first row at or after the timestamp.
func buildFocalQuery(src config.Source, byID bool) string {
	timeField := quoteIdentifier(src.TimeField)
	conds := []string{fmt.Sprintf("%s >= fromUnixTimestamp64Milli(toInt64(?))", timeField)}
	if byID {
		conds = append(conds, fmt.Sprintf("toString(%s) = ?", quoteIdentifier(src.IDField)))
	}
	return fmt.Sprintf("SELECT %s\nFROM %s\nWHERE %s\nORDER BY %s ASC\nLIMIT 1",
		selectColumns(src, true),
		tableName(src),
		strings.Join(conds, " AND "),
		timeField,
	)
}
