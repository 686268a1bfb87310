package logcontext

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Flatten extracts rows from every frame of the batch in received order.
// A frame without a ts column fails the whole batch: dropping its rows silently
// would corrupt the counts load-more relies on.
func Flatten(batch RawBatch) ([]FlattenedRow, error) {
	var rows []FlattenedRow
	for frameIdx, frame := range batch {
		tsCol, ok := frame.Column(fieldTimestamp)
		if !ok {
			return nil, schemaViolation("frame %d has no %q column", frameIdx, fieldTimestamp)
		}
		idCol, hasIDs := frame.Column(fieldID)
		lineCol, _ := frame.Column(fieldLine)

		for i, raw := range tsCol.Values {
			ts, err := toMillis(raw)
			if err != nil {
				return nil, schemaViolation("frame %d row %d: %v", frameIdx, i, err)
			}
			row := FlattenedRow{TimestampMillis: ts}
			if hasIDs {
				row.ID, row.HasID = cellString(idCol.Values, i)
			}
			row.Line, _ = cellString(lineCol.Values, i)
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func toMillis(v interface{}) (int64, error) {
	switch ts := v.(type) {
	case int64:
		return ts, nil
	case int:
		return int64(ts), nil
	case int32:
		return int64(ts), nil
	case uint32:
		return int64(ts), nil
	case uint64:
		if ts > math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %d overflows int64", ts)
		}
		return int64(ts), nil
	case float64:
		return floatMillis(ts)
	case string:
		s := strings.TrimSpace(ts)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatMillis(f)
		}
		return 0, fmt.Errorf("can't parse timestamp %q", ts)
	case time.Time:
		return ts.UnixMilli(), nil
	case *time.Time:
		if ts == nil {
			return 0, fmt.Errorf("nil timestamp")
		}
		return ts.UnixMilli(), nil
	case nil:
		return 0, fmt.Errorf("nil timestamp")
	}
	return 0, fmt.Errorf("unsupported timestamp type %T", v)
}

func floatMillis(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("timestamp %v is out of range", f)
	}
	return int64(f), nil
}

// cellString returns values[i] as a string; false when the cell is missing or null
func cellString(values []interface{}, i int) (string, bool) {
	if i >= len(values) || values[i] == nil {
		return "", false
	}
	switch s := values[i].(type) {
	case string:
		return s, true
	case *string:
		if s == nil {
			return "", false
		}
		return *s, true
	case []byte:
		return string(s), true
	}
	return fmt.Sprint(values[i]), true
}
