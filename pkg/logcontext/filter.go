package logcontext

// FilterFocal drops the focal row from rows and returns the remaining lines.
//
// When the batch carries ids the match is exact. Without ids it falls back to the
// timestamp, which also drops unrelated rows logged at the same millisecond.
// A focal row without an id always uses the timestamp rule.
func FilterFocal(rows []FlattenedRow, focal FocalRow) []string {
	byID := false
	if focal.HasID() {
		for _, r := range rows {
			if r.HasID {
				byID = true
				break
			}
		}
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		if byID {
			if r.HasID && r.ID == focal.ID {
				continue
			}
		} else if r.TimestampMillis == focal.TimestampMillis {
			continue
		}
		lines = append(lines, r.Line)
	}
	return lines
}
