package logcontext

// Aggregate turns a fetch round into display-ready results for both directions.
// Errors are recovered here: a failed direction gets no rows and its message.
func Aggregate(focal FocalRow, outcomes Outcomes, order SortOrder) (before, after ContextResult) {
	before = aggregateOne(Before, focal, outcomes.Before, order)
	after = aggregateOne(After, focal, outcomes.After, order)
	return before, after
}

func aggregateOne(d Direction, focal FocalRow, outcome Outcome, order SortOrder) ContextResult {
	res := ContextResult{Direction: d, Rows: []string{}}
	if outcome.Err != nil {
		res.Error = outcome.Err.Error()
		return res
	}
	rows, err := Flatten(outcome.Batch)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Rows = FilterFocal(rows, focal)
	if order.Reversed() {
		reverseLines(res.Rows)
	}
	return res
}

func reverseLines(lines []string) {
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
}
