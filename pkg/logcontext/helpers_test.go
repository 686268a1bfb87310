package logcontext

import (
	"context"
	"fmt"
	"strconv"
)

// frameWithIDs builds a frame whose ts and id columns share the same values
func frameWithIDs(ids ...int64) Frame {
	ts := make([]interface{}, len(ids))
	idVals := make([]interface{}, len(ids))
	lines := make([]interface{}, len(ids))
	for i, id := range ids {
		ts[i] = id
		idVals[i] = strconv.FormatInt(id, 10)
		lines[i] = strconv.FormatInt(id, 10)
	}
	return Frame{Columns: []Column{
		{Name: "ts", Values: ts},
		{Name: "id", Values: idVals},
		{Name: "line", Values: lines},
		{Name: "labels", Values: make([]interface{}, len(ids))},
	}}
}

// frameWithoutIDs builds a frame with ts and line columns only
func frameWithoutIDs(ts ...int64) Frame {
	tsVals := make([]interface{}, len(ts))
	lines := make([]interface{}, len(ts))
	for i, v := range ts {
		tsVals[i] = v
		lines[i] = fmt.Sprintf("line@%d", v)
	}
	return Frame{Columns: []Column{
		{Name: "line", Values: lines},
		{Name: "ts", Values: tsVals},
	}}
}

// pagedExecutor mimics a data source holding beforeTotal rows older than the
// focal row and afterTotal rows newer than it. The focal row itself (id "0",
// ts 1000) is part of every After answer.
type pagedExecutor struct {
	beforeTotal int
	afterTotal  int
}

func (p pagedExecutor) FetchContext(_ context.Context, _ FocalRow, opts FetchOptions) (RawBatch, error) {
	var ids []int64
	switch opts.Direction {
	case Before:
		for i := 1; i <= opts.Limit && i <= p.beforeTotal; i++ {
			ids = append(ids, 1000-int64(i))
		}
	case After:
		for i := 0; i < opts.Limit && i <= p.afterTotal; i++ {
			ids = append(ids, 1000+int64(i))
		}
	}
	frame := frameWithIDs(ids...)
	// the focal row has id "0" while sharing ts 1000 with nothing else
	for i, id := range ids {
		if id == 1000 {
			frame.Columns[1].Values[i] = "0"
		}
	}
	return RawBatch{frame}, nil
}

var pagedFocal = FocalRow{ID: "0", TimestampMillis: 1000, Line: "focal"}
