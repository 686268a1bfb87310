package logcontext

// Direction selects which side of the focal row a context query reads
type Direction int

const (
	Before Direction = iota
	After
)

func (d Direction) String() string {
	switch d {
	case Before:
		return "before"
	case After:
		return "after"
	}
	return "unknown"
}

// Directions lists both directions in display order
var Directions = [2]Direction{Before, After}

// SortOrder is the order the consumer displays rows in
type SortOrder string

const (
	SortDescending SortOrder = "desc"
	SortAscending  SortOrder = "asc"
)

// Reversed reports whether fetched lines must be reversed before display.
// Data sources return context newest-first, so only ascending display flips it.
func (o SortOrder) Reversed() bool {
	return o == SortAscending
}

// StreamLabel is one field/value pair identifying the stream a log row belongs to
type StreamLabel struct {
	Name  string
	Value string
}

// FocalRow is the log entry context is requested around
type FocalRow struct {
	// ID is empty for data sources without stable row ids
	ID              string
	TimestampMillis int64
	Line            string
	Stream          []StreamLabel
}

// HasID reports whether the row carries a stable id
func (r FocalRow) HasID() bool {
	return r.ID != ""
}

// Column is a named column of a result frame
type Column struct {
	Name   string
	Values []interface{}
}

// Frame is one block of columnar results
type Frame struct {
	Columns []Column
}

// Column returns the column with the given name
func (f Frame) Column(name string) (Column, bool) {
	for _, c := range f.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// RawBatch is everything an executor returned for one direction
type RawBatch []Frame

// FlattenedRow is a single row extracted from a batch
type FlattenedRow struct {
	TimestampMillis int64
	ID              string
	HasID           bool
	Line            string
}

// ContextResult holds the final lines for one direction
type ContextResult struct {
	Direction Direction
	Rows      []string
	// Error is empty when the fetch succeeded
	Error string
}
