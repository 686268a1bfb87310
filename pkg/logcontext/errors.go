package logcontext

import (
	"github.com/pkg/errors"
)

const (
	fieldTimestamp = "ts"
	fieldID        = "id"
	fieldLine      = "line"
)

// ErrSchemaViolation is returned when a frame can't be read as log rows
var ErrSchemaViolation = errors.New("schema violation")

func schemaViolation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrSchemaViolation, format, args...)
}
