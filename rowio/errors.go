package rowio

import (
	"fmt"

	"github.com/pkg/errors"
)

// SchemaError reports a staged row missing a required source column or failing
// type validation. Row-level: the row is rejected and counted, the run continues.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in table %v column %v: %v", e.Table, e.Column, e.Reason)
}

// LookupError reports a failed dimension resolution: the calendar or dimension
// table holds no row for the given lookup value. Row-level: the row is rejected
// and counted; a default key is never substituted.
type LookupError struct {
	Dimension string
	Value     string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no %v dimension row found for value %q", e.Dimension, e.Value)
}

// ConsistencyError reports a history-tracked dimension with zero or more than
// one current row for a natural key. Fatal: the run aborts before mutating
// further state.
type ConsistencyError struct {
	Dimension   string
	NaturalKey  string
	CurrentRows int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("dimension %v holds %v current rows for natural key %q (want exactly 1)",
		e.Dimension, e.CurrentRows, e.NaturalKey)
}

// TransientError wraps a source/sink I/O failure that the orchestrator may
// retry with bounded backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %v: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err so IsTransient reports true for it.
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable I/O failure.
// Logic errors (schema, lookup, consistency) are never transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConsistency reports whether err is a fatal consistency violation.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
