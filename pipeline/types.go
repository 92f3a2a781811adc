package pipeline

import (
	"time"

	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
)

// RetryPolicy bounds the retry behaviour applied to stages that fail with a
// transient I/O error. Schema, lookup and consistency errors are never retried.
type RetryPolicy struct {
	MaxAttempts    int // total attempts including the first.
	BackoffSeconds int // base backoff; attempt n waits n * BackoffSeconds.
}

// Config describes one pipeline run.
type Config struct {
	Log    logger.Logger
	Model  schema.Model
	Source rowio.Source // operational source tables to stage.
	Store  rowio.Store  // warehouse store holding staged, dimension and fact tables.
	Seq    rowio.Sequence
	// OriginTag is stamped as CREATED_BY on every staged row.
	OriginTag string
	// BatchId identifies the run; a fresh guid is generated when empty.
	BatchId           string
	Clock             func() time.Time
	CalendarStartYear int
	CalendarSpanYears int
	Retry             RetryPolicy
	// StatsDumpFrequencySeconds <= 0 disables the periodic stats dump.
	StatsDumpFrequencySeconds int
}
