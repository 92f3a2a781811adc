package constants

// Component

const (
	ChanSize                     = 20000
	StatsCaptureFrequencySeconds = 5
	TableOutputBatchSizeDefault  = 1000

	TimeFormatYearSeconds      = "20060102T150405" // used for human readable file names
	TimeFormatYearSecondsRegex = "[0-9]{4}[0-9]{2}[0-9]{2}T[0-9]{6}"
	TimeFormatYearSecondsTZ    = "20060102T150405-0700" // a format that includes the time zone for lossless round trips
	DateFormatCalendar         = "2006-01-02"           // lookup key format for the date dimension
	TimeFormat24h              = "15:04"                // lookup key format for the time-of-day dimension

	// Provenance columns added by the audit stamper to every staged row.
	AuditFieldCreatedBy = "CREATED_BY"
	AuditFieldCreatedDt = "CREATED_DT"
	AuditFieldBatchId   = "BATCH_ID"

	// History-tracked dimension columns.
	ScdFieldEffectiveFrom = "EFFECTIVE_FROM"
	ScdFieldEffectiveTo   = "EFFECTIVE_TO"
	ScdFieldIsCurrent     = "IS_CURRENT"

	EnvVarPrefix = "SP" // prefix for environment variables

	ConnectionTypeMemory = "memory"
	ConnectionTypeMysql  = "mysql"
	ConnectionTypeBadger = "badger"
)

// Orchestrator retry defaults for transient source/sink failures.
const (
	RetryMaxAttemptsDefault    = 3
	RetryBackoffSecondsDefault = 2
)
