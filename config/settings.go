package config

import (
	"strconv"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/helper"
)

// SettingsKey is the key in the main config file holding the pipeline settings.
const SettingsKey = "pipeline"

// RunSettings is the pipeline configuration surface: where to read from, where
// to load to, how the staged rows are tagged and how far the calendar extends.
type RunSettings struct {
	OriginTag           string `mapstructure:"originTag" json:"originTag"`
	SourceConnection    string `mapstructure:"sourceConnection" json:"sourceConnection"`
	WarehouseConnection string `mapstructure:"warehouseConnection" json:"warehouseConnection"`
	// SequenceConnection optionally names a badger connection holding the
	// durable surrogate key counters; when empty the warehouse allocates them.
	SequenceConnection        string `mapstructure:"sequenceConnection" json:"sequenceConnection"`
	CalendarStartYear         int    `mapstructure:"calendarStartYear" json:"calendarStartYear"`
	CalendarSpanYears         int    `mapstructure:"calendarSpanYears" json:"calendarSpanYears"`
	RetryMaxAttempts          int    `mapstructure:"retryMaxAttempts" json:"retryMaxAttempts"`
	RetryBackoffSeconds       int    `mapstructure:"retryBackoffSeconds" json:"retryBackoffSeconds"`
	StatsDumpFrequencySeconds int    `mapstructure:"statsDumpFrequencySeconds" json:"statsDumpFrequencySeconds"`
	// ScheduleSeconds is the interval between loads in serve mode.
	ScheduleSeconds int `mapstructure:"scheduleSeconds" json:"scheduleSeconds"`
	// WebServicePort serves the stats and summary endpoints in serve mode.
	WebServicePort int `mapstructure:"webServicePort" json:"webServicePort"`
}

// LoadRunSettings reads the pipeline settings from the main config file and
// applies environment overrides and defaults. A missing config file yields
// pure defaults so a fresh install can run against env vars alone.
func LoadRunSettings() (*RunSettings, error) {
	s := &RunSettings{}
	if err := Main.Get(SettingsKey, s); err != nil {
		if _, ok := err.(KeyNotFoundError); !ok {
			return nil, err
		}
	}
	s.OriginTag = helper.ReadValueFromEnvWithDefault(c.EnvVarPrefix+"_ORIGIN_TAG", s.OriginTag)
	s.SourceConnection = helper.ReadValueFromEnvWithDefault(c.EnvVarPrefix+"_SOURCE_CONNECTION", s.SourceConnection)
	s.WarehouseConnection = helper.ReadValueFromEnvWithDefault(c.EnvVarPrefix+"_WAREHOUSE_CONNECTION", s.WarehouseConnection)
	s.SequenceConnection = helper.ReadValueFromEnvWithDefault(c.EnvVarPrefix+"_SEQUENCE_CONNECTION", s.SequenceConnection)
	applyIntFromEnv(&s.CalendarStartYear, c.EnvVarPrefix+"_CALENDAR_START_YEAR")
	applyIntFromEnv(&s.CalendarSpanYears, c.EnvVarPrefix+"_CALENDAR_SPAN_YEARS")
	if s.OriginTag == "" {
		s.OriginTag = "starpipe"
	}
	if s.RetryMaxAttempts <= 0 {
		s.RetryMaxAttempts = c.RetryMaxAttemptsDefault
	}
	if s.RetryBackoffSeconds <= 0 {
		s.RetryBackoffSeconds = c.RetryBackoffSecondsDefault
	}
	return s, nil
}

func applyIntFromEnv(target *int, envVarName string) {
	v := helper.ReadValueFromEnvWithDefault(envVarName, "")
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*target = n
	}
}
