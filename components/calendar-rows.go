package components

import (
	"fmt"
	"sync/atomic"
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type DateDimensionRowsConfig struct {
	Log            logger.Logger
	Name           string
	StartYear      int          // first calendar year to generate.
	SpanYears      int          // number of years to generate.
	Lookup         rowio.Source // used to read existing CAL_DATE keys so re-runs create only absent rows.
	Seq            rowio.Sequence
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error
}

// NewDateDimensionRows emits one date dimension row per calendar day over the
// configured horizon. Attributes are derived arithmetically from the date.
// The build is idempotent: existing CAL_DATE values are read from the lookup
// source first and only absent days are generated.
func NewDateDimensionRows(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*DateDimensionRowsConfig)
	if cfg.StartYear <= 0 || cfg.SpanYears <= 0 {
		cfg.Log.Panic(cfg.Name, " bad calendar horizon - please supply a start year and span in years")
	}
	outputChan = make(chan stream.Record, c.ChanSize)
	controlChan = make(chan ControlAction, 1)
	go func() {
		if cfg.PanicHandlerFn != nil {
			defer cfg.PanicHandlerFn()
		}
		cfg.Log.Info(cfg.Name, " is running")
		if cfg.WaitCounter != nil {
			cfg.WaitCounter.Add()
			defer cfg.WaitCounter.Done()
		}
		rowCount := int64(0)
		if cfg.StepWatcher != nil {
			cfg.StepWatcher.StartWatching(&rowCount, &outputChan)
			defer cfg.StepWatcher.StopWatching()
		}
		existing, err := readKeySet(cfg.Lookup, schema.TableDimDate, schema.ColCalDate, cfg.Log)
		if err != nil {
			cfg.Log.Error(cfg.Name, " failed to read existing date dimension keys: ", err)
			raiseError(cfg.ErrorChan, err)
			close(outputChan)
			return
		}
		start := time.Date(cfg.StartYear, 1, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(cfg.SpanYears, 0, 0)
		for d := start; d.Before(end); d = d.AddDate(0, 0, 1) { // for each calendar day in the horizon...
			calDate := d.Format(c.DateFormatCalendar)
			if existing[calDate] { // create-if-absent: re-running must not duplicate rows.
				continue
			}
			key, err := cfg.Seq.Next(schema.TableDimDate)
			if err != nil {
				cfg.Log.Error(cfg.Name, " failed to allocate surrogate key: ", err)
				raiseError(cfg.ErrorChan, err)
				close(outputChan)
				return
			}
			rec := stream.NewRecord()
			rec.SetData(schema.ColDateKey, key)
			rec.SetData(schema.ColCalDate, calDate)
			rec.SetData("YEAR", d.Year())
			rec.SetData("QUARTER", (int(d.Month())-1)/3+1)
			rec.SetData("MONTH", int(d.Month()))
			rec.SetData("DAY_OF_WEEK", int(d.Weekday()))
			rec.SetData("IS_WEEKEND", d.Weekday() == time.Saturday || d.Weekday() == time.Sunday)
			atomic.AddInt64(&rowCount, 1)
			if recSentOK := safeSend(rec, outputChan, controlChan, sendNilControlResponse); !recSentOK {
				cfg.Log.Info(cfg.Name, " shutdown")
				return
			}
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}

type TimeDimensionRowsConfig struct {
	Log            logger.Logger
	Name           string
	Lookup         rowio.Source
	Seq            rowio.Sequence
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error
}

// NewTimeDimensionRows emits one time-of-day dimension row per minute of a
// 24-hour day (1440 rows), keyed for lookup by the formatted 24-hour string.
// Idempotent via the same create-if-absent check as the date dimension.
func NewTimeDimensionRows(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*TimeDimensionRowsConfig)
	outputChan = make(chan stream.Record, c.ChanSize)
	controlChan = make(chan ControlAction, 1)
	go func() {
		if cfg.PanicHandlerFn != nil {
			defer cfg.PanicHandlerFn()
		}
		cfg.Log.Info(cfg.Name, " is running")
		if cfg.WaitCounter != nil {
			cfg.WaitCounter.Add()
			defer cfg.WaitCounter.Done()
		}
		rowCount := int64(0)
		if cfg.StepWatcher != nil {
			cfg.StepWatcher.StartWatching(&rowCount, &outputChan)
			defer cfg.StepWatcher.StopWatching()
		}
		existing, err := readKeySet(cfg.Lookup, schema.TableDimTime, schema.ColTime24h, cfg.Log)
		if err != nil {
			cfg.Log.Error(cfg.Name, " failed to read existing time dimension keys: ", err)
			raiseError(cfg.ErrorChan, err)
			close(outputChan)
			return
		}
		for minuteOfDay := 0; minuteOfDay < 24*60; minuteOfDay++ { // for each minute of the day...
			hour := minuteOfDay / 60
			minute := minuteOfDay % 60
			time24h := fmt.Sprintf("%02d:%02d", hour, minute)
			if existing[time24h] {
				continue
			}
			key, err := cfg.Seq.Next(schema.TableDimTime)
			if err != nil {
				cfg.Log.Error(cfg.Name, " failed to allocate surrogate key: ", err)
				raiseError(cfg.ErrorChan, err)
				close(outputChan)
				return
			}
			amPm := "AM"
			if hour >= 12 {
				amPm = "PM"
			}
			rec := stream.NewRecord()
			rec.SetData(schema.ColTimeKey, key)
			rec.SetData(schema.ColTime24h, time24h)
			rec.SetData("HOUR", hour)
			rec.SetData("MINUTE", minute)
			rec.SetData("AM_PM", amPm)
			atomic.AddInt64(&rowCount, 1)
			if recSentOK := safeSend(rec, outputChan, controlChan, sendNilControlResponse); !recSentOK {
				cfg.Log.Info(cfg.Name, " shutdown")
				return
			}
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}

// readKeySet drains tableName from the lookup source and returns the set of
// string renditions of keyCol values.
func readKeySet(lookup rowio.Source, tableName string, keyCol string, log logger.Logger) (map[string]bool, error) {
	existing := make(map[string]bool)
	if lookup == nil {
		return existing, nil
	}
	rows, err := lookup.Read(tableName)
	if err != nil {
		return nil, err
	}
	for rec := range rows {
		if v, ok := rec.GetDataOk(keyCol); ok {
			existing[keyString(v)] = true
		}
	}
	return existing, nil
}

// keyString renders a lookup key value as a string. Database drivers deliver
// text columns as []uint8, which must not fall through to %v formatting.
func keyString(v interface{}) string {
	if b, ok := v.([]uint8); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
