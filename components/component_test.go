package components

import (
	"time"

	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/stream"
)

var testLog = logger.NewLogger("starpipe-test", "error", true)

// makeRecord builds a record from column/value pairs.
func makeRecord(data map[string]interface{}) stream.Record {
	rec := stream.NewRecord()
	for k, v := range data {
		rec.SetData(k, v)
	}
	return rec
}

// makeInput returns a closed channel preloaded with the given rows, standing in
// for an upstream component that has finished.
func makeInput(rows ...stream.Record) chan stream.Record {
	ch := make(chan stream.Record, len(rows)+1)
	for _, rec := range rows {
		ch <- rec
	}
	close(ch)
	return ch
}

// drain collects every row from a component output channel.
func drain(ch chan stream.Record) []stream.Record {
	out := make([]stream.Record, 0)
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

// fixedClock returns a Clock function pinned to the given calendar day.
func fixedClock(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 10, 30, 0, 0, time.UTC)
	}
}
