package pipeline

import (
	"testing"
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/rowio/memstore"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

var testLog = logger.NewLogger("starpipe-test", "error", true)

func makeRecord(data map[string]interface{}) stream.Record {
	rec := stream.NewRecord()
	for k, v := range data {
		rec.SetData(k, v)
	}
	return rec
}

// seedSource populates an operational source with two customers, two invoices
// on the same day and their line items, plus one artist and album.
func seedSource(t *testing.T) *memstore.MemStore {
	t.Helper()
	src := memstore.NewMemStore()
	write := func(table, keyCol string, rows ...stream.Record) {
		_, err := src.Write(table, []string{keyCol}, rows, rowio.ModeInsert)
		require.NoError(t, err)
	}
	// Lower-case source column names exercise the staging normalisation.
	write("customers", "customer_id",
		makeRecord(map[string]interface{}{"customer_id": 1, "first_name": "Alice", "last_name": "Smith", "city": "Boston", "country": "USA", "email": "alice@example.com"}),
		makeRecord(map[string]interface{}{"customer_id": 2, "first_name": "Bob", "last_name": "Jones", "city": "Lisbon", "country": "Portugal", "email": "bob@example.com"}),
	)
	when := time.Date(2025, time.March, 1, 10, 30, 0, 0, time.UTC)
	write("invoices", "invoice_id",
		makeRecord(map[string]interface{}{"invoice_id": 100, "customer_id": 1, "invoice_date": when}),
		makeRecord(map[string]interface{}{"invoice_id": 101, "customer_id": 2, "invoice_date": when}),
	)
	write("invoice_items", "invoice_line_id",
		makeRecord(map[string]interface{}{"invoice_line_id": 1, "invoice_id": 100, "quantity": 2, "unit_price": 1.5}),
		makeRecord(map[string]interface{}{"invoice_line_id": 2, "invoice_id": 100, "quantity": 1, "unit_price": 2.0}),
		makeRecord(map[string]interface{}{"invoice_line_id": 3, "invoice_id": 101, "quantity": 3, "unit_price": 0.99}),
	)
	write("artists", "artist_id",
		makeRecord(map[string]interface{}{"artist_id": 1, "name": "AC/DC"}),
	)
	write("albums", "album_id",
		makeRecord(map[string]interface{}{"album_id": 10, "artist_id": 1, "title": "Back in Black"}),
	)
	return src
}

func newTestPipeline(t *testing.T, src *memstore.MemStore, wh *memstore.MemStore, day time.Time) *Pipeline {
	t.Helper()
	p, err := New(&Config{
		Log:               testLog,
		Model:             schema.DefaultModel(),
		Source:            src,
		Store:             wh,
		OriginTag:         "starpipe-test",
		Clock:             func() time.Time { return day },
		CalendarStartYear: 2025,
		CalendarSpanYears: 1,
		Retry:             RetryPolicy{MaxAttempts: 3, BackoffSeconds: 1},
	})
	require.NoError(t, err)
	return p
}

func currentCustomers(wh *memstore.MemStore) map[string]string {
	out := make(map[string]string)
	for _, rec := range wh.Rows(schema.TableDimCustomer) {
		if b, ok := rec.GetData(c.ScdFieldIsCurrent).(bool); ok && b {
			out[rec.GetDataAsStringUseUtcTime(testLog, "CUSTOMER_ID")] = rec.GetDataAsStringUseUtcTime(testLog, "CITY")
		}
	}
	return out
}

func TestPipelineFullLoad(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	day := time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC)
	p := newTestPipeline(t, src, wh, day)
	r, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.TotalRejected)

	assert.Equal(t, 2, wh.RowCount("stg_customers"))
	assert.Equal(t, 2, wh.RowCount("stg_invoices"))
	assert.Equal(t, 3, wh.RowCount("stg_invoice_items"))
	assert.Equal(t, 365, wh.RowCount(schema.TableDimDate))
	assert.Equal(t, 1440, wh.RowCount(schema.TableDimTime))
	assert.Equal(t, 1, wh.RowCount(schema.TableDimArtist))
	assert.Equal(t, 1, wh.RowCount(schema.TableDimAlbum))
	assert.Equal(t, 2, wh.RowCount(schema.TableDimInvoice))
	assert.Equal(t, 2, wh.RowCount(schema.TableDimCustomer))
	assert.Equal(t, 2, wh.RowCount(schema.TableFactSales))

	// Measures aggregate line items to invoice grain.
	totals := make(map[string]interface{})
	for _, rec := range wh.Rows(schema.TableFactSales) {
		totals[rec.GetDataAsStringUseUtcTime(testLog, "INVOICE_ID")] = rec.GetData("TOTAL_AMOUNT")
	}
	assert.Equal(t, 5.0, totals["100"])
	assert.InDelta(t, 2.97, totals["101"].(float64), 0.0001)
}

func TestPipelineRerunIsIdempotent(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	day := time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC)
	_, err := newTestPipeline(t, src, wh, day).Run(context.Background())
	require.NoError(t, err)
	before := wh.RowCount(schema.TableFactSales)
	_, err = newTestPipeline(t, src, wh, day).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, wh.RowCount(schema.TableFactSales))
	assert.Equal(t, 2, wh.RowCount(schema.TableDimCustomer))
	assert.Equal(t, 365, wh.RowCount(schema.TableDimDate))
}

func TestPipelineTracksCustomerHistory(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	day1 := time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC)
	_, err := newTestPipeline(t, src, wh, day1).Run(context.Background())
	require.NoError(t, err)

	// Alice moves city between loads.
	_, err = src.Write("customers", []string{"customer_id"}, []stream.Record{
		makeRecord(map[string]interface{}{"customer_id": 1, "first_name": "Alice", "last_name": "Smith", "city": "Seattle", "country": "USA", "email": "alice@example.com"}),
	}, rowio.ModeUpsert)
	require.NoError(t, err)

	day2 := time.Date(2025, time.March, 12, 8, 0, 0, 0, time.UTC)
	_, err = newTestPipeline(t, src, wh, day2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, wh.RowCount(schema.TableDimCustomer)) // two versions of Alice, one of Bob.
	currents := currentCustomers(wh)
	require.Len(t, currents, 2)
	assert.Equal(t, "Seattle", currents["1"])
	assert.Equal(t, "Lisbon", currents["2"])
	// No invoice changed, so no new facts.
	assert.Equal(t, 2, wh.RowCount(schema.TableFactSales))
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	wh.FailNext("read", "stg_invoices", 1) // first fact-stage read fails.
	day := time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC)
	_, err := newTestPipeline(t, src, wh, day).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, wh.RowCount(schema.TableFactSales))
}

func TestPipelineRetriesStagingWriteFailure(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	wh.FailNext("write", "stg_customers", 1)
	day := time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC)
	// The failed writer drains its input so the stage winds down and the
	// retry can re-stage; upserts make the second attempt land cleanly.
	_, err := newTestPipeline(t, src, wh, day).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, wh.RowCount("stg_customers"))
	assert.Equal(t, 2, wh.RowCount(schema.TableFactSales))
}

func TestPipelineDoesNotRetryConsistencyErrors(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	day := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	// Seed a corrupted customer dimension: two current rows for one key.
	seed := make([]stream.Record, 0, 2)
	for i := int64(1); i <= 2; i++ {
		seed = append(seed, makeRecord(map[string]interface{}{
			"CUSTOMER_KEY":          i,
			"CUSTOMER_ID":           1,
			"CITY":                  "Boston",
			c.ScdFieldEffectiveFrom: day,
			c.ScdFieldEffectiveTo:   nil,
			c.ScdFieldIsCurrent:     true,
		}))
	}
	_, err := wh.Write(schema.TableDimCustomer, []string{"CUSTOMER_KEY"}, seed, rowio.ModeInsert)
	require.NoError(t, err)

	_, err = newTestPipeline(t, src, wh, day).Run(context.Background())
	require.Error(t, err)
	assert.True(t, rowio.IsConsistency(err))
}

func TestPipelineHonoursCancellation(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	day := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	_, err := newTestPipeline(t, src, wh, day).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
