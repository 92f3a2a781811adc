package actions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/pipeline"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/rowio/memstore"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stream"
	"github.com/pkg/errors"
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

func seedSource(t *testing.T) *memstore.MemStore {
	t.Helper()
	src := memstore.NewMemStore()
	write := func(table, keyCol string, rows ...stream.Record) {
		_, err := src.Write(table, []string{keyCol}, rows, rowio.ModeInsert)
		require.NoError(t, err)
	}
	write("customers", "customer_id",
		makeRecord(map[string]interface{}{"customer_id": 1, "first_name": "Alice", "last_name": "Smith", "city": "Boston", "country": "USA", "email": "alice@example.com"}),
	)
	when := time.Date(2025, time.March, 1, 10, 30, 0, 0, time.UTC)
	write("invoices", "invoice_id",
		makeRecord(map[string]interface{}{"invoice_id": 100, "customer_id": 1, "invoice_date": when}),
	)
	write("invoice_items", "invoice_line_id",
		makeRecord(map[string]interface{}{"invoice_line_id": 1, "invoice_id": 100, "quantity": 2, "unit_price": 1.5}),
	)
	return src
}

func testFactory(t *testing.T, src *memstore.MemStore, wh *memstore.MemStore, cleanupCount *int) PipelineFactory {
	t.Helper()
	day := time.Date(2025, time.March, 2, 6, 0, 0, 0, time.UTC)
	return func() (*pipeline.Pipeline, func(), error) {
		p, err := pipeline.New(&pipeline.Config{
			Log:               testLog,
			Model:             schema.DefaultModel(),
			Source:            src,
			Store:             wh,
			OriginTag:         "starpipe-test",
			Clock:             func() time.Time { return day },
			CalendarStartYear: 2025,
			CalendarSpanYears: 1,
			Retry:             pipeline.RetryPolicy{MaxAttempts: 2, BackoffSeconds: 1},
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { *cleanupCount++ }, nil
	}
}

func waitForIdle(t *testing.T, svc *LoadService) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for svc.IsRunning() || len(svc.History()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for load to complete")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoadServiceRunsLoadAndRecordsHistory(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	cleanups := 0
	svc := NewLoadService(testLog, testFactory(t, src, wh, &cleanups))
	batchId, err := svc.StartLoad(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, batchId)
	waitForIdle(t, svc)
	require.Equal(t, 1, cleanups)
	rec, ok := svc.LastRun()
	require.True(t, ok)
	assert.Equal(t, batchId, rec.BatchId)
	assert.Equal(t, "ok", rec.Outcome)
	assert.True(t, rec.Summary.TotalWritten > 0)
	assert.Equal(t, 1, wh.RowCount(schema.TableFactSales))
}

func TestLoadServiceRejectsConcurrentLoads(t *testing.T) {
	svc := NewLoadService(testLog, nil)
	svc.mu.Lock()
	svc.running = true
	svc.mu.Unlock()
	_, err := svc.StartLoad(context.Background())
	assert.Equal(t, ErrLoadInProgress, err)
}

func TestLoadServiceReportsFactoryError(t *testing.T) {
	svc := NewLoadService(testLog, func() (*pipeline.Pipeline, func(), error) {
		return nil, nil, errors.New("no connection")
	})
	_, err := svc.StartLoad(context.Background())
	require.Error(t, err)
	assert.False(t, svc.IsRunning())
}

func TestLoadServiceRecordsFailedRuns(t *testing.T) {
	src := seedSource(t)
	// Fail every read of the staged invoices so retries are exhausted.
	src.FailNext("read", "invoices", 100)
	wh := memstore.NewMemStore()
	cleanups := 0
	svc := NewLoadService(testLog, testFactory(t, src, wh, &cleanups))
	_, err := svc.StartLoad(context.Background())
	require.NoError(t, err)
	waitForIdle(t, svc)
	rec, ok := svc.LastRun()
	require.True(t, ok)
	assert.Equal(t, "error", rec.Outcome)
	assert.NotEmpty(t, rec.Message)
	require.Equal(t, 1, cleanups)
}

func TestWebHandlersReportHealthAndLoads(t *testing.T) {
	src := seedSource(t)
	wh := memstore.NewMemStore()
	cleanups := 0
	svc := NewLoadService(testLog, testFactory(t, src, wh, &cleanups))

	w := httptest.NewRecorder()
	GetHandlerHealth(testLog)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	w = httptest.NewRecorder()
	svc.GetHandlerLoadSummary(testLog)(w, httptest.NewRequest(http.MethodGet, "/loads/latest", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no completed loads yet")

	w = httptest.NewRecorder()
	svc.GetHandlerLoadTrigger(testLog)(w, httptest.NewRequest(http.MethodPost, "/loads", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	waitForIdle(t, svc)

	w = httptest.NewRecorder()
	svc.GetHandlerLoadList(testLog)(w, httptest.NewRequest(http.MethodGet, "/loads", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome": "ok"`)
}
