package components

import (
	"testing"
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/rowio/memstore"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesFact() schema.Fact {
	return schema.Fact{
		Table:        schema.TableFactSales,
		Namespace:    schema.TableFactSales,
		SurrogateKey: "SALES_KEY",
		NaturalKey:   "INVOICE_ID",
	}
}

func invoiceDim() schema.Dimension {
	return schema.Dimension{
		Table:        schema.TableDimInvoice,
		Namespace:    schema.TableDimInvoice,
		SurrogateKey: "INVOICE_KEY",
		NaturalKey:   "INVOICE_ID",
		StagedSource: "stg_invoices",
		Attributes:   []string{"CUSTOMER_ID", "INVOICE_DATE"},
	}
}

// seedFactFixtures populates every table the fact loader resolves against.
func seedFactFixtures(t *testing.T, store *memstore.MemStore) {
	t.Helper()
	write := func(table string, keyCols []string, rows ...stream.Record) {
		_, err := store.Write(table, keyCols, rows, rowio.ModeInsert)
		require.NoError(t, err)
	}
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	write(schema.TableDimCustomer, []string{"CUSTOMER_KEY"}, makeRecord(map[string]interface{}{
		"CUSTOMER_KEY":          int64(5),
		"CUSTOMER_ID":           1,
		"CITY":                  "Boston",
		c.ScdFieldEffectiveFrom: day,
		c.ScdFieldEffectiveTo:   nil,
		c.ScdFieldIsCurrent:     true,
	}))
	write(schema.TableDimInvoice, []string{"INVOICE_ID"}, makeRecord(map[string]interface{}{
		"INVOICE_KEY": int64(7),
		"INVOICE_ID":  100,
		"CUSTOMER_ID": 1,
	}))
	write(schema.TableDimDate, []string{schema.ColCalDate}, makeRecord(map[string]interface{}{
		schema.ColDateKey: int64(42),
		schema.ColCalDate: "2025-03-01",
	}))
	write(schema.TableDimTime, []string{schema.ColTime24h}, makeRecord(map[string]interface{}{
		schema.ColTimeKey: int64(630),
		schema.ColTime24h: "10:30",
	}))
	write("stg_invoice_items", []string{"INVOICE_LINE_ID"},
		makeRecord(map[string]interface{}{"INVOICE_LINE_ID": 1, "INVOICE_ID": 100, "QUANTITY": 2, "UNIT_PRICE": 1.5}),
		makeRecord(map[string]interface{}{"INVOICE_LINE_ID": 2, "INVOICE_ID": 100, "QUANTITY": 1, "UNIT_PRICE": 2.0}),
	)
}

func stagedInvoice(invoiceID, customerID int) stream.Record {
	return makeRecord(map[string]interface{}{
		"INVOICE_ID":          invoiceID,
		"CUSTOMER_ID":         customerID,
		"INVOICE_DATE":        time.Date(2025, time.March, 1, 10, 30, 0, 0, time.UTC),
		c.AuditFieldCreatedBy: "starpipe",
		c.AuditFieldBatchId:   "batch-1",
	})
}

func loadFacts(t *testing.T, store *memstore.MemStore, summary *stats.LoadSummary, staged ...stream.Record) []stream.Record {
	t.Helper()
	outputChan, _ := NewFactLoader(&FactLoaderConfig{
		Log:         testLog,
		Name:        "load fact_sales",
		InputChan:   makeInput(staged...),
		Fact:        salesFact(),
		CustomerDim: customerDim(),
		InvoiceDim:  invoiceDim(),
		ItemsTable:  "stg_invoice_items",
		Lookup:      store,
		Sink:        store,
		Seq:         store,
		Summary:     summary,
	})
	return drain(outputChan)
}

func TestFactLoaderResolvesKeysAndMeasure(t *testing.T) {
	store := memstore.NewMemStore()
	seedFactFixtures(t, store)
	rows := loadFacts(t, store, nil, stagedInvoice(100, 1))
	require.Len(t, rows, 1)
	fact := rows[0]
	assert.Equal(t, int64(1), fact.GetData("SALES_KEY"))
	assert.Equal(t, int64(5), fact.GetData("CUSTOMER_KEY"))
	assert.Equal(t, int64(7), fact.GetData("INVOICE_KEY"))
	assert.Equal(t, int64(42), fact.GetData(schema.ColDateKey))
	assert.Equal(t, int64(630), fact.GetData(schema.ColTimeKey))
	assert.Equal(t, 5.0, fact.GetData("TOTAL_AMOUNT")) // 2 * 1.50 + 1 * 2.00
	assert.Equal(t, "starpipe", fact.GetData(c.AuditFieldCreatedBy))
	assert.Equal(t, 1, store.RowCount(schema.TableFactSales))
}

func TestFactLoaderIsIdempotentAcrossReruns(t *testing.T) {
	store := memstore.NewMemStore()
	seedFactFixtures(t, store)
	require.Len(t, loadFacts(t, store, nil, stagedInvoice(100, 1)), 1)
	// Re-running the same batch loads nothing new.
	assert.Empty(t, loadFacts(t, store, nil, stagedInvoice(100, 1)))
	assert.Equal(t, 1, store.RowCount(schema.TableFactSales))
}

func TestFactLoaderDedupsWithinBatch(t *testing.T) {
	store := memstore.NewMemStore()
	seedFactFixtures(t, store)
	rows := loadFacts(t, store, nil, stagedInvoice(100, 1), stagedInvoice(100, 1))
	require.Len(t, rows, 1)
}

func TestFactLoaderRejectsFailedLookups(t *testing.T) {
	store := memstore.NewMemStore()
	seedFactFixtures(t, store)
	summary := stats.NewLoadSummary("batch-1")
	// Customer 99 has no current dimension row.
	rec := stagedInvoice(100, 99)
	rows := loadFacts(t, store, summary, rec)
	assert.Empty(t, rows)
	assert.Equal(t, 0, store.RowCount(schema.TableFactSales))
	r := summary.Render()
	require.Len(t, r.Steps, 1)
	assert.Equal(t, int64(1), r.Steps[0].RowsRejected[stats.RejectKindLookup])
}
