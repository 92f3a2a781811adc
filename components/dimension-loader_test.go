package components

import (
	"testing"
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/rowio/memstore"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artistDim() schema.Dimension {
	return schema.Dimension{
		Table:        schema.TableDimArtist,
		Namespace:    schema.TableDimArtist,
		SurrogateKey: "ARTIST_KEY",
		NaturalKey:   "ARTIST_ID",
		StagedSource: "stg_artists",
		Attributes:   []string{"NAME"},
	}
}

func stagedArtist(id int, name string) stream.Record {
	return makeRecord(map[string]interface{}{
		"ARTIST_ID":           id,
		"NAME":                name,
		c.AuditFieldCreatedBy: "starpipe",
		c.AuditFieldBatchId:   "batch-1",
	})
}

// loadArtists runs the dimension loader over the staged rows and persists its
// output, the way the orchestrator pairs it with a table output step.
func loadArtists(t *testing.T, store *memstore.MemStore, staged ...stream.Record) []stream.Record {
	t.Helper()
	outputChan, _ := NewDimensionLoader(&DimensionLoaderConfig{
		Log:       testLog,
		Name:      "load dim_artist",
		InputChan: makeInput(staged...),
		Dim:       artistDim(),
		Lookup:    store,
		Seq:       store,
	})
	rows := drain(outputChan)
	if len(rows) > 0 {
		_, err := store.Write(schema.TableDimArtist, []string{"ARTIST_ID"}, rows, rowio.ModeInsert)
		require.NoError(t, err)
	}
	return rows
}

func TestDimensionLoaderAllocatesSurrogateKeys(t *testing.T) {
	store := memstore.NewMemStore()
	rows := loadArtists(t, store, stagedArtist(1, "AC/DC"), stagedArtist(2, "Accept"))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].GetData("ARTIST_KEY"))
	assert.Equal(t, int64(2), rows[1].GetData("ARTIST_KEY"))
	assert.Equal(t, "AC/DC", rows[0].GetData("NAME"))
	assert.Equal(t, "starpipe", rows[0].GetData(c.AuditFieldCreatedBy))
}

func TestDimensionLoaderSkipsExistingNaturalKeys(t *testing.T) {
	store := memstore.NewMemStore()
	loadArtists(t, store, stagedArtist(1, "AC/DC"))
	// Re-staging a known key loads nothing; a new key still gets a fresh
	// surrogate that never reuses earlier allocations.
	rows := loadArtists(t, store, stagedArtist(1, "AC/DC"), stagedArtist(2, "Accept"))
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].GetData("ARTIST_ID"))
	assert.Equal(t, int64(2), rows[0].GetData("ARTIST_KEY"))
	assert.Equal(t, 2, store.RowCount(schema.TableDimArtist))
}

func TestDimensionLoaderDedupsWithinBatch(t *testing.T) {
	store := memstore.NewMemStore()
	rows := loadArtists(t, store, stagedArtist(1, "AC/DC"), stagedArtist(1, "AC/DC"))
	require.Len(t, rows, 1)
}

func TestDimensionLoaderDrainsInputOnLookupFailure(t *testing.T) {
	store := memstore.NewMemStore()
	store.FailNext("read", schema.TableDimArtist, 1)
	// Unbuffered input stands in for a live upstream still producing rows.
	input := make(chan stream.Record)
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := 1; i <= 5; i++ {
			input <- stagedArtist(i, "x")
		}
		close(input)
	}()
	errorChan := make(chan error, 1)
	outputChan, _ := NewDimensionLoader(&DimensionLoaderConfig{
		Log:       testLog,
		Name:      "load dim_artist",
		InputChan: input,
		Dim:       artistDim(),
		Lookup:    store,
		Seq:       store,
		ErrorChan: errorChan,
	})
	rows := drain(outputChan)
	assert.Empty(t, rows)
	select {
	case <-producerDone: // the failed loader must still consume its input.
	case <-time.After(5 * time.Second):
		t.Fatal("upstream producer still blocked after the lookup failure")
	}
	assert.True(t, rowio.IsTransient(<-errorChan))
}
