package components

import (
	"testing"
	"time"

	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/rowio/memstore"
	"github.com/danmont/starpipe/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableInputStreamsRows(t *testing.T) {
	store := memstore.NewMemStore()
	_, err := store.Write("stg_artists", []string{"ARTIST_ID"}, []stream.Record{
		makeRecord(map[string]interface{}{"ARTIST_ID": 1, "NAME": "AC/DC"}),
		makeRecord(map[string]interface{}{"ARTIST_ID": 2, "NAME": "Accept"}),
	}, rowio.ModeInsert)
	require.NoError(t, err)
	outputChan, _ := NewTableInput(&TableInputConfig{
		Log:       testLog,
		Name:      "read stg_artists",
		Source:    store,
		TableName: "stg_artists",
	})
	rows := drain(outputChan)
	require.Len(t, rows, 2)
	assert.Equal(t, "AC/DC", rows[0].GetData("NAME"))
}

func TestTableInputSignalsWaitCounter(t *testing.T) {
	store := memstore.NewMemStore()
	waiter := &MockComponentWaiter{}
	outputChan, _ := NewTableInput(&TableInputConfig{
		Log:         testLog,
		Name:        "read stg_artists",
		Source:      store,
		TableName:   "stg_artists",
		WaitCounter: waiter,
	})
	drain(outputChan)
	assert.Eventually(t, func() bool { return waiter.Count() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestTableInputRaisesTransientReadError(t *testing.T) {
	store := memstore.NewMemStore()
	store.FailNext("read", "stg_artists", 1)
	errorChan := make(chan error, 1)
	outputChan, _ := NewTableInput(&TableInputConfig{
		Log:       testLog,
		Name:      "read stg_artists",
		Source:    store,
		TableName: "stg_artists",
		ErrorChan: errorChan,
	})
	rows := drain(outputChan)
	assert.Empty(t, rows)
	err := <-errorChan
	assert.True(t, rowio.IsTransient(err))
}

func TestTableOutputWritesBatches(t *testing.T) {
	store := memstore.NewMemStore()
	input := makeInput(
		makeRecord(map[string]interface{}{"ARTIST_ID": 1, "NAME": "AC/DC"}),
		makeRecord(map[string]interface{}{"ARTIST_ID": 2, "NAME": "Accept"}),
		makeRecord(map[string]interface{}{"ARTIST_ID": 3, "NAME": "Aerosmith"}),
	)
	outputChan, _ := NewTableOutput(&TableOutputConfig{
		Log:       testLog,
		Name:      "write stg_artists",
		InputChan: input,
		Sink:      store,
		TableName: "stg_artists",
		KeyCols:   []string{"ARTIST_ID"},
		Mode:      rowio.ModeInsert,
		BatchSize: 2, // force more than one flush.
	})
	rows := drain(outputChan)
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, store.RowCount("stg_artists"))
}

func TestTableOutputUpsertReplacesByKey(t *testing.T) {
	store := memstore.NewMemStore()
	write := func(name string) {
		input := makeInput(makeRecord(map[string]interface{}{"ARTIST_ID": 1, "NAME": name}))
		outputChan, _ := NewTableOutput(&TableOutputConfig{
			Log:       testLog,
			Name:      "write stg_artists",
			InputChan: input,
			Sink:      store,
			TableName: "stg_artists",
			KeyCols:   []string{"ARTIST_ID"},
			Mode:      rowio.ModeUpsert,
		})
		drain(outputChan)
	}
	write("AC/DC")
	write("AC/DC (remastered)")
	require.Equal(t, 1, store.RowCount("stg_artists"))
	assert.Equal(t, "AC/DC (remastered)", store.Rows("stg_artists")[0].GetData("NAME"))
}

func TestTableOutputRaisesTransientWriteError(t *testing.T) {
	store := memstore.NewMemStore()
	store.FailNext("write", "stg_artists", 1)
	errorChan := make(chan error, 1)
	input := makeInput(makeRecord(map[string]interface{}{"ARTIST_ID": 1, "NAME": "AC/DC"}))
	outputChan, _ := NewTableOutput(&TableOutputConfig{
		Log:       testLog,
		Name:      "write stg_artists",
		InputChan: input,
		Sink:      store,
		TableName: "stg_artists",
		KeyCols:   []string{"ARTIST_ID"},
		Mode:      rowio.ModeInsert,
		ErrorChan: errorChan,
	})
	drain(outputChan)
	err := <-errorChan
	assert.True(t, rowio.IsTransient(err))
	assert.Equal(t, 0, store.RowCount("stg_artists"))
}

func TestTableOutputDrainsInputOnWriteFailure(t *testing.T) {
	store := memstore.NewMemStore()
	store.FailNext("write", "stg_artists", 1)
	// Unbuffered input: the producer can only progress while the writer keeps
	// consuming, the way a live upstream component would.
	input := make(chan stream.Record)
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := 1; i <= 10; i++ {
			input <- makeRecord(map[string]interface{}{"ARTIST_ID": i, "NAME": "x"})
		}
		close(input)
	}()
	errorChan := make(chan error, 1)
	outputChan, _ := NewTableOutput(&TableOutputConfig{
		Log:       testLog,
		Name:      "write stg_artists",
		InputChan: input,
		Sink:      store,
		TableName: "stg_artists",
		KeyCols:   []string{"ARTIST_ID"},
		Mode:      rowio.ModeInsert,
		BatchSize: 2,
		ErrorChan: errorChan,
	})
	rows := drain(outputChan)
	assert.Empty(t, rows)
	select {
	case <-producerDone: // the failed writer must still consume its input.
	case <-time.After(5 * time.Second):
		t.Fatal("upstream producer still blocked after the write failure")
	}
	assert.True(t, rowio.IsTransient(<-errorChan))
}
