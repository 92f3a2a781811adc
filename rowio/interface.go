// Package rowio abstracts the external collaborators of the ETL core: reading
// rows from any tabular store, writing rows to any tabular store and durable
// surrogate key sequences. Implementations live in the sub-packages memstore,
// sqlstore and badgerseq.
package rowio

import (
	"github.com/danmont/starpipe/stream"
)

type WriteMode int

const (
	ModeInsert WriteMode = iota
	ModeUpsert
)

func (m WriteMode) String() string {
	if m == ModeUpsert {
		return "upsert"
	}
	return "insert"
}

// Source reads rows from a tabular store.
// Read returns a finite channel of records that is closed when the scan is
// complete. The scan is restartable by calling Read again.
type Source interface {
	Read(tableName string) (chan stream.Record, error)
}

// Sink writes rows to a tabular store.
// keyCols names the natural key columns used to match existing rows in
// ModeUpsert; implementations may ignore them in ModeInsert.
// It returns the number of rows written.
type Sink interface {
	Write(tableName string, keyCols []string, rows []stream.Record, mode WriteMode) (int, error)
}

// Sequence produces strictly increasing integer surrogate keys per dimension
// namespace. Allocation is serialized per namespace and values are durable
// across runs; gaps are allowed, reuse is not.
type Sequence interface {
	Next(namespace string) (int64, error)
	Close() error
}

// Store combines all collaborator roles in one storage technology.
type Store interface {
	Source
	Sink
	Sequence
}
