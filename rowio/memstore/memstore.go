// Package memstore provides an in-memory implementation of the rowio Source,
// Sink and Sequence interfaces for tests and demo runs. Upsert matching uses
// the natural key columns supplied per write.
package memstore

import (
	"fmt"
	"strings"
	"sync"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/stream"
)

type MemStore struct {
	mu        sync.RWMutex
	tables    map[string][]stream.Record
	sequences map[string]int64
	// failOps maps "read:<table>" or "write:<table>" to a remaining failure
	// count, used by tests to exercise the orchestrator's retry policy.
	failOps map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		tables:    make(map[string][]stream.Record),
		sequences: make(map[string]int64),
		failOps:   make(map[string]int),
	}
}

// FailNext arranges for the next n calls of op ("read" or "write") against
// tableName to fail with a transient error.
func (m *MemStore) FailNext(op string, tableName string, n int) {
	m.mu.Lock()
	m.failOps[op+":"+tableName] = n
	m.mu.Unlock()
}

func (m *MemStore) shouldFail(op string, tableName string) bool {
	key := op + ":" + tableName
	n, ok := m.failOps[key]
	if !ok || n <= 0 {
		return false
	}
	m.failOps[key] = n - 1
	return true
}

// Read streams a snapshot of tableName over the returned channel.
// A missing table reads as empty, matching a warehouse table that has not been
// created yet.
func (m *MemStore) Read(tableName string) (chan stream.Record, error) {
	m.mu.Lock()
	if m.shouldFail("read", tableName) {
		m.mu.Unlock()
		return nil, rowio.NewTransientError("read "+tableName, fmt.Errorf("injected read failure"))
	}
	rows := make([]stream.Record, len(m.tables[tableName]))
	copy(rows, m.tables[tableName])
	m.mu.Unlock()
	out := make(chan stream.Record, c.ChanSize)
	go func() {
		for _, r := range rows {
			out <- r
		}
		close(out)
	}()
	return out, nil
}

func (m *MemStore) Write(tableName string, keyCols []string, rows []stream.Record, mode rowio.WriteMode) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail("write", tableName) {
		return 0, rowio.NewTransientError("write "+tableName, fmt.Errorf("injected write failure"))
	}
	written := 0
	for _, rec := range rows {
		if mode == rowio.ModeUpsert {
			if idx, ok := m.findByKey(tableName, keyCols, rec); ok { // if a row with the same natural key exists...
				m.tables[tableName][idx] = rec // replace it in place.
				written++
				continue
			}
		}
		m.tables[tableName] = append(m.tables[tableName], rec)
		written++
	}
	return written, nil
}

// findByKey locates the first row of tableName whose keyCols values match rec.
// Caller must hold the lock.
func (m *MemStore) findByKey(tableName string, keyCols []string, rec stream.Record) (int, bool) {
	want := joinKeyValues(keyCols, rec)
	for idx, existing := range m.tables[tableName] {
		if joinKeyValues(keyCols, existing) == want {
			return idx, true
		}
	}
	return 0, false
}

func joinKeyValues(keyCols []string, rec stream.Record) string {
	parts := make([]string, 0, len(keyCols))
	for _, k := range keyCols {
		v, _ := rec.GetDataOk(k)
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "\x1f")
}

// Next allocates the next surrogate key for namespace.
// Allocation is serialized under the store lock so no two concurrent loaders
// of the same dimension can observe the same value.
func (m *MemStore) Next(namespace string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[namespace]++
	return m.sequences[namespace], nil
}

func (m *MemStore) Close() error {
	return nil
}

// RowCount returns the number of rows currently held for tableName.
func (m *MemStore) RowCount(tableName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[tableName])
}

// Rows returns a snapshot copy of tableName.
func (m *MemStore) Rows(tableName string) []stream.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]stream.Record, len(m.tables[tableName]))
	copy(rows, m.tables[tableName])
	return rows
}

// Truncate removes all rows of tableName, leaving sequences untouched.
func (m *MemStore) Truncate(tableName string) {
	m.mu.Lock()
	delete(m.tables, tableName)
	m.mu.Unlock()
}
