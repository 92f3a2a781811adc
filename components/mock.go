package components

import "sync/atomic"

// MockComponentWaiter counts Add/Done calls for tests.
type MockComponentWaiter struct {
	count int32
}

func (cw *MockComponentWaiter) Add() {
	atomic.AddInt32(&cw.count, 1)
}

func (cw *MockComponentWaiter) Done() {
	atomic.AddInt32(&cw.count, -1)
}

func (cw *MockComponentWaiter) Count() int {
	return int(atomic.LoadInt32(&cw.count))
}
