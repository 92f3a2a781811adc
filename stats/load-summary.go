package stats

import (
	"fmt"
	"sync"
	"time"
)

// Reject kinds tracked by the load summary. Schema rejects cover rows missing
// required source columns; lookup rejects cover failed dimension resolution.
const (
	RejectKindSchema = "schema"
	RejectKindLookup = "lookup"
	RejectKindOrder  = "order"
)

// LoadSummary accumulates per-run row accounting across pipeline steps.
// Every run ends with an explicit summary of rows processed, rejected (by kind)
// and rows written, so row-level rejects are visible rather than silently dropped.
type LoadSummary struct {
	mu        sync.Mutex
	BatchId   string
	StartTime time.Time
	EndTime   time.Time
	steps     []string
	processed map[string]int64
	written   map[string]int64
	rejected  map[string]map[string]int64 // step -> reject kind -> count
}

type StepSummary struct {
	StepName      string           `json:"stepName"`
	RowsProcessed int64            `json:"rowsProcessed"`
	RowsWritten   int64            `json:"rowsWritten"`
	RowsRejected  map[string]int64 `json:"rowsRejected,omitempty"`
}

type RunSummary struct {
	BatchId        string        `json:"batchId"`
	ElapsedTimeSec int           `json:"elapsedTimeSec"`
	Steps          []StepSummary `json:"steps"`
	TotalRejected  int64         `json:"totalRejected"`
	TotalWritten   int64         `json:"totalWritten"`
}

func NewLoadSummary(batchId string) *LoadSummary {
	return &LoadSummary{
		BatchId:   batchId,
		StartTime: time.Now(),
		processed: make(map[string]int64),
		written:   make(map[string]int64),
		rejected:  make(map[string]map[string]int64),
	}
}

func (s *LoadSummary) registerStep(stepName string) {
	if _, ok := s.processed[stepName]; !ok {
		s.steps = append(s.steps, stepName)
		s.processed[stepName] = 0
		s.written[stepName] = 0
	}
}

func (s *LoadSummary) AddProcessed(stepName string, n int64) {
	s.mu.Lock()
	s.registerStep(stepName)
	s.processed[stepName] += n
	s.mu.Unlock()
}

func (s *LoadSummary) AddWritten(stepName string, n int64) {
	s.mu.Lock()
	s.registerStep(stepName)
	s.written[stepName] += n
	s.mu.Unlock()
}

func (s *LoadSummary) AddRejected(stepName string, kind string, n int64) {
	s.mu.Lock()
	s.registerStep(stepName)
	m, ok := s.rejected[stepName]
	if !ok {
		m = make(map[string]int64)
		s.rejected[stepName] = m
	}
	m[kind] += n
	s.mu.Unlock()
}

func (s *LoadSummary) Finish() {
	s.mu.Lock()
	s.EndTime = time.Now()
	s.mu.Unlock()
}

// Render builds the immutable run summary for logging or the stats HTTP endpoint.
func (s *LoadSummary) Render() RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	r := RunSummary{
		BatchId:        s.BatchId,
		ElapsedTimeSec: int(end.Sub(s.StartTime).Seconds()),
	}
	for _, step := range s.steps {
		ss := StepSummary{
			StepName:      step,
			RowsProcessed: s.processed[step],
			RowsWritten:   s.written[step],
		}
		if m, ok := s.rejected[step]; ok {
			ss.RowsRejected = make(map[string]int64, len(m))
			for kind, n := range m {
				ss.RowsRejected[kind] = n
				r.TotalRejected += n
			}
		}
		r.TotalWritten += ss.RowsWritten
		r.Steps = append(r.Steps, ss)
	}
	return r
}

func (r RunSummary) String() string {
	out := fmt.Sprintf("Run summary for batch %v: elapsedTimeSec=%v totalWritten=%v totalRejected=%v",
		r.BatchId, r.ElapsedTimeSec, r.TotalWritten, r.TotalRejected)
	for _, s := range r.Steps {
		out += fmt.Sprintf("\n  %v: processed=%v written=%v", s.StepName, s.RowsProcessed, s.RowsWritten)
		for kind, n := range s.RowsRejected {
			out += fmt.Sprintf(" rejected[%v]=%v", kind, n)
		}
	}
	return out
}
