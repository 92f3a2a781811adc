package actions

import (
	"sync"
	"time"

	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/pipeline"
	"github.com/danmont/starpipe/stats"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

const maxRunHistory = 20

// ErrLoadInProgress is returned when a load is requested while another is still running.
// Loads are serialised because re-running the warehouse load concurrently would race
// on surrogate key allocation and tracked-dimension version closure.
var ErrLoadInProgress = errors.New("a load is already in progress")

// PipelineFactory builds a fresh pipeline per load together with a cleanup func
// that releases its connections once the run completes.
type PipelineFactory func() (*pipeline.Pipeline, func(), error)

// RunRecord captures the outcome of one completed load.
type RunRecord struct {
	BatchId   string           `json:"batchId"`
	StartTime time.Time        `json:"startTime"`
	Outcome   string           `json:"outcome"` // "ok" or "error"
	Message   string           `json:"message,omitempty"`
	Summary   stats.RunSummary `json:"summary"`
}

// LoadService owns the lifecycle of warehouse loads triggered via the web service
// or the scheduler. At most one load runs at a time; completed runs are kept in a
// bounded history of run records.
type LoadService struct {
	log     logger.Logger
	factory PipelineFactory
	mu      sync.Mutex
	running bool
	current *pipeline.Pipeline
	history []RunRecord
}

func NewLoadService(log logger.Logger, factory PipelineFactory) *LoadService {
	return &LoadService{log: log, factory: factory}
}

// StartLoad kicks off a load in the background and returns its batch id.
// Returns ErrLoadInProgress if a load is already running.
func (s *LoadService) StartLoad(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", ErrLoadInProgress
	}
	p, cleanup, err := s.factory()
	if err != nil {
		s.mu.Unlock()
		return "", errors.Wrap(err, "unable to build pipeline")
	}
	s.running = true
	s.current = p
	s.mu.Unlock()
	go s.run(ctx, p, cleanup)
	return p.BatchId(), nil
}

func (s *LoadService) run(ctx context.Context, p *pipeline.Pipeline, cleanup func()) {
	start := time.Now()
	s.log.Info("load ", p.BatchId(), " started")
	summary, err := p.Run(ctx)
	cleanup()
	rec := RunRecord{BatchId: p.BatchId(), StartTime: start, Outcome: "ok", Summary: summary}
	if err != nil {
		rec.Outcome = "error"
		rec.Message = err.Error()
		s.log.Error("load ", p.BatchId(), " failed: ", err)
	} else {
		s.log.Info("load ", p.BatchId(), " complete")
	}
	s.mu.Lock()
	s.running = false
	s.current = nil
	s.history = append(s.history, rec)
	if len(s.history) > maxRunHistory {
		s.history = s.history[len(s.history)-maxRunHistory:]
	}
	s.mu.Unlock()
}

func (s *LoadService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StepStats returns live per-step stats for the load in flight, or nil when idle.
func (s *LoadService) StepStats() []stats.Stats {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.StepStats()
}

// History returns completed runs, oldest first.
func (s *LoadService) History() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]RunRecord, len(s.history))
	copy(h, s.history)
	return h
}

// LastRun returns the most recently completed run, if any.
func (s *LoadService) LastRun() (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return RunRecord{}, false
	}
	return s.history[len(s.history)-1], true
}
