package api

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pcrawford/filescout/internal/crawler"
)

// RunState is the lifecycle state of a discovery run.
type RunState string

// Run states reported by the status endpoint.
const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCanceled  RunState = "canceled"
)

// Run tracks one crawl for the API. Records are only populated once the run
// reaches a terminal state; Percent/Status mirror the engine's progress
// callback while it is live.
type Run struct {
	ID        string
	State     RunState
	Seeds     []string
	Submitted time.Time
	Finished  *time.Time
	Percent   int
	Status    string
	Records   []crawler.Record

	stopFlag *atomic.Bool
}

// RunStore is the in-memory registry of runs, scoped to the process
// lifetime. All access is serialized by a mutex; stored Run values are
// copied on the way out.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewRunStore returns an empty store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*Run)}
}

// Create registers a new running Run and returns its ID and stop flag.
func (s *RunStore) Create(seeds []string) (string, *atomic.Bool) {
	id := uuid.NewString()
	flag := &atomic.Bool{}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id] = &Run{
		ID:        id,
		State:     RunStateRunning,
		Seeds:     append([]string(nil), seeds...),
		Submitted: time.Now().UTC(),
		Status:    "starting",
		stopFlag:  flag,
	}
	return id, flag
}

// Get returns a copy of the run.
func (s *RunStore) Get(id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	return copyRun(run), nil
}

// SetProgress records the latest progress callback values.
func (s *RunStore) SetProgress(id string, percent int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && run.State == RunStateRunning {
		run.Percent = percent
		run.Status = status
	}
}

// Finish moves a run to a terminal state with its records.
func (s *RunStore) Finish(id string, records []crawler.Record, canceled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	run.Finished = &now
	run.Records = records
	run.Percent = 100
	if canceled {
		run.State = RunStateCanceled
	} else {
		run.State = RunStateCompleted
	}
}

// Cancel flips the run's stop flag. The crawl observes it cooperatively at
// its next poll point; the state transition happens when the run drains.
func (s *RunStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	run.stopFlag.Store(true)
	return nil
}

func copyRun(run *Run) Run {
	cp := *run
	cp.Seeds = append([]string(nil), run.Seeds...)
	cp.Records = append([]crawler.Record(nil), run.Records...)
	return cp
}
