package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// MemoryStore is an in-memory implementation of the Store interface. It is
// thread-safe and intended for embedding and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	Experiments []ExperimentRecord
	Runs        []DataSet
	Results     []ResultRow

	nextExpID int64
	nextRunID int64
	resultRun map[int64][]int // run id -> indices into Results
}

// MemoryStore implements the Store interface.
var _ Store = &MemoryStore{}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{resultRun: map[int64][]int{}}
}

// Init is a no-op for the in-memory store.
func (s *MemoryStore) Init(_ context.Context) error { return nil }

// LoadExperimentByName returns the single experiment matching name and
// sample name. The returned record's ID field is left unset; see
// ExperimentRecord.
func (s *MemoryStore) LoadExperimentByName(_ context.Context, name, sampleName string) (ExperimentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := -1
	for i, exp := range s.Experiments {
		if exp.Name != name || exp.SampleName != sampleName {
			continue
		}
		if found != -1 {
			return ExperimentRecord{}, fmt.Errorf("%s/%s: %w", name, sampleName, ErrAmbiguousExperiment)
		}
		found = i
	}
	if found == -1 {
		return ExperimentRecord{}, fmt.Errorf("%s/%s: %w", name, sampleName, ErrExperimentNotFound)
	}

	rec := s.Experiments[found]
	rec.ID = 0

	return rec, nil
}

// NewExperiment creates an experiment with a zero run counter.
func (s *MemoryStore) NewExperiment(_ context.Context, name, sampleName string) (ExperimentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextExpID++
	rec := ExperimentRecord{
		ID:         s.nextExpID,
		ExpID:      s.nextExpID,
		Name:       name,
		SampleName: sampleName,
		StartedAt:  time.Now().UTC(),
	}
	s.Experiments = append(s.Experiments, rec)

	return rec, nil
}

// Seed inserts an experiment record verbatim. Test helper for constructing
// store states that the write path would not produce, e.g. duplicates.
func (s *MemoryStore) Seed(rec ExperimentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ExpID > s.nextExpID {
		s.nextExpID = rec.ExpID
	}
	s.Experiments = append(s.Experiments, rec)
}

// DataSets returns the experiment's runs ordered by counter ascending.
func (s *MemoryStore) DataSets(_ context.Context, expID int64) ([]DataSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := []DataSet{}
	for _, run := range s.Runs {
		if run.ExpID == expID {
			runs = append(runs, run)
		}
	}
	// Runs are appended in counter order; no sort needed.

	return runs, nil
}

// CreateRun opens a new run under the experiment, assigning it the
// experiment's current counter and advancing the counter.
func (s *MemoryStore) CreateRun(
	_ context.Context, expID int64, name, version, snapshot string, params []ParamSpec,
) (DataSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfExperiment(expID)
	if idx == -1 {
		return DataSet{}, fmt.Errorf("experiment id %d: %w", expID, ErrExperimentNotFound)
	}

	s.nextRunID++
	now := time.Now().UTC()
	run := DataSet{
		RunID:       s.nextRunID,
		GUID:        ksuid.New().String(),
		ExpID:       expID,
		Counter:     s.Experiments[idx].RunCounter,
		Name:        name,
		Version:     version,
		Snapshot:    snapshot,
		StartedAt:   now,
		CompletedAt: now,
		Params:      append([]ParamSpec{}, params...),
	}
	s.Experiments[idx].RunCounter++
	s.Runs = append(s.Runs, run)

	return run, nil
}

// AppendResults persists a batch of result rows for the run.
func (s *MemoryStore) AppendResults(_ context.Context, runID int64, rows []ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfRun(runID) == -1 {
		return fmt.Errorf("run id %d: %w", runID, ErrRunNotFound)
	}

	if s.resultRun == nil {
		s.resultRun = map[int64][]int{}
	}
	for _, row := range rows {
		row.Value = append([]float64{}, row.Value...)
		s.resultRun[runID] = append(s.resultRun[runID], len(s.Results))
		s.Results = append(s.Results, row)
	}

	return nil
}

// FinalizeRun marks the run completed.
func (s *MemoryStore) FinalizeRun(_ context.Context, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfRun(runID)
	if idx == -1 {
		return fmt.Errorf("run id %d: %w", runID, ErrRunNotFound)
	}
	s.Runs[idx].CompletedAt = time.Now().UTC()

	return nil
}

// ParameterData returns the full value sequence of one parameter of a run,
// in sample order.
func (s *MemoryStore) ParameterData(_ context.Context, runID int64, param string) ([][]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfRun(runID)
	if idx == -1 {
		return nil, fmt.Errorf("run id %d: %w", runID, ErrRunNotFound)
	}
	if _, ok := s.Runs[idx].Param(param); !ok {
		return nil, fmt.Errorf("run id %d parameter %q: %w", runID, param, ErrParameterNotFound)
	}

	values := [][]float64{}
	for _, i := range s.resultRun[runID] {
		row := s.Results[i]
		if row.Param == param {
			values = append(values, append([]float64{}, row.Value...))
		}
	}
	// Rows are appended in sample order; no sort needed.

	return values, nil
}

// indexOfExperiment returns the index of the experiment with the given row
// id, or -1 if no such record exists.
func (s *MemoryStore) indexOfExperiment(expID int64) int {
	for i, exp := range s.Experiments {
		if exp.ExpID == expID {
			return i
		}
	}

	return -1
}

// indexOfRun returns the index of the run with the given id, or -1 if no
// such record exists.
func (s *MemoryStore) indexOfRun(runID int64) int {
	for i, run := range s.Runs {
		if run.RunID == runID {
			return i
		}
	}

	return -1
}
