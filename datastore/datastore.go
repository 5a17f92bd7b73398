// Package datastore persists experiments, runs and acquired results.
//
// An experiment groups the runs of one (collection name, sample name) pair
// and carries a monotonically increasing run counter. Each run records the
// measurement that produced it, the parameters it acquired, and one value
// row per parameter per sample. Two implementations are provided: an
// in-memory store for embedding and tests, and a SQL store backed by
// database/sql (postgres in production, ramsql in tests).
package datastore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExperimentNotFound is returned when no experiment matches a
	// (name, sample name) lookup.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrAmbiguousExperiment is returned when more than one experiment
	// matches a (name, sample name) lookup.
	ErrAmbiguousExperiment = errors.New("experiment name and sample name combination is not unique")

	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrParameterNotFound is returned when a run has no parameter with the
	// requested name.
	ErrParameterNotFound = errors.New("parameter not found")
)

// ExperimentRecord is one experiment row.
//
// ExpID is the store's internal row id and is always populated. ID is the
// externally visible id: it is assigned on creation, but loads leave it
// unset. Callers that obtain a record via LoadExperimentByName must
// normalize it with ID = ExpID before use (the experiments package resolver
// does this).
type ExperimentRecord struct {
	ID         int64
	ExpID      int64
	Name       string
	SampleName string
	StartedAt  time.Time

	// RunCounter is the number of runs created under this experiment. A new
	// run is assigned the current value and the counter then advances.
	RunCounter int
}

// ParamSpec describes one parameter acquired during a run.
type ParamSpec struct {
	Name  string `toml:"name"`
	Unit  string `toml:"unit"`
	Label string `toml:"label,omitempty"`

	// Arity is the number of values in one sample of this parameter.
	// Zero means scalar samples.
	Arity int `toml:"arity"`

	// DependsOn names the swept parameters this one is measured against.
	DependsOn []string `toml:"depends_on,omitempty"`
}

// Scalar reports whether samples of this parameter are single values.
func (p ParamSpec) Scalar() bool { return p.Arity == 0 }

// DataSet is one run of an experiment together with its parameter table.
// Runs within an experiment are ordered by Counter ascending.
type DataSet struct {
	RunID       int64
	GUID        string
	ExpID       int64
	Counter     int
	Name        string
	Version     string
	Snapshot    string
	StartedAt   time.Time
	CompletedAt time.Time
	Params      []ParamSpec
}

// Param returns the spec of the named parameter.
func (d DataSet) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}

	return ParamSpec{}, false
}

// ResultRow is one named value of one acquired sample. Value always holds
// the raw numbers; whether they form a scalar or a vector is determined by
// the parameter's Arity.
type ResultRow struct {
	Param  string
	Sample int
	Value  []float64
}

// Store is the persistence interface for experiments, runs and results.
// All methods block until the backing store has accepted the operation.
type Store interface {
	// Init bootstraps the backing store at its configured location. It is
	// safe to call more than once.
	Init(ctx context.Context) error

	// LoadExperimentByName returns the single experiment matching the given
	// name and sample name. It returns ErrExperimentNotFound when there is
	// no match and ErrAmbiguousExperiment when there is more than one.
	LoadExperimentByName(ctx context.Context, name, sampleName string) (ExperimentRecord, error)

	// NewExperiment creates an experiment with a zero run counter.
	NewExperiment(ctx context.Context, name, sampleName string) (ExperimentRecord, error)

	// DataSets returns the experiment's runs ordered by counter ascending.
	DataSets(ctx context.Context, expID int64) ([]DataSet, error)

	// CreateRun opens a new run under the experiment, assigning it the
	// experiment's current counter and advancing the counter.
	CreateRun(ctx context.Context, expID int64, name, version, snapshot string, params []ParamSpec) (DataSet, error)

	// AppendResults persists a batch of result rows for the run.
	AppendResults(ctx context.Context, runID int64, rows []ResultRow) error

	// FinalizeRun marks the run completed.
	FinalizeRun(ctx context.Context, runID int64) error

	// ParameterData returns the full value sequence of one parameter of a
	// run, in sample order.
	ParameterData(ctx context.Context, runID int64, param string) ([][]float64, error)
}
