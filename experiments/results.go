package experiments

import (
	"context"
	"fmt"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/dbpath"
)

// RunResult is a retrieved run together with its full data columns.
type RunResult struct {
	Run datastore.DataSet

	data map[string][][]float64
}

// Params returns the run's parameter table in declaration order.
func (r *RunResult) Params() []datastore.ParamSpec { return r.Run.Params }

// Column returns the raw value sequence of one parameter, one entry per
// acquired sample.
func (r *RunResult) Column(name string) ([][]float64, bool) {
	col, ok := r.data[name]
	return col, ok
}

// AsMap returns the run data as a mapping from parameter name to its value
// sequence. Scalar parameters map to a []float64; vector parameters keep
// their shape as a [][]float64.
func (r *RunResult) AsMap() map[string]any {
	out := make(map[string]any, len(r.data))
	for _, p := range r.Run.Params {
		col := r.data[p.Name]
		if p.Scalar() {
			flat := make([]float64, 0, len(col))
			for _, sample := range col {
				flat = append(flat, sample...)
			}
			out[p.Name] = flat

			continue
		}
		out[p.Name] = col
	}

	return out
}

// AsFlatMap returns the run data as a mapping from parameter name to a 1-D
// value sequence; vector samples are flattened and shape information is
// discarded.
func (r *RunResult) AsFlatMap() map[string][]float64 {
	out := make(map[string][]float64, len(r.data))
	for _, p := range r.Run.Params {
		col := r.data[p.Name]
		flat := make([]float64, 0, len(col))
		for _, sample := range col {
			flat = append(flat, sample...)
		}
		out[p.Name] = flat
	}

	return out
}

// Fetch retrieves one run by its locator, <collection>/<sub
// identifier>/<run counter>. The counter indexes the experiment's ordered
// run list (zero-based); a counter beyond the stored runs fails with
// ErrRunIndexOutOfRange. The experiment is resolved lookup-only: Fetch
// never creates records.
func (r *Runner) Fetch(ctx context.Context, locator string) (*RunResult, error) {
	collection, sub, counter, err := dbpath.DecodeLocator(locator)
	if err != nil {
		return nil, err
	}

	exp, err := r.resolver.ResolveExisting(ctx, collection, sub)
	if err != nil {
		return nil, err
	}

	runs, err := r.store.DataSets(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	if counter >= len(runs) {
		return nil, fmt.Errorf("locator %s indexes run %d of %d: %w",
			locator, counter, len(runs), ErrRunIndexOutOfRange)
	}
	run := runs[counter]

	data := make(map[string][][]float64, len(run.Params))
	for _, p := range run.Params {
		col, err := r.store.ParameterData(ctx, run.RunID, p.Name)
		if err != nil {
			return nil, err
		}
		data[p.Name] = col
	}

	return &RunResult{Run: run, data: data}, nil
}
