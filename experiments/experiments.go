package experiments

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/dbpath"
	"github.com/labkit/sweep-framework/measure"
	"github.com/labkit/sweep-framework/monitor"
	"github.com/labkit/sweep-framework/pkg/logger"
	"github.com/labkit/sweep-framework/sweep"
)

// Runner performs sweep experiments against a datastore and labels each run
// with a path-like locator.
type Runner struct {
	lggr     logger.Logger
	store    datastore.Store
	resolver *Resolver
}

// NewRunner creates a runner over the given store.
func NewRunner(lggr logger.Logger, store datastore.Store) *Runner {
	return &Runner{
		lggr:     lggr,
		store:    store,
		resolver: NewResolver(lggr, store),
	}
}

// Resolver returns the runner's identity resolver.
func (r *Runner) Resolver() *Resolver { return r.resolver }

type runConfig struct {
	def         measure.Definition
	setup       []measure.Hook
	cleanup     []measure.Hook
	livePlot    []string
	writePeriod time.Duration
	station     map[string]string
}

// RunOption configures a single Run call.
type RunOption func(*runConfig)

// WithSetup appends hooks executed in order before the sweep starts.
func WithSetup(hooks ...measure.Hook) RunOption {
	return func(c *runConfig) { c.setup = append(c.setup, hooks...) }
}

// WithCleanup appends hooks executed in order after the sweep completes
// successfully.
func WithCleanup(hooks ...measure.Hook) RunOption {
	return func(c *runConfig) { c.cleanup = append(c.cleanup, hooks...) }
}

// WithLivePlot registers a live series monitor for each named field.
func WithLivePlot(fields ...string) RunOption {
	return func(c *runConfig) { c.livePlot = append(c.livePlot, fields...) }
}

// WithWritePeriod overrides the default write buffering period.
func WithWritePeriod(d time.Duration) RunOption {
	return func(c *runConfig) { c.writePeriod = d }
}

// WithStation records instrument settings into the run snapshot.
func WithStation(station map[string]string) RunOption {
	return func(c *runConfig) { c.station = station }
}

// WithDefinition overrides the measurement definition recorded on the run.
func WithDefinition(def measure.Definition) RunOption {
	return func(c *runConfig) { c.def = def }
}

// Run performs a sweep experiment and persists its results.
//
// The identity is a path string in the form <collection>/<sub identifier>;
// the sub identifier defaults to "None" when absent. The eventual locator
// of the run is <identity>/<run counter>, with the counter captured before
// the run. This is not a filesystem path; use Fetch to retrieve the data.
//
// The experiment is resolved or created, the sweep source and any hooks and
// monitors are registered with a measurement context, and the sweep is
// executed under a scoped run, persisting every produced row. Failures from
// the resolver, the sweep and the store propagate unchanged; there is no
// retry.
func (r *Runner) Run(ctx context.Context, identity string, src sweep.Source, opts ...RunOption) (*RunOutcome, error) {
	cfg := runConfig{
		def:         measure.Definition{Name: "sweep", Version: semver.MustParse("1.0.0")},
		writePeriod: measure.DefaultWritePeriod,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	collection, sub, err := dbpath.DecodeIdentity(identity)
	if err != nil {
		return nil, err
	}

	exp, counter, err := r.resolver.ResolveOrCreate(ctx, collection, sub)
	if err != nil {
		return nil, err
	}

	m := measure.New(r.lggr, r.store, exp, cfg.def)
	for _, field := range cfg.livePlot {
		m.AddSubscriber(monitor.NewSeriesMonitor(r.lggr, field))
	}
	for _, h := range cfg.setup {
		m.AddBeforeRun(h)
	}
	m.RegisterSweep(src)
	m.SetWritePeriod(cfg.writePeriod)
	for _, h := range cfg.cleanup {
		m.AddAfterRun(h)
	}
	if cfg.station != nil {
		m.SetStation(cfg.station)
	}

	handle, err := m.RunSweep(ctx)
	if err != nil {
		return nil, err
	}

	path := dbpath.EncodeLocator(collection, sub, counter)
	r.lggr.Infow("Completed measurement", "path", path)

	return &RunOutcome{
		Path:        path,
		RunID:       handle.RunID(),
		Dataset:     handle.Dataset(),
		Experiment:  exp,
		Measurement: m,
	}, nil
}

// Field names one element of a RunOutcome for Select.
type Field string

// The fixed enumeration of selectable run outcome fields.
const (
	FieldDataSetPath Field = "data_set_path"
	FieldDataID      Field = "dataid"
	FieldDataset     Field = "dataset"
	FieldExperiment  Field = "experiment"
	FieldMeasurement Field = "measurement"
)

// RunOutcome is the result of a completed run.
type RunOutcome struct {
	// Path is the run locator, <collection>/<sub identifier>/<counter>.
	Path string

	// RunID is the run's external numeric id, a separate concern from the
	// locator's counter.
	RunID int64

	Dataset     datastore.DataSet
	Experiment  datastore.ExperimentRecord
	Measurement *measure.Measurement
}

// Select returns the requested fields in the requested order.
func (o *RunOutcome) Select(fields ...Field) ([]any, error) {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		switch f {
		case FieldDataSetPath:
			out = append(out, o.Path)
		case FieldDataID:
			out = append(out, o.RunID)
		case FieldDataset:
			out = append(out, o.Dataset)
		case FieldExperiment:
			out = append(out, o.Experiment)
		case FieldMeasurement:
			out = append(out, o.Measurement)
		default:
			return nil, fmt.Errorf("unknown return field %q", f)
		}
	}

	return out, nil
}
