// Package measure provides the measurement context: it binds a sweep source
// to an experiment record, wires before/after-run hooks and subscribers, and
// executes scoped runs that persist every produced row through a
// datastore.Store with time-based write buffering.
package measure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/pkg/logger"
	"github.com/labkit/sweep-framework/sweep"
)

// DefaultWritePeriod is the default buffering period between persisted
// writes during a run.
const DefaultWritePeriod = time.Second

var (
	// ErrNoSweep is returned by Run when no sweep source was registered.
	ErrNoSweep = errors.New("no sweep source registered")

	// ErrSubscriberNotFound is returned when unsubscribing an unknown token.
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// Definition identifies a measurement: a name, a semver version and a
// description. It is recorded on every run the measurement produces.
type Definition struct {
	Name        string
	Version     *semver.Version
	Description string
}

func (d Definition) version() string {
	if d.Version == nil {
		return "0.0.0"
	}

	return d.Version.String()
}

// Hook is a callback executed before or after a run, in registration order.
// A non-nil error aborts the run.
type Hook func(ctx context.Context) error

// Subscriber receives batches of rows as they are flushed during a run,
// e.g. for live plotting. Close is called when the run ends.
type Subscriber interface {
	Receive(batch []sweep.Row)
	Close()
}

type subscription struct {
	id  uuid.UUID
	sub Subscriber
}

// Measurement is a run context bound to one experiment record. It is not
// safe for concurrent use; a run executes synchronously on the calling
// goroutine.
type Measurement struct {
	lggr  logger.Logger
	store datastore.Store
	exp   datastore.ExperimentRecord
	def   Definition

	before      []Hook
	after       []Hook
	subs        []subscription
	source      sweep.Source
	writePeriod time.Duration
	station     map[string]string
}

// New creates a measurement context for the experiment.
func New(lggr logger.Logger, store datastore.Store, exp datastore.ExperimentRecord, def Definition) *Measurement {
	return &Measurement{
		lggr:        lggr.Named("measurement"),
		store:       store,
		exp:         exp,
		def:         def,
		writePeriod: DefaultWritePeriod,
	}
}

// Experiment returns the experiment record this measurement is bound to.
func (m *Measurement) Experiment() datastore.ExperimentRecord { return m.exp }

// AddBeforeRun appends a hook executed before the sweep starts.
func (m *Measurement) AddBeforeRun(h Hook) { m.before = append(m.before, h) }

// AddAfterRun appends a hook executed after the sweep completes
// successfully. After-run hooks do not execute when the run fails.
func (m *Measurement) AddAfterRun(h Hook) { m.after = append(m.after, h) }

// AddSubscriber registers a subscriber and returns its token.
func (m *Measurement) AddSubscriber(s Subscriber) uuid.UUID {
	id := uuid.New()
	m.subs = append(m.subs, subscription{id: id, sub: s})

	return id
}

// RemoveSubscriber removes a previously registered subscriber.
func (m *Measurement) RemoveSubscriber(id uuid.UUID) error {
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("subscriber %s: %w", id, ErrSubscriberNotFound)
}

// RegisterSweep sets the sweep source whose parameter table the run will
// record. Registering replaces any previous source.
func (m *Measurement) RegisterSweep(src sweep.Source) { m.source = src }

// SetWritePeriod sets the buffering period between persisted writes.
// Non-positive values flush on every row.
func (m *Measurement) SetWritePeriod(d time.Duration) { m.writePeriod = d }

// SetStation records free-form instrument settings captured into the run
// snapshot.
func (m *Measurement) SetStation(station map[string]string) { m.station = station }

// Run executes fn under a scoped run context. It creates the run record,
// executes before-run hooks in order, invokes fn with a ResultSaver, and
// guarantees that buffered rows are flushed and the run finalized whether fn
// succeeds or fails. After-run hooks execute in order only on success.
// Errors from hooks, fn and the store propagate unmodified; there is no
// retry and no per-row error handling.
func (m *Measurement) Run(ctx context.Context, fn func(saver *ResultSaver) error) (handle *RunHandle, err error) {
	if m.source == nil {
		return nil, ErrNoSweep
	}

	snap := datastore.RunSnapshot{
		Measurement: m.def.Name,
		Version:     m.def.version(),
		WritePeriod: m.writePeriod.String(),
		TakenAt:     time.Now().UTC(),
		Params:      m.source.Params(),
		Station:     m.station,
	}
	snapshot, err := snap.Encode()
	if err != nil {
		return nil, err
	}

	run, err := m.store.CreateRun(ctx, m.exp.ExpID, m.def.Name, m.def.version(), snapshot, m.source.Params())
	if err != nil {
		return nil, err
	}
	m.lggr.Debugw("Run created",
		"run_id", run.RunID, "guid", run.GUID, "counter", run.Counter, "measurement", m.def.Name)

	saver := newResultSaver(m.lggr, m.store, run, m.writePeriod, m.subscribers())

	defer func() {
		// The scoped-run guarantee: buffered data is flushed and the run
		// finalized before Run returns, success or failure.
		if ferr := saver.Flush(ctx); ferr != nil && err == nil {
			err = ferr
		}
		if ferr := m.store.FinalizeRun(ctx, run.RunID); ferr != nil && err == nil {
			err = ferr
		}
		for _, s := range m.subs {
			s.sub.Close()
		}
		if err != nil {
			handle = nil
		}
	}()

	for _, h := range m.before {
		if err = h(ctx); err != nil {
			return nil, err
		}
	}

	if err = fn(saver); err != nil {
		return nil, err
	}
	if err = saver.Flush(ctx); err != nil {
		return nil, err
	}

	for _, h := range m.after {
		if err = h(ctx); err != nil {
			return nil, err
		}
	}

	return &RunHandle{run: run, samples: saver.samples()}, nil
}

// RunSweep runs the registered sweep source to completion, persisting every
// produced row.
func (m *Measurement) RunSweep(ctx context.Context) (*RunHandle, error) {
	return m.Run(ctx, func(saver *ResultSaver) error {
		return m.source.Iterate(ctx, func(row sweep.Row) error {
			return saver.AddResult(ctx, row)
		})
	})
}

func (m *Measurement) subscribers() []Subscriber {
	subs := make([]Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s.sub)
	}

	return subs
}

// RunHandle is the outcome of a completed run.
type RunHandle struct {
	run     datastore.DataSet
	samples int
}

// Dataset returns the run's dataset record.
func (h *RunHandle) Dataset() datastore.DataSet { return h.run }

// RunID returns the run's numeric id.
func (h *RunHandle) RunID() int64 { return h.run.RunID }

// GUID returns the run's globally unique id.
func (h *RunHandle) GUID() string { return h.run.GUID }

// Samples returns the number of acquired samples.
func (h *RunHandle) Samples() int { return h.samples }
