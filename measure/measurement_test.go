package measure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/pkg/logger"
	"github.com/labkit/sweep-framework/sweep"
)

func quadraticSweep() sweep.Source {
	x := sweep.Manual("x", "V")
	m := sweep.Getter("m", "A", func(context.Context) (float64, error) {
		return x.Value() * x.Value(), nil
	})

	return sweep.Sweep(x, []float64{0, 1, 2}).Measure(m)
}

func newMeasurementForTest(t *testing.T) (*Measurement, *datastore.MemoryStore) {
	t.Helper()

	store := datastore.NewMemoryStore()
	exp, err := store.NewExperiment(context.Background(), "expA", "sampleA")
	require.NoError(t, err)

	def := Definition{Name: "sweep", Version: semver.MustParse("1.0.0")}

	return New(logger.Test(t), store, exp, def), store
}

type recordingSubscriber struct {
	batches [][]sweep.Row
	closed  bool
}

func (r *recordingSubscriber) Receive(batch []sweep.Row) {
	r.batches = append(r.batches, batch)
}

func (r *recordingSubscriber) Close() { r.closed = true }

func TestMeasurement_RunSweep(t *testing.T) {
	t.Parallel()

	m, store := newMeasurementForTest(t)
	m.RegisterSweep(quadraticSweep())

	handle, err := m.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, handle.Samples())
	require.Equal(t, 0, handle.Dataset().Counter)
	require.NotEmpty(t, handle.GUID())

	values, err := store.ParameterData(context.Background(), handle.RunID(), "m")
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0}, {1}, {4}}, values)

	// The run snapshot records the measurement identity.
	runs, err := store.DataSets(context.Background(), m.Experiment().ExpID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	snap, err := datastore.DecodeSnapshot(runs[0].Snapshot)
	require.NoError(t, err)
	require.Equal(t, "sweep", snap.Measurement)
	require.Equal(t, "1.0.0", snap.Version)
}

func TestMeasurement_RunWithoutSweep(t *testing.T) {
	t.Parallel()

	m, _ := newMeasurementForTest(t)

	_, err := m.Run(context.Background(), func(*ResultSaver) error { return nil })
	require.ErrorIs(t, err, ErrNoSweep)
}

func TestMeasurement_HookOrdering(t *testing.T) {
	t.Parallel()

	m, _ := newMeasurementForTest(t)
	m.RegisterSweep(quadraticSweep())

	var order []string
	step := func(name string) Hook {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	m.AddBeforeRun(step("before-1"))
	m.AddBeforeRun(step("before-2"))
	m.AddAfterRun(step("after-1"))
	m.AddAfterRun(step("after-2"))

	_, err := m.Run(context.Background(), func(*ResultSaver) error {
		order = append(order, "body")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"before-1", "before-2", "body", "after-1", "after-2"}, order)
}

func TestMeasurement_AfterRunSkippedOnFailure(t *testing.T) {
	t.Parallel()

	m, store := newMeasurementForTest(t)
	m.RegisterSweep(quadraticSweep())

	afterRan := false
	m.AddAfterRun(func(context.Context) error {
		afterRan = true
		return nil
	})

	boom := errors.New("acquisition failed")
	handle, err := m.Run(context.Background(), func(saver *ResultSaver) error {
		if err := saver.AddResult(context.Background(), sweep.Row{{Name: "x", Value: []float64{0}}}); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Nil(t, handle)
	require.False(t, afterRan)

	// The scoped run still flushed the buffered row and finalized the run.
	runs, err := store.DataSets(context.Background(), m.Experiment().ExpID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	values, err := store.ParameterData(context.Background(), runs[0].RunID, "x")
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0}}, values)
}

func TestMeasurement_BeforeRunFailureAbortsBody(t *testing.T) {
	t.Parallel()

	m, _ := newMeasurementForTest(t)
	m.RegisterSweep(quadraticSweep())

	boom := errors.New("setup failed")
	m.AddBeforeRun(func(context.Context) error { return boom })

	bodyRan := false
	_, err := m.Run(context.Background(), func(*ResultSaver) error {
		bodyRan = true
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.False(t, bodyRan)
}

func TestMeasurement_Subscribers(t *testing.T) {
	t.Parallel()

	m, _ := newMeasurementForTest(t)
	m.RegisterSweep(quadraticSweep())
	// Flush on every row so each sample arrives as its own batch.
	m.SetWritePeriod(0)

	sub := &recordingSubscriber{}
	id := m.AddSubscriber(sub)

	_, err := m.RunSweep(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.batches, 3)
	require.Len(t, sub.batches[0], 1)
	require.True(t, sub.closed)

	require.NoError(t, m.RemoveSubscriber(id))
	require.ErrorIs(t, m.RemoveSubscriber(id), ErrSubscriberNotFound)
}

func TestMeasurement_WriteBuffering(t *testing.T) {
	t.Parallel()

	m, store := newMeasurementForTest(t)
	m.RegisterSweep(quadraticSweep())
	// A long write period buffers every row until the final scoped flush.
	m.SetWritePeriod(time.Hour)

	sub := &recordingSubscriber{}
	m.AddSubscriber(sub)

	handle, err := m.RunSweep(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.batches, 1)
	require.Len(t, sub.batches[0], 3)

	values, err := store.ParameterData(context.Background(), handle.RunID(), "x")
	require.NoError(t, err)
	require.Len(t, values, 3)
}
