package measure

import (
	"context"
	"time"

	"github.com/labkit/sweep-framework/datastore"
	"github.com/labkit/sweep-framework/pkg/logger"
	"github.com/labkit/sweep-framework/sweep"
)

// ResultSaver is the row writer handed to the body of a scoped run. Rows
// are buffered and written in batches once the write period has elapsed;
// subscribers receive each flushed batch. It is not safe for concurrent
// use.
type ResultSaver struct {
	lggr  logger.Logger
	store datastore.Store
	run   datastore.DataSet

	writePeriod time.Duration
	lastFlush   time.Time

	buf     []datastore.ResultRow
	pending []sweep.Row
	sample  int
	subs    []Subscriber
}

func newResultSaver(
	lggr logger.Logger,
	store datastore.Store,
	run datastore.DataSet,
	writePeriod time.Duration,
	subs []Subscriber,
) *ResultSaver {
	return &ResultSaver{
		lggr:        lggr,
		store:       store,
		run:         run,
		writePeriod: writePeriod,
		lastFlush:   time.Now(),
		subs:        subs,
	}
}

// AddResult buffers one row of named values as the next acquired sample.
// The buffer is flushed once the write period has elapsed since the last
// flush; a flush blocks until the store accepts the batch.
func (s *ResultSaver) AddResult(ctx context.Context, row sweep.Row) error {
	for _, point := range row {
		s.buf = append(s.buf, datastore.ResultRow{
			Param:  point.Name,
			Sample: s.sample,
			Value:  point.Value,
		})
	}
	s.sample++
	s.pending = append(s.pending, row)

	if time.Since(s.lastFlush) >= s.writePeriod {
		return s.Flush(ctx)
	}

	return nil
}

// Flush writes all buffered rows to the store and notifies subscribers with
// the flushed batch.
func (s *ResultSaver) Flush(ctx context.Context) error {
	s.lastFlush = time.Now()
	if len(s.buf) == 0 {
		return nil
	}

	if err := s.store.AppendResults(ctx, s.run.RunID, s.buf); err != nil {
		return err
	}
	s.lggr.Debugw("Flushed result batch", "run_id", s.run.RunID, "rows", len(s.buf))
	s.buf = nil

	batch := s.pending
	s.pending = nil
	for _, sub := range s.subs {
		sub.Receive(batch)
	}

	return nil
}

// Dataset returns the dataset record of the run being written.
func (s *ResultSaver) Dataset() datastore.DataSet { return s.run }

// RunID returns the numeric id of the run being written.
func (s *ResultSaver) RunID() int64 { return s.run.RunID }

// GUID returns the globally unique id of the run being written.
func (s *ResultSaver) GUID() string { return s.run.GUID }

func (s *ResultSaver) samples() int { return s.sample }
