// Package monitor provides run subscribers for live observation of a sweep
// in progress, the textual stand-in for a live plot window.
package monitor

import (
	"math"

	"github.com/labkit/sweep-framework/pkg/logger"
	"github.com/labkit/sweep-framework/sweep"
)

// SeriesMonitor follows one named field across a run, logging every new
// point together with the running minimum and maximum. It implements
// measure.Subscriber.
type SeriesMonitor struct {
	lggr  logger.Logger
	field string

	count int
	min   float64
	max   float64
}

// NewSeriesMonitor creates a monitor for the given field.
func NewSeriesMonitor(lggr logger.Logger, field string) *SeriesMonitor {
	return &SeriesMonitor{
		lggr:  lggr.Named("monitor"),
		field: field,
		min:   math.Inf(1),
		max:   math.Inf(-1),
	}
}

// Field returns the monitored field name.
func (m *SeriesMonitor) Field() string { return m.field }

// Count returns the number of points seen so far.
func (m *SeriesMonitor) Count() int { return m.count }

// Range returns the running minimum and maximum. Before any point has
// arrived, both are NaN.
func (m *SeriesMonitor) Range() (min, max float64) {
	if m.count == 0 {
		return math.NaN(), math.NaN()
	}

	return m.min, m.max
}

// Receive consumes a flushed batch of rows, tracking every value of the
// monitored field.
func (m *SeriesMonitor) Receive(batch []sweep.Row) {
	for _, row := range batch {
		for _, point := range row {
			if point.Name != m.field {
				continue
			}
			for _, v := range point.Value {
				m.count++
				m.min = math.Min(m.min, v)
				m.max = math.Max(m.max, v)
				m.lggr.Infow("Live point",
					"field", m.field, "n", m.count, "value", v, "min", m.min, "max", m.max)
			}
		}
	}
}

// Close logs a final summary for the monitored field.
func (m *SeriesMonitor) Close() {
	if m.count == 0 {
		m.lggr.Infow("No points received", "field", m.field)
		return
	}
	m.lggr.Infow("Series complete", "field", m.field, "points", m.count, "min", m.min, "max", m.max)
}
