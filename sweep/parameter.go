// Package sweep defines sweep sources: abstractions that vary independent
// parameters and produce ordered rows of named measured values. A source is
// anything that can declare its parameter table and yield rows when
// iterated; the builders here cover the common cases (point sweeps with
// measured dependents, chaining and nesting), and callers may implement
// Source directly for anything else.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/labkit/sweep-framework/datastore"
)

var (
	// ErrNotSettable is returned when a sweep tries to set a read-only
	// parameter.
	ErrNotSettable = errors.New("parameter is not settable")

	// ErrNotGettable is returned when a parameter without a value source is
	// read.
	ErrNotGettable = errors.New("parameter is not gettable")
)

// Parameter is a named, unit-ed value endpoint: an instrument setting, a
// software variable or a derived quantity. Scalar parameters produce one
// value per sample; vector parameters produce a fixed-length slice.
type Parameter struct {
	name  string
	unit  string
	label string
	arity int

	get func(ctx context.Context) ([]float64, error)
	set func(ctx context.Context, value float64) error

	value []float64 // backing storage for manual parameters
}

// Manual creates a settable parameter whose reads return the last value
// set, mimicking a software-controlled instrument setting.
func Manual(name, unit string) *Parameter {
	p := &Parameter{name: name, unit: unit, value: []float64{0}}
	p.get = func(context.Context) ([]float64, error) {
		return []float64{p.value[0]}, nil
	}
	p.set = func(_ context.Context, value float64) error {
		p.value[0] = value
		return nil
	}

	return p
}

// Getter creates a read-only scalar parameter backed by fn, for derived or
// instrument-read quantities.
func Getter(name, unit string, fn func(ctx context.Context) (float64, error)) *Parameter {
	return &Parameter{
		name: name,
		unit: unit,
		get: func(ctx context.Context) ([]float64, error) {
			v, err := fn(ctx)
			if err != nil {
				return nil, err
			}

			return []float64{v}, nil
		},
	}
}

// VectorGetter creates a read-only parameter whose samples are length-n
// vectors, e.g. a full trace acquired per sweep point.
func VectorGetter(name, unit string, n int, fn func(ctx context.Context) ([]float64, error)) *Parameter {
	return &Parameter{
		name:  name,
		unit:  unit,
		arity: n,
		get: func(ctx context.Context) ([]float64, error) {
			v, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			if len(v) != n {
				return nil, fmt.Errorf("parameter %q returned %d values, want %d", name, len(v), n)
			}

			return v, nil
		},
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string { return p.name }

// Unit returns the parameter unit.
func (p *Parameter) Unit() string { return p.unit }

// WithLabel sets a human-readable label and returns the parameter.
func (p *Parameter) WithLabel(label string) *Parameter {
	p.label = label
	return p
}

// Get reads the parameter's current value.
func (p *Parameter) Get(ctx context.Context) ([]float64, error) {
	if p.get == nil {
		return nil, fmt.Errorf("parameter %q: %w", p.name, ErrNotGettable)
	}

	return p.get(ctx)
}

// Value reads a scalar parameter's current value, for use inside derived
// parameter closures.
func (p *Parameter) Value() float64 {
	if p.value != nil {
		return p.value[0]
	}
	v, err := p.Get(context.Background())
	if err != nil || len(v) == 0 {
		return 0
	}

	return v[0]
}

// Set writes the parameter.
func (p *Parameter) Set(ctx context.Context, value float64) error {
	if p.set == nil {
		return fmt.Errorf("parameter %q: %w", p.name, ErrNotSettable)
	}

	return p.set(ctx, value)
}

// Spec returns the parameter's datastore registration record.
func (p *Parameter) Spec() datastore.ParamSpec {
	return datastore.ParamSpec{
		Name:  p.name,
		Unit:  p.unit,
		Label: p.label,
		Arity: p.arity,
	}
}
