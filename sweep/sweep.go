package sweep

import (
	"context"

	"github.com/labkit/sweep-framework/datastore"
)

// Point is one named value within a row.
type Point struct {
	Name  string
	Value []float64
}

// Row is the ordered set of named values produced for one acquired sample.
type Row []Point

// Source produces rows of named values as independent parameters are
// varied. Iteration is synchronous: Iterate calls yield once per row on the
// calling goroutine and stops at the first error, either from yield or from
// the source itself.
type Source interface {
	// Params declares the parameter table of the rows this source yields,
	// swept parameters before measured ones.
	Params() []datastore.ParamSpec

	Iterate(ctx context.Context, yield func(Row) error) error
}

// PointSweep sets one parameter to each of a fixed list of values and reads
// a set of dependent parameters at every point.
type PointSweep struct {
	param  *Parameter
	values []float64
	deps   []*Parameter
}

var _ Source = &PointSweep{}

// Sweep creates a PointSweep over the given set points.
func Sweep(p *Parameter, values []float64) *PointSweep {
	return &PointSweep{param: p, values: values}
}

// Measure adds dependent parameters read at every sweep point, in order.
func (s *PointSweep) Measure(deps ...*Parameter) *PointSweep {
	s.deps = append(s.deps, deps...)
	return s
}

// Params declares the swept parameter followed by its dependents.
func (s *PointSweep) Params() []datastore.ParamSpec {
	params := []datastore.ParamSpec{s.param.Spec()}
	for _, dep := range s.deps {
		spec := dep.Spec()
		spec.DependsOn = []string{s.param.Name()}
		params = append(params, spec)
	}

	return params
}

// Iterate sets the swept parameter to each value in turn, reads every
// dependent, and yields one row per point.
func (s *PointSweep) Iterate(ctx context.Context, yield func(Row) error) error {
	for _, value := range s.values {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.param.Set(ctx, value); err != nil {
			return err
		}

		row := Row{{Name: s.param.Name(), Value: []float64{value}}}
		for _, dep := range s.deps {
			v, err := dep.Get(ctx)
			if err != nil {
				return err
			}
			row = append(row, Point{Name: dep.Name(), Value: v})
		}

		if err := yield(row); err != nil {
			return err
		}
	}

	return nil
}

// Chain concatenates sources: all rows of the first, then the second, and
// so on. The sources must share a parameter table; Params reports the
// first source's table.
func Chain(sources ...Source) Source {
	return chainSource(sources)
}

type chainSource []Source

func (c chainSource) Params() []datastore.ParamSpec {
	if len(c) == 0 {
		return nil
	}

	return c[0].Params()
}

func (c chainSource) Iterate(ctx context.Context, yield func(Row) error) error {
	for _, src := range c {
		if err := src.Iterate(ctx, yield); err != nil {
			return err
		}
	}

	return nil
}

// Nest runs the inner source once per outer sweep point, prefixing every
// inner row with the outer point. The outer sweep's dependents are ignored;
// only its set points participate.
func Nest(outer *PointSweep, inner Source) Source {
	return &nestSource{outer: outer, inner: inner}
}

type nestSource struct {
	outer *PointSweep
	inner Source
}

func (n *nestSource) Params() []datastore.ParamSpec {
	return append([]datastore.ParamSpec{n.outer.param.Spec()}, n.inner.Params()...)
}

func (n *nestSource) Iterate(ctx context.Context, yield func(Row) error) error {
	for _, value := range n.outer.values {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.outer.param.Set(ctx, value); err != nil {
			return err
		}

		outerPoint := Point{Name: n.outer.param.Name(), Value: []float64{value}}
		err := n.inner.Iterate(ctx, func(row Row) error {
			return yield(append(Row{outerPoint}, row...))
		})
		if err != nil {
			return err
		}
	}

	return nil
}
