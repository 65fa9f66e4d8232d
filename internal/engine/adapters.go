package engine

import (
	"context"
)

// MapProducer wraps a producer so its events are converted with fn before
// publication. Lets a producer of a concrete event type feed an engine whose
// event type is a sum of several.
func MapProducer[In, Out any](p Producer[In], fn func(In) Out) Producer[Out] {
	return &mapProducer[In, Out]{inner: p, fn: fn}
}

type mapProducer[In, Out any] struct {
	inner Producer[In]
	fn    func(In) Out
}

func (m *mapProducer[In, Out]) Events(ctx context.Context) (<-chan Out, error) {
	in, err := m.inner.Events(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan Out)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- m.fn(v):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *mapProducer[In, Out]) Name() string {
	if named, ok := m.inner.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "mapped"
}

// FilterExecutor wraps an executor of a narrower action type. fn extracts
// the inner action; actions for which it reports false are ignored.
func FilterExecutor[Outer, Inner any](x Executor[Inner], fn func(Outer) (Inner, bool)) Executor[Outer] {
	return &filterExecutor[Outer, Inner]{inner: x, fn: fn}
}

type filterExecutor[Outer, Inner any] struct {
	inner Executor[Inner]
	fn    func(Outer) (Inner, bool)
}

func (f *filterExecutor[Outer, Inner]) Execute(ctx context.Context, action Outer) error {
	inner, ok := f.fn(action)
	if !ok {
		return nil
	}
	return f.inner.Execute(ctx, inner)
}

func (f *filterExecutor[Outer, Inner]) Name() string {
	if named, ok := f.inner.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "filtered"
}
