// Package engine wires event producers, strategies and executors together
// over two broadcast buses: producers publish events, every strategy sees
// every event, and every executor sees every action.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Producer emits a lazy, possibly infinite stream of events. The channel is
// consumed by the engine and is closed by the producer when the stream ends.
type Producer[E any] interface {
	Events(ctx context.Context) (<-chan E, error)
}

// Strategy turns events into at most one action each.
type Strategy[E, A any] interface {
	// SyncState builds the strategy's initial state. It runs to completion
	// before the strategy sees any event; an error is fatal to the strategy.
	SyncState(ctx context.Context) error
	// ProcessEvent handles one event. ok reports whether action is set. A
	// non-nil error means the strategy can no longer trust its state and
	// ends the strategy's task.
	ProcessEvent(ctx context.Context, event E) (action A, ok bool, err error)
}

// Executor performs actions. Actions it does not understand are no-ops.
type Executor[A any] interface {
	Execute(ctx context.Context, action A) error
}

const defaultBusCapacity = 512

// Option configures an Engine.
type Option func(*options)

type options struct {
	eventCapacity  int
	actionCapacity int
	metrics        *Metrics
	logger         *slog.Logger
}

// WithEventCapacity sets the per-subscriber event buffer.
func WithEventCapacity(n int) Option { return func(o *options) { o.eventCapacity = n } }

// WithActionCapacity sets the per-subscriber action buffer.
func WithActionCapacity(n int) Option { return func(o *options) { o.actionCapacity = n } }

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Engine orchestrates producers, strategies and executors.
type Engine[E, A any] struct {
	opts   options
	logger *slog.Logger

	producers  []Producer[E]
	strategies []Strategy[E, A]
	executors  []Executor[A]

	mu      sync.Mutex
	events  *Bus[E]
	actions *Bus[A]
	seq     map[TaskKind]int
}

// New creates an empty Engine.
func New[E, A any](opts ...Option) *Engine[E, A] {
	o := options{
		eventCapacity:  defaultBusCapacity,
		actionCapacity: defaultBusCapacity,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[E, A]{
		opts:   o,
		logger: o.logger.With(slog.String("component", "engine")),
		seq:    make(map[TaskKind]int),
	}
}

// AddProducer registers a producer.
func (e *Engine[E, A]) AddProducer(p Producer[E]) { e.producers = append(e.producers, p) }

// AddStrategy registers a strategy.
func (e *Engine[E, A]) AddStrategy(s Strategy[E, A]) { e.strategies = append(e.strategies, s) }

// AddExecutor registers an executor.
func (e *Engine[E, A]) AddExecutor(x Executor[A]) { e.executors = append(e.executors, x) }

// Run synchronises every strategy and then starts one goroutine per
// producer, strategy and executor. Tasks run until ctx is cancelled or they
// fail; the returned TaskSet reports each one as it ends. A strategy whose
// SyncState fails is reported immediately and never sees an event.
func (e *Engine[E, A]) Run(ctx context.Context) (*TaskSet, error) {
	e.mu.Lock()
	if e.events != nil {
		e.mu.Unlock()
		return nil, errors.New("engine: already running")
	}
	e.events = NewBus[E](e.opts.eventCapacity)
	e.actions = NewBus[A](e.opts.actionCapacity)
	e.mu.Unlock()

	set := newTaskSet(e.opts.metrics.taskExited)

	for _, x := range e.executors {
		e.spawnExecutor(ctx, set, x)
	}
	for _, s := range e.strategies {
		e.SpawnStrategy(ctx, set, s)
	}
	for _, p := range e.producers {
		e.spawnProducer(ctx, set, p)
	}
	return set, nil
}

// SpawnStrategy subscribes s to the running event bus, synchronises it and
// starts its loop in set. It is used by Run and by supervisors restarting a
// strategy after a fatal error.
func (e *Engine[E, A]) SpawnStrategy(ctx context.Context, set *TaskSet, s Strategy[E, A]) {
	name := e.taskName(KindStrategy, s)
	log := e.logger.With(slog.String("task", name))

	e.mu.Lock()
	events := e.events
	e.mu.Unlock()
	if events == nil {
		set.complete(TaskResult{Name: name, Kind: KindStrategy, Err: errors.New("engine: not running")})
		return
	}

	sub := events.Subscribe()
	log.InfoContext(ctx, "syncing strategy state")
	if err := s.SyncState(ctx); err != nil {
		sub.Unsubscribe()
		log.ErrorContext(ctx, "strategy sync failed", slog.String("error", err.Error()))
		set.complete(TaskResult{Name: name, Kind: KindStrategy, Err: fmt.Errorf("engine: sync %s: %w", name, err)})
		return
	}

	set.spawn(name, KindStrategy, func() error {
		defer e.opts.metrics.track(KindStrategy)()
		defer sub.Unsubscribe()
		log.Info("starting strategy")
		for {
			ev, err := sub.Recv(ctx)
			if err != nil {
				if stop, err := e.recvError(log, name, err); stop {
					return err
				}
				continue
			}
			action, ok, err := s.ProcessEvent(ctx, ev)
			if err != nil {
				log.Error("strategy failed", slog.String("error", err.Error()))
				return fmt.Errorf("engine: %s: %w", name, err)
			}
			if !ok {
				continue
			}
			if _, err := e.actions.Publish(action); err != nil {
				log.Error("error sending action", slog.String("error", err.Error()))
				continue
			}
			e.opts.metrics.actionPublished()
		}
	})
}

func (e *Engine[E, A]) spawnExecutor(ctx context.Context, set *TaskSet, x Executor[A]) {
	name := e.taskName(KindExecutor, x)
	log := e.logger.With(slog.String("task", name))
	sub := e.actions.Subscribe()

	set.spawn(name, KindExecutor, func() error {
		defer e.opts.metrics.track(KindExecutor)()
		defer sub.Unsubscribe()
		log.Info("starting executor")
		for {
			action, err := sub.Recv(ctx)
			if err != nil {
				if stop, err := e.recvError(log, name, err); stop {
					return err
				}
				continue
			}
			if err := x.Execute(ctx, action); err != nil {
				e.opts.metrics.executorFailed()
				log.Error("error executing action", slog.String("error", err.Error()))
			}
		}
	})
}

func (e *Engine[E, A]) spawnProducer(ctx context.Context, set *TaskSet, p Producer[E]) {
	name := e.taskName(KindProducer, p)
	log := e.logger.With(slog.String("task", name))

	set.spawn(name, KindProducer, func() error {
		defer e.opts.metrics.track(KindProducer)()
		log.Info("starting producer")
		stream, err := p.Events(ctx)
		if err != nil {
			log.Error("producer failed to start", slog.String("error", err.Error()))
			return fmt.Errorf("engine: %s: %w", name, err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-stream:
				if !ok {
					log.Info("producer stream ended")
					return nil
				}
				if _, err := e.events.Publish(ev); err != nil {
					log.Error("error sending event", slog.String("error", err.Error()))
					continue
				}
				e.opts.metrics.eventPublished()
			}
		}
	})
}

// recvError classifies a subscription error: lag is logged and survived, a
// closed bus ends the task cleanly and a cancelled context ends it with the
// context error.
func (e *Engine[E, A]) recvError(log *slog.Logger, name string, err error) (bool, error) {
	var lagged *LaggedError
	if errors.As(err, &lagged) {
		e.opts.metrics.lagged(name, lagged.Skipped)
		log.Warn("error receiving from bus", slog.String("error", err.Error()))
		return false, nil
	}
	if errors.Is(err, ErrBusClosed) {
		return true, nil
	}
	return true, err
}

func (e *Engine[E, A]) taskName(kind TaskKind, v any) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.seq[kind]
	e.seq[kind] = n + 1
	if named, ok := v.(interface{ Name() string }); ok {
		return fmt.Sprintf("%s/%s#%d", kind, named.Name(), n)
	}
	return fmt.Sprintf("%s/%T#%d", kind, v, n)
}
