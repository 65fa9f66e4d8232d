package engine

import (
	"context"
	"sync"
)

// TaskKind identifies the role of a spawned task.
type TaskKind string

const (
	KindProducer TaskKind = "producer"
	KindStrategy TaskKind = "strategy"
	KindExecutor TaskKind = "executor"
)

// TaskResult is how a task ended. Err is nil for a producer whose stream ran
// dry; strategies return their fatal error.
type TaskResult struct {
	Name string
	Kind TaskKind
	Err  error
}

// TaskSet tracks the goroutines spawned by the engine and hands back their
// results in completion order.
type TaskSet struct {
	mu      sync.Mutex
	running int
	done    []TaskResult
	notify  chan struct{}
	onExit  func(TaskResult)
}

func newTaskSet(onExit func(TaskResult)) *TaskSet {
	return &TaskSet{
		notify: make(chan struct{}, 1),
		onExit: onExit,
	}
}

func (s *TaskSet) spawn(name string, kind TaskKind, fn func() error) {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	go func() {
		s.finish(TaskResult{Name: name, Kind: kind, Err: fn()})
	}()
}

func (s *TaskSet) finish(res TaskResult) {
	if s.onExit != nil {
		s.onExit(res)
	}
	s.mu.Lock()
	s.running--
	s.done = append(s.done, res)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// complete records a task that ended before it was started.
func (s *TaskSet) complete(res TaskResult) {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	s.finish(res)
}

// Len returns the number of tasks still running.
func (s *TaskSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next blocks until a task completes and returns its result. It returns false
// once every task has been reported, or when ctx is done.
func (s *TaskSet) Next(ctx context.Context) (TaskResult, bool) {
	for {
		s.mu.Lock()
		if len(s.done) > 0 {
			res := s.done[0]
			s.done = s.done[1:]
			s.mu.Unlock()
			return res, true
		}
		if s.running == 0 {
			s.mu.Unlock()
			return TaskResult{}, false
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return TaskResult{}, false
		case <-s.notify:
		}
	}
}
