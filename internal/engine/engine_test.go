package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type sliceProducer struct {
	items []int
}

func (p *sliceProducer) Events(ctx context.Context) (<-chan int, error) {
	out := make(chan int)
	go func() {
		defer close(out)
		for _, v := range p.items {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type failingProducer struct{}

func (failingProducer) Events(context.Context) (<-chan int, error) {
	return nil, errors.New("dial failed")
}

type scaleStrategy struct {
	factor  int
	synced  atomic.Bool
	syncErr error
	failOn  int
	unready atomic.Int32
}

func (s *scaleStrategy) SyncState(context.Context) error {
	if s.syncErr != nil {
		return s.syncErr
	}
	s.synced.Store(true)
	return nil
}

func (s *scaleStrategy) ProcessEvent(_ context.Context, v int) (int, bool, error) {
	if !s.synced.Load() {
		s.unready.Add(1)
	}
	if s.failOn != 0 && v == s.failOn {
		return 0, false, errors.New("state diverged")
	}
	if v%2 == 0 {
		return 0, false, nil
	}
	return v * s.factor, true, nil
}

type chanExecutor struct {
	out chan int
}

func (x *chanExecutor) Execute(_ context.Context, v int) error {
	x.out <- v
	return nil
}

func collect(t *testing.T, ch <-chan int, n int) map[int]bool {
	t.Helper()
	got := make(map[int]bool)
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case v := <-ch:
			got[v] = true
		case <-timeout:
			t.Fatalf("timed out after %d of %d actions: %v", len(got), n, got)
		}
	}
	return got
}

func drain(t *testing.T, set *TaskSet) []TaskResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []TaskResult
	for {
		res, ok := set.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				t.Fatalf("tasks still running after timeout: %d", set.Len())
			}
			return out
		}
		out = append(out, res)
	}
}

func TestEngine_RoutesEventsThroughStrategyToExecutor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &chanExecutor{out: make(chan int, 16)}
	strat := &scaleStrategy{factor: 10}

	e := New[int, int]()
	e.AddProducer(&sliceProducer{items: []int{1, 2, 3, 4, 5}})
	e.AddStrategy(strat)
	e.AddExecutor(exec)

	set, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := collect(t, exec.out, 3)
	for _, want := range []int{10, 30, 50} {
		if !got[want] {
			t.Fatalf("missing action %d in %v", want, got)
		}
	}
	if n := strat.unready.Load(); n != 0 {
		t.Fatalf("%d events processed before sync completed", n)
	}

	cancel()
	results := drain(t, set)
	if len(results) != 3 {
		t.Fatalf("got %d task results, want 3", len(results))
	}
	for _, r := range results {
		if r.Kind == KindProducer && r.Err != nil {
			t.Fatalf("producer ended with %v, want clean end of stream", r.Err)
		}
	}
}

func TestEngine_EveryStrategySeesEveryEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &chanExecutor{out: make(chan int, 16)}
	e := New[int, int]()
	e.AddProducer(&sliceProducer{items: []int{1, 3}})
	e.AddStrategy(&scaleStrategy{factor: 10})
	e.AddStrategy(&scaleStrategy{factor: 100})
	e.AddExecutor(exec)

	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	got := collect(t, exec.out, 4)
	for _, want := range []int{10, 30, 100, 300} {
		if !got[want] {
			t.Fatalf("missing action %d in %v", want, got)
		}
	}
}

func TestEngine_FailedSyncIsReportedAndIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &chanExecutor{out: make(chan int, 16)}
	broken := &scaleStrategy{factor: 100, syncErr: errors.New("rpc down")}
	healthy := &scaleStrategy{factor: 10}

	e := New[int, int]()
	e.AddProducer(&sliceProducer{items: []int{1}})
	e.AddStrategy(broken)
	e.AddStrategy(healthy)
	e.AddExecutor(exec)

	set, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	res, ok := set.Next(ctx)
	if !ok {
		t.Fatal("expected a completed task")
	}
	if res.Kind != KindStrategy || res.Err == nil {
		t.Fatalf("first result = %+v, want failed strategy", res)
	}
	if !errors.Is(res.Err, broken.syncErr) {
		t.Fatalf("err = %v, want wrapped sync error", res.Err)
	}

	got := collect(t, exec.out, 1)
	if !got[10] {
		t.Fatalf("healthy strategy did not act: %v", got)
	}
}

func TestEngine_StrategyErrorEndsOnlyThatStrategy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &chanExecutor{out: make(chan int, 16)}
	fragile := &scaleStrategy{factor: 100, failOn: 2}
	steady := &scaleStrategy{factor: 10}

	e := New[int, int]()
	e.AddProducer(&sliceProducer{items: []int{1, 2, 3}})
	e.AddStrategy(fragile)
	e.AddStrategy(steady)
	e.AddExecutor(exec)

	set, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	got := collect(t, exec.out, 3)
	for _, want := range []int{10, 30, 100} {
		if !got[want] {
			t.Fatalf("missing action %d in %v", want, got)
		}
	}
	if got[300] {
		t.Fatal("failed strategy kept processing events")
	}

	var failed bool
	for !failed {
		res, ok := set.Next(ctx)
		if !ok {
			t.Fatal("task set drained without the strategy failure")
		}
		failed = res.Kind == KindStrategy && res.Err != nil
	}
}

func TestEngine_ProducerStartErrorIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New[int, int]()
	e.AddProducer(failingProducer{})
	set, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	res, ok := set.Next(ctx)
	if !ok || res.Kind != KindProducer || res.Err == nil {
		t.Fatalf("result = %+v, %v; want producer error", res, ok)
	}
}

func TestEngine_RunTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New[int, int]()
	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(ctx); err == nil {
		t.Fatal("second Run should fail")
	}
}

func TestEngine_SpawnStrategyRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &chanExecutor{out: make(chan int, 16)}
	gate := make(chan struct{})
	e := New[int, int]()
	e.AddProducer(&gatedProducer{gate: gate, items: []int{5}})
	e.AddExecutor(exec)

	set, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	e.SpawnStrategy(ctx, set, &scaleStrategy{factor: 3})
	close(gate)

	got := collect(t, exec.out, 1)
	if !got[15] {
		t.Fatalf("spawned strategy did not act: %v", got)
	}
}

func TestEngine_Metrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	exec := &chanExecutor{out: make(chan int, 16)}

	e := New[int, int](WithMetrics(m))
	e.AddProducer(&sliceProducer{items: []int{1, 3}})
	e.AddStrategy(&scaleStrategy{factor: 1})
	e.AddExecutor(exec)
	if _, err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	collect(t, exec.out, 2)

	deadline := time.Now().Add(2 * time.Second)
	for {
		events := counterValue(t, reg, "nftarb_engine_events_published_total")
		actions := counterValue(t, reg, "nftarb_engine_actions_published_total")
		if events == 2 && actions == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("events=%v actions=%v, want 2 and 2", events, actions)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestAdapters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := MapProducer[int, string](&sliceProducer{items: []int{1, 2}}, func(v int) string {
		return string(rune('a' + v))
	})
	stream, err := p.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for v := range stream {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("mapped = %v", got)
	}

	inner := &chanExecutor{out: make(chan int, 1)}
	x := FilterExecutor[string, int](inner, func(s string) (int, bool) {
		return len(s), s != ""
	})
	if err := x.Execute(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if err := x.Execute(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	if v := <-inner.out; v != 3 {
		t.Fatalf("filtered executor got %d, want 3", v)
	}
}

type gatedProducer struct {
	gate  chan struct{}
	items []int
}

func (p *gatedProducer) Events(ctx context.Context) (<-chan int, error) {
	out := make(chan int)
	go func() {
		defer close(out)
		select {
		case <-p.gate:
		case <-ctx.Done():
			return
		}
		for _, v := range p.items {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
