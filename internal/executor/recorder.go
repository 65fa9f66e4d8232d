package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const sinkTimeout = 5 * time.Second

// SubmissionTracker is told the hash of every broadcast transaction.
type SubmissionTracker interface {
	MarkSubmitted(ctx context.Context, id, txHash string) error
}

// Recorder fans every opportunity out to the configured sinks. Sink failures
// are logged and never block submission.
//
// In live mode recording runs in the background via Start and Submitted so
// that a slow sink (a stalled webhook, a saturated database) never delays a
// broadcast. Wait drains the background work on shutdown.
type Recorder struct {
	mode    string
	sinks   []domain.OpportunitySink
	tracker SubmissionTracker
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewRecorder creates a recorder. tracker may be nil.
func NewRecorder(mode string, tracker SubmissionTracker, sinks []domain.OpportunitySink, logger *slog.Logger) *Recorder {
	return &Recorder{
		mode:    mode,
		sinks:   sinks,
		tracker: tracker,
		timeout: sinkTimeout,
		logger:  logger.With(slog.String("component", "recorder")),
	}
}

// Name identifies the executor in engine logs.
func (r *Recorder) Name() string { return "recorder" }

// Execute implements engine.Executor for modes that only record.
func (r *Recorder) Execute(ctx context.Context, action domain.Action) error {
	if sub, ok := action.(domain.SubmitTransaction); ok {
		r.Record(ctx, sub)
	}
	return nil
}

// Record writes sub to every sink concurrently and waits for all of them.
func (r *Recorder) Record(ctx context.Context, sub domain.SubmitTransaction) {
	opp := sub.Opportunity(r.mode)
	var g errgroup.Group
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			if err := sink.Record(sctx, opp); err != nil {
				r.logger.Warn("record opportunity failed",
					slog.String("sink", sink.Name()),
					slog.String("id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info("opportunity recorded",
		slog.String("id", opp.ID),
		slog.String("profit_eth", domain.FormatWeiString(opp.Profit)),
		slog.Int("sinks", len(r.sinks)),
	)
}

// MarkSubmitted forwards a broadcast hash to the tracker.
func (r *Recorder) MarkSubmitted(ctx context.Context, id, txHash string) {
	if r.tracker == nil {
		return
	}
	if err := r.tracker.MarkSubmitted(ctx, id, txHash); err != nil {
		r.logger.Warn("mark submitted failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// Start records sub in the background. The returned channel is closed once
// every sink has returned. Recording outlives cancellation of ctx but is
// still bounded by the per-sink timeout.
func (r *Recorder) Start(ctx context.Context, sub domain.SubmitTransaction) <-chan struct{} {
	done := make(chan struct{})
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.Record(ctx, sub)
	}()
	return done
}

// Submitted forwards the broadcast hash to the tracker once recorded is
// closed, so the opportunity row exists before it is marked.
func (r *Recorder) Submitted(ctx context.Context, recorded <-chan struct{}, id, txHash string) {
	if r.tracker == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-recorded
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		r.MarkSubmitted(sctx, id, txHash)
	}()
}

// Wait blocks until all background recording has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
