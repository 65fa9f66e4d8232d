package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftarb/internal/domain"
	"github.com/alanyoungcy/nftarb/internal/engine"
	"github.com/alanyoungcy/nftarb/internal/executor"
	"github.com/alanyoungcy/nftarb/internal/feed"
	"github.com/alanyoungcy/nftarb/internal/notify"
	"github.com/alanyoungcy/nftarb/internal/server"
	"github.com/alanyoungcy/nftarb/internal/server/handler"
	"github.com/alanyoungcy/nftarb/internal/server/ws"
	"github.com/alanyoungcy/nftarb/internal/strategy"
)

// syncLogTop is how many collections sync mode prints.
const syncLogTop = 20

// status is served by /api/status and sent to new websocket clients.
type status struct {
	Mode      string         `json:"mode"`
	Chain     string         `json:"chain"`
	Account   string         `json:"account,omitempty"`
	Strategy  strategy.Stats `json:"strategy"`
	Restarts  int64          `json:"restarts"`
	StartedAt time.Time      `json:"started_at"`
	Uptime    string         `json:"uptime"`
}

// LiveMode detects opportunities and submits them to the public mempool.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Signer == nil {
		return errors.New("live mode: no signer")
	}
	metrics := executor.NewMetrics(deps.Registry)
	return a.runEngine(ctx, deps, func(rec *executor.Recorder) engine.Executor[domain.Action] {
		return executor.NewMempoolExecutor(deps.Chain, deps.Signer, executor.MempoolConfig{
			GasLimitBufferPct: a.cfg.Executor.GasLimitBufferPct,
			DedupTTL:          a.cfg.Executor.DedupTTL.Duration,
		}, rec, metrics, a.logger)
	})
}

// DryMode detects opportunities and records them without submitting.
func (a *App) DryMode(ctx context.Context, deps *Dependencies) error {
	return a.runEngine(ctx, deps, func(rec *executor.Recorder) engine.Executor[domain.Action] {
		return rec
	})
}

// SyncMode runs one synchronisation pass, logs the book and returns.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	arb := a.newStrategy(deps)
	start := time.Now()
	if err := arb.SyncState(ctx); err != nil {
		return fmt.Errorf("sync mode: %w", err)
	}
	st := arb.Stats()
	a.logger.InfoContext(ctx, "sync complete",
		slog.Int64("collections", st.Collections),
		slog.Int64("pools", st.Pools),
		slog.Uint64("block", st.LastBlock),
		slog.Duration("elapsed", time.Since(start)),
	)
	for i, cb := range arb.TopBids(syncLogTop) {
		a.logger.InfoContext(ctx, "collection",
			slog.Int("rank", i+1),
			slog.String("collection", cb.Collection.Hex()),
			slog.String("pool", cb.Pool.Hex()),
			slog.String("bid_eth", domain.FormatEther(cb.Bid)),
			slog.Int("pools", cb.Pools),
		)
	}
	return nil
}

func (a *App) newStrategy(deps *Dependencies) *strategy.SudoArb {
	cfg := strategy.Config{
		ArbContract:            common.HexToAddress(a.cfg.Arb.Contract),
		BidPercentage:          a.cfg.Arb.BidPercentage,
		Chain:                  a.cfg.Chain.Name,
		FactoryDeploymentBlock: a.cfg.Arb.FactoryDeploymentBlock,
		LogWindow:              a.cfg.Arb.LogWindow,
		QuoteChunk:             a.cfg.Arb.QuoteChunk,
	}
	if a.cfg.Arb.Factory != "" {
		cfg.Factory = common.HexToAddress(a.cfg.Arb.Factory)
	}
	var market strategy.FulfillmentClient
	if deps.OpenSea != nil {
		market = deps.OpenSea
	}
	return strategy.NewSudoArb(cfg, deps.Chain, market, deps.Quoter, deps.Codec, a.logger)
}

// runEngine starts the HTTP server, then syncs the strategy and runs the
// engine under the supervisor until ctx is cancelled or a task fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, newExecutor func(*executor.Recorder) engine.Executor[domain.Action]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	arb := a.newStrategy(deps)
	sup := &supervisor{
		notifier:    deps.Notifier,
		restart:     a.cfg.Arb.RestartOnDesync,
		maxRestarts: a.cfg.Arb.MaxRestarts,
		logger:      a.logger.With(slog.String("component", "supervisor")),
	}
	startedAt := time.Now().UTC()
	snapshot := func() any {
		st := status{
			Mode:      a.cfg.Mode,
			Chain:     a.cfg.Chain.Name,
			Strategy:  arb.Stats(),
			Restarts:  sup.restarts.Load(),
			StartedAt: startedAt,
			Uptime:    time.Since(startedAt).Round(time.Second).String(),
		}
		if deps.Signer != nil {
			st.Account = deps.Signer.Address().Hex()
		}
		return st
	}

	sinks := deps.Sinks()
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(snapshot, a.logger)
		sinks = append(sinks, hub)
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, deps, snapshot, hub)
	}

	if deps.Lease != nil {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-deps.Lease.Lost():
				return errors.New("app: live lease lost")
			}
		})
	}

	var tracker executor.SubmissionTracker
	if deps.Store != nil {
		tracker = deps.Store
	}
	rec := executor.NewRecorder(a.cfg.Mode, tracker, sinks, a.logger)
	defer rec.Wait()

	eng := engine.New[domain.Event, domain.Action](
		engine.WithEventCapacity(a.cfg.Engine.EventCapacity),
		engine.WithActionCapacity(a.cfg.Engine.ActionCapacity),
		engine.WithMetrics(engine.NewMetrics(deps.Registry)),
		engine.WithLogger(a.logger),
	)
	eng.AddProducer(engine.MapProducer(
		feed.NewBlockFeed(deps.Chain, a.cfg.Chain.PollInterval.Duration, a.logger),
		func(b domain.NewBlock) domain.Event { return b },
	))
	eng.AddProducer(engine.MapProducer(
		feed.NewOrderFeed(deps.Stream, a.cfg.Chain.Name, a.logger),
		func(o domain.MarketplaceOrder) domain.Event { return o },
	))
	eng.AddStrategy(arb)
	eng.AddExecutor(newExecutor(rec))

	set, err := eng.Run(ctx)
	if err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("app: start engine: %w", err)
	}
	sup.respawn = func(ctx context.Context, set *engine.TaskSet) {
		eng.SpawnStrategy(ctx, set, arb)
	}
	g.Go(func() error {
		return sup.run(ctx, set)
	})

	if err := deps.Notifier.Notify(ctx, notify.EventLifecycle, "nftarb started",
		fmt.Sprintf("mode %s on %s", a.cfg.Mode, a.cfg.Chain.Name)); err != nil {
		a.logger.WarnContext(ctx, "lifecycle notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// startHTTPServer serves health, status, history, metrics and the websocket
// feed until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, snapshot func() any, hub *ws.Hub) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.APIKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(deps.Checks, a.logger),
		Status:        handler.NewStatusHandler(snapshot),
		Opportunities: handler.NewOpportunityHandler(deps.History(), a.logger),
		Metrics:       promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}),
		Hub:           hub,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
