package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/nftarb/internal/domain"
	"github.com/alanyoungcy/nftarb/internal/engine"
)

// desyncNotifier is told when the strategy loses sync with the chain.
type desyncNotifier interface {
	Desync(ctx context.Context, task string, cause error, restarting bool) error
}

// supervisor watches the engine's tasks. A strategy that falls out of sync
// is resynchronised and restarted up to maxRestarts times; any other task
// ending stops the process.
type supervisor struct {
	respawn     func(ctx context.Context, set *engine.TaskSet)
	notifier    desyncNotifier
	restart     bool
	maxRestarts int
	logger      *slog.Logger

	restarts atomic.Int64
}

func (s *supervisor) run(ctx context.Context, set *engine.TaskSet) error {
	for {
		res, ok := set.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("app: every engine task exited")
		}
		if ctx.Err() != nil {
			continue
		}

		log := s.logger.With(slog.String("task", res.Name), slog.String("kind", string(res.Kind)))
		if res.Kind != engine.KindStrategy {
			if res.Err != nil {
				log.Error("task failed", slog.String("error", res.Err.Error()))
				return fmt.Errorf("app: %s %s: %w", res.Kind, res.Name, res.Err)
			}
			log.Error("task ended")
			return fmt.Errorf("app: %s %s ended", res.Kind, res.Name)
		}

		if res.Err == nil {
			return fmt.Errorf("app: strategy %s ended", res.Name)
		}
		if !errors.Is(res.Err, domain.ErrOutOfSync) {
			log.Error("strategy failed", slog.String("error", res.Err.Error()))
			return fmt.Errorf("app: strategy %s: %w", res.Name, res.Err)
		}

		restarts := s.restarts.Load()
		restarting := s.restart && restarts < int64(s.maxRestarts)
		if err := s.notifier.Desync(ctx, res.Name, res.Err, restarting); err != nil {
			log.Warn("desync notification failed", slog.String("error", err.Error()))
		}
		if !restarting {
			log.Error("strategy out of sync", slog.String("error", res.Err.Error()), slog.Int64("restarts", restarts))
			return fmt.Errorf("app: strategy %s: %w", res.Name, res.Err)
		}
		log.Warn("strategy out of sync, resyncing",
			slog.String("error", res.Err.Error()),
			slog.Int64("restart", s.restarts.Add(1)),
			slog.Int("max_restarts", s.maxRestarts),
		)
		s.respawn(ctx, set)
	}
}
