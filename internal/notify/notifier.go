// Package notify sends operator alerts to Telegram and Discord. Alerts are
// filtered by event type so operators receive only the ones they ask for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// Event types accepted in the notify.events filter.
const (
	EventOpportunity = "opportunity"
	EventDesync      = "desync"
	EventRestart     = "restart"
	EventLifecycle   = "lifecycle"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every sender. An empty event filter allows all
// events.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, forwarding only the listed
// event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Name identifies the notifier as an opportunity sink.
func (n *Notifier) Name() string { return "notify" }

// Record implements domain.OpportunitySink.
func (n *Notifier) Record(ctx context.Context, opp domain.ArbOpportunity) error {
	msg := fmt.Sprintf("profit %s ETH (bid %s, pay %s)\ncollection %s\npool %s\norder %s\nmode %s",
		domain.FormatWeiString(opp.Profit),
		domain.FormatWeiString(opp.PoolBid),
		domain.FormatWeiString(opp.PaymentValue),
		opp.Collection, opp.Pool, opp.OrderHash, opp.Mode,
	)
	return n.Notify(ctx, EventOpportunity, "Arbitrage opportunity", msg)
}

// Desync reports a strategy that lost sync with the chain.
func (n *Notifier) Desync(ctx context.Context, task string, cause error, restarting bool) error {
	action := "stopping"
	if restarting {
		action = "resyncing"
	}
	msg := fmt.Sprintf("%s: %v\n%s", task, cause, action)
	return n.Notify(ctx, EventDesync, "Strategy out of sync", msg)
}
