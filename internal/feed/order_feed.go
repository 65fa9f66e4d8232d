package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// ListingSource streams marketplace listings.
type ListingSource interface {
	Listings(ctx context.Context) (<-chan *domain.Listing, error)
}

// OrderFeed turns a listing stream into domain.MarketplaceOrder events.
// Listings for other chains are dropped here when chain is set.
type OrderFeed struct {
	src    ListingSource
	chain  string
	logger *slog.Logger
}

// NewOrderFeed creates an order producer.
func NewOrderFeed(src ListingSource, chain string, logger *slog.Logger) *OrderFeed {
	return &OrderFeed{
		src:    src,
		chain:  chain,
		logger: logger.With(slog.String("component", "order_feed")),
	}
}

// Name identifies the producer in engine logs.
func (f *OrderFeed) Name() string { return "orders" }

// Events implements engine.Producer.
func (f *OrderFeed) Events(ctx context.Context) (<-chan domain.MarketplaceOrder, error) {
	listings, err := f.src.Listings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.MarketplaceOrder)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-listings:
				if !ok {
					f.logger.Info("listing stream closed")
					return
				}
				if l == nil || (f.chain != "" && l.Chain != f.chain) {
					continue
				}
				select {
				case out <- domain.MarketplaceOrder{Listing: l}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
