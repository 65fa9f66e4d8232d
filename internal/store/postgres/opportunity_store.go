package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL. It is
// also an opportunity sink for the recorder and tracks submission hashes.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Name identifies the sink in recorder logs.
func (s *OpportunityStore) Name() string { return "postgres" }

// Record implements domain.OpportunitySink.
func (s *OpportunityStore) Record(ctx context.Context, opp domain.ArbOpportunity) error {
	return s.Insert(ctx, opp)
}

// Insert stores an opportunity. Re-inserting the same id is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.ArbOpportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arb_opportunities (id, order_hash, collection, pool, pool_bid, payment_value, profit, bid_percentage, mode, detected_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, opp.OrderHash, opp.Collection, opp.Pool,
		numeric(opp.PoolBid), numeric(opp.PaymentValue), numeric(opp.Profit),
		int64(opp.BidPercentage), opp.Mode, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkSubmitted attaches the broadcast transaction hash to an opportunity.
func (s *OpportunityStore) MarkSubmitted(ctx context.Context, id, txHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE arb_opportunities SET tx_hash = $2, submitted_at = $3 WHERE id = $1`,
		id, txHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark arb_opportunity %s submitted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark arb_opportunity %s submitted: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbOpportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_hash, collection, pool, pool_bid::text, payment_value::text, profit::text, bid_percentage, mode, detected_at
		FROM arb_opportunities ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_opportunities: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanOpportunity)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan arb_opportunities: %w", err)
	}
	return list, nil
}

func scanOpportunity(row pgx.CollectableRow) (domain.ArbOpportunity, error) {
	var opp domain.ArbOpportunity
	var pct int64
	err := row.Scan(&opp.ID, &opp.OrderHash, &opp.Collection, &opp.Pool,
		&opp.PoolBid, &opp.PaymentValue, &opp.Profit, &pct, &opp.Mode, &opp.DetectedAt)
	opp.BidPercentage = uint64(pct)
	return opp, err
}

// numeric maps empty amounts to zero so the NUMERIC cast never fails.
func numeric(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
