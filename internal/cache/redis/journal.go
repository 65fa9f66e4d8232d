package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const (
	// ChannelOpportunities carries every opportunity as it is recorded.
	ChannelOpportunities = "nftarb:opportunities"
	// StreamOpportunities keeps a trimmed, ordered history.
	StreamOpportunities = "nftarb:opportunities:stream"

	streamMaxLen int64 = 10000
)

// Journal publishes opportunities on a pub/sub channel and appends them to a
// capped stream in one pipeline round trip.
type Journal struct {
	rdb *redis.Client
}

// NewJournal creates a Journal on c.
func NewJournal(c *Client) *Journal {
	return &Journal{rdb: c.Underlying()}
}

// Name identifies the sink in recorder logs.
func (j *Journal) Name() string { return "redis" }

// Record implements domain.OpportunitySink.
func (j *Journal) Record(ctx context.Context, opp domain.ArbOpportunity) error {
	payload, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("redis: marshal opportunity %s: %w", opp.ID, err)
	}
	_, err = j.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, ChannelOpportunities, payload)
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamOpportunities,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]any{"id": opp.ID, "payload": payload},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: journal opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns up to limit opportunities from the stream, newest first.
func (j *Journal) ListRecent(ctx context.Context, limit int) ([]domain.ArbOpportunity, error) {
	msgs, err := j.rdb.XRevRangeN(ctx, StreamOpportunities, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", StreamOpportunities, err)
	}
	out := make([]domain.ArbOpportunity, 0, len(msgs))
	for _, msg := range msgs {
		opp, ok := decodeEntry(msg)
		if ok {
			out = append(out, opp)
		}
	}
	return out, nil
}

// decodeEntry reads the payload field of a stream entry. go-redis returns
// field values as strings.
func decodeEntry(msg redis.XMessage) (domain.ArbOpportunity, bool) {
	var opp domain.ArbOpportunity
	var data []byte
	switch v := msg.Values["payload"].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return opp, false
	}
	if err := json.Unmarshal(data, &opp); err != nil {
		return opp, false
	}
	return opp, true
}
