package opensea

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// heartbeatPeriod is the Phoenix heartbeat interval.
	heartbeatPeriod = 30 * time.Second

	// readWait must exceed heartbeatPeriod; every heartbeat is answered.
	readWait = 2 * heartbeatPeriod

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	eventItemListed = "item_listed"
)

// StreamClient subscribes to OpenSea Stream listing events. It reconnects
// with exponential backoff until its context is cancelled.
type StreamClient struct {
	wsURL      string
	apiKey     string
	collection string
	logger     *slog.Logger

	writeMu sync.Mutex
	ref     int64
}

// NewStreamClient creates a stream client for the given collection slug;
// "*" subscribes to every collection.
//
// wsURL is the socket endpoint, e.g. "wss://stream.openseabeta.com/socket/websocket".
func NewStreamClient(wsURL, apiKey, collection string, logger *slog.Logger) *StreamClient {
	if collection == "" {
		collection = "*"
	}
	return &StreamClient{
		wsURL:      wsURL,
		apiKey:     apiKey,
		collection: collection,
		logger:     logger.With(slog.String("component", "opensea_stream")),
	}
}

// Listings streams every item_listed event as a domain listing. The channel
// is closed when ctx is done.
func (s *StreamClient) Listings(ctx context.Context) (<-chan *domain.Listing, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Listing, 64)
	go func() {
		defer close(out)
		delay := reconnectDelay
		for {
			err := s.serve(ctx, conn, out)
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream disconnected", slog.String("error", err.Error()))

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				conn, err = s.connect(ctx)
				if err == nil {
					delay = reconnectDelay
					break
				}
				s.logger.Warn("stream reconnect failed",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", delay),
				)
				delay *= 2
				if delay > maxReconnectDelay {
					delay = maxReconnectDelay
				}
			}
		}
	}()
	return out, nil
}

// connect dials the socket and joins the collection topic.
func (s *StreamClient) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return nil, fmt.Errorf("opensea/stream: parse url: %w", err)
	}
	q := u.Query()
	if s.apiKey != "" {
		q.Set("token", s.apiKey)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("opensea/stream: connect: %w", err)
	}

	if err := s.send(conn, "collection:"+s.collection, "phx_join"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opensea/stream: join: %w", err)
	}
	s.logger.Info("joined stream", slog.String("collection", s.collection))
	return conn, nil
}

// serve reads frames until the connection fails or ctx is done.
func (s *StreamClient) serve(ctx context.Context, conn *websocket.Conn, out chan<- *domain.Listing) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				s.writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				s.writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				if err := s.send(conn, "phoenix", "heartbeat"); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("opensea/stream: %w: %v", domain.ErrWSDisconnect, err)
		}
		listing, err := parseListing(raw)
		if err != nil {
			s.logger.Debug("dropping stream frame", slog.String("error", err.Error()))
			continue
		}
		if listing == nil {
			continue
		}
		select {
		case out <- listing:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *StreamClient) send(conn *websocket.Conn, topic, event string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ref++
	ref := s.ref
	data, err := json.Marshal(phxMessage{
		Topic:   topic,
		Event:   event,
		Payload: json.RawMessage(`{}`),
		Ref:     &ref,
	})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// parseListing decodes a frame. Frames other than item_listed yield nil.
func parseListing(raw []byte) (*domain.Listing, error) {
	var msg phxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Event != eventItemListed {
		return nil, nil
	}
	var env streamEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var p ItemListedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode item_listed: %w", err)
	}
	return p.ToListing()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999-07:00",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseTimestamp returns unix seconds, or 0 when s is empty or unparseable.
func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}
