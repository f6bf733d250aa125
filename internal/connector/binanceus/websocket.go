package binanceus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
)

// StartMarketStream dials the combined-stream websocket endpoint and
// fans out ticks on a single channel. Structured after an
// ensureConnection/processConnection reconnect pair, corrected to use
// connector.ReconnectBackoff instead of a flat 5s sleep, and simplified to
// one stream kind (bookTicker) since only public market data is in scope
// for this venue.
func (c *Client) StartMarketStream(ctx context.Context, symbols []string) (<-chan connector.StreamMessage, error) {
	out := make(chan connector.StreamMessage, 1024)
	streams := make([]string, len(symbols))
	canonical := make(map[string]string, len(symbols))
	for i, s := range symbols {
		wireSymbol := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
		streams[i] = strings.ToLower(wireSymbol) + "@bookTicker"
		canonical[wireSymbol] = s
	}
	streamURL := fmt.Sprintf("%s/stream?streams=%s", c.cfg.WSBaseURL, strings.Join(streams, "/"))

	go c.runMarketStream(ctx, streamURL, canonical, out)
	return out, nil
}

func (c *Client) runMarketStream(ctx context.Context, streamURL string, canonical map[string]string, out chan<- connector.StreamMessage) {
	defer close(out)
	var seq uint64
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			c.logger.Warn(ctx, "binanceus stream dial failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			if !sleepOrDone(ctx, connector.ReconnectBackoff(attempt)) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		readErr := c.readLoop(ctx, conn, canonical, out, &seq)
		conn.Close()
		if readErr == nil {
			return // ctx cancelled cleanly
		}
		c.logger.Warn(ctx, "binanceus stream disconnected, reconnecting", map[string]interface{}{"error": readErr.Error()})
		if !sleepOrDone(ctx, connector.ReconnectBackoff(attempt)) {
			return
		}
		attempt++
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, canonical map[string]string, out chan<- connector.StreamMessage, seq *uint64) error {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var envelope struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		var payload struct {
			Symbol   string `json:"s"`
			BidPrice string `json:"b"`
			AskPrice string `json:"a"`
		}
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			continue
		}
		bid, _ := decimal.NewFromString(payload.BidPrice)
		ask, _ := decimal.NewFromString(payload.AskPrice)
		symbol := canonical[strings.ToUpper(payload.Symbol)]
		if symbol == "" {
			symbol = payload.Symbol
		}
		tick := &domain.MarketTick{
			Symbol: symbol, Venue: venueID, Bid: bid, Ask: ask, Last: ask,
			Timestamp: time.Now().UTC(),
		}
		*seq++
		msg := connector.StreamMessage{Tick: tick, SourceSeq: *seq}

		select {
		case out <- msg:
		default:
			atomic.AddInt64(&c.droppedMsgs, 1)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// StartOrderStream is not wired for Binance.US: the in-scope surface is
// public market data only, so the authenticated user-data
// stream is deliberately unimplemented here.
func (c *Client) StartOrderStream(ctx context.Context) (<-chan connector.OrderUpdate, error) {
	return nil, coreerrors.New(coreerrors.KindVenueAPI, "binanceus: order stream not supported in-scope")
}
