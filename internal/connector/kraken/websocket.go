package kraken

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
)

// subscribeMessage is Kraken's public-feed subscription envelope.
type subscribeMessage struct {
	Event        string   `json:"event"`
	Pair         []string `json:"pair"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

// StartMarketStream subscribes to Kraken's "ticker" channel for the given
// pairs. Kraken's wire format differs from Binance's: each tick arrives as
// a top-level JSON array [channelID, payload, channelName, pair] rather
// than a named object, so the decode step here is shaped around that
// instead of reusing the binanceus reader.
func (c *Client) StartMarketStream(ctx context.Context, symbols []string) (<-chan connector.StreamMessage, error) {
	out := make(chan connector.StreamMessage, 1024)
	go c.runMarketStream(ctx, symbols, out)
	return out, nil
}

func (c *Client) runMarketStream(ctx context.Context, symbols []string, out chan<- connector.StreamMessage) {
	defer close(out)
	var seq uint64
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
		if err != nil {
			c.logger.Warn(ctx, "kraken stream dial failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			if !sleepOrDone(ctx, connector.ReconnectBackoff(attempt)) {
				return
			}
			attempt++
			continue
		}

		sub := subscribeMessage{Event: "subscribe", Pair: symbols}
		sub.Subscription.Name = "ticker"
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			if !sleepOrDone(ctx, connector.ReconnectBackoff(attempt)) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		readErr := c.readLoop(ctx, conn, out, &seq)
		conn.Close()
		if readErr == nil {
			return
		}
		c.logger.Warn(ctx, "kraken stream disconnected, reconnecting", map[string]interface{}{"error": readErr.Error()})
		if !sleepOrDone(ctx, connector.ReconnectBackoff(attempt)) {
			return
		}
		attempt++
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- connector.StreamMessage, seq *uint64) error {
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

		tick, ok := decodeTickerFrame(raw)
		if !ok {
			continue
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

// decodeTickerFrame parses a Kraken ticker frame of the shape
// [channelID, {"b":[bid,...],"a":[ask,...],"c":[last,...]}, "ticker", "XBT/USD"].
// Event frames ({"event": "..."}) are not tickers and return ok=false.
func decodeTickerFrame(raw []byte) (*domain.MarketTick, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		return nil, false // event/heartbeat object, not a ticker array
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 4 {
		return nil, false
	}

	var payload struct {
		Bid  []string `json:"b"`
		Ask  []string `json:"a"`
		Last []string `json:"c"`
	}
	if err := json.Unmarshal(frame[1], &payload); err != nil {
		return nil, false
	}
	var pair string
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return nil, false
	}

	bid, _ := decimal.NewFromString(firstOr(payload.Bid, "0"))
	ask, _ := decimal.NewFromString(firstOr(payload.Ask, "0"))
	last, _ := decimal.NewFromString(firstOr(payload.Last, "0"))

	return &domain.MarketTick{
		Symbol: pair, Venue: venueID, Bid: bid, Ask: ask, Last: last,
		Timestamp: time.Now().UTC(),
	}, true
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

// StartOrderStream is not wired: authenticated order-event feeds require a
// separate Kraken websocket token exchange out of scope for this connector.
func (c *Client) StartOrderStream(ctx context.Context) (<-chan connector.OrderUpdate, error) {
	return nil, coreerrors.New(coreerrors.KindVenueAPI, "kraken: order stream not supported in-scope")
}
