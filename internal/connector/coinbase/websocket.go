package coinbase

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

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

// tickerEvent mirrors Coinbase Advanced Trade's "ticker" channel frame:
// {"channel":"ticker","events":[{"tickers":[{product_id,price,best_bid,best_ask}]}]}.
type tickerEvent struct {
	Channel string `json:"channel"`
	Events  []struct {
		Tickers []struct {
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
			BestBid   string `json:"best_bid"`
			BestAsk   string `json:"best_ask"`
		} `json:"tickers"`
	} `json:"events"`
}

// StartMarketStream subscribes to the Advanced Trade "ticker" channel for
// the given product ids.
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
			c.logger.Warn(ctx, "coinbase stream dial failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			if !sleepOrDone(ctx, connector.ReconnectBackoff(attempt)) {
				return
			}
			attempt++
			continue
		}

		sub := subscribeMessage{Type: "subscribe", ProductIDs: symbols, Channel: "ticker"}
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
		c.logger.Warn(ctx, "coinbase stream disconnected, reconnecting", map[string]interface{}{"error": readErr.Error()})
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

		var evt tickerEvent
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Channel != "ticker" {
			continue
		}
		for _, e := range evt.Events {
			for _, t := range e.Tickers {
				bid, _ := decimal.NewFromString(t.BestBid)
				ask, _ := decimal.NewFromString(t.BestAsk)
				last, _ := decimal.NewFromString(t.Price)
				tick := &domain.MarketTick{
					Symbol: t.ProductID, Venue: venueID, Bid: bid, Ask: ask, Last: last,
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

// StartOrderStream is not wired: the Advanced Trade "user" channel requires
// a JWT refreshed per subscribe message, left out of this connector's scope.
func (c *Client) StartOrderStream(ctx context.Context) (<-chan connector.OrderUpdate, error) {
	return nil, coreerrors.New(coreerrors.KindVenueAPI, "coinbase: order stream not supported in-scope")
}
