package feed

import (
	"encoding/json"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type pushTrade struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"` // ms
}

// runPushWorker ingests one symbol's websocket stream, reconnecting with a
// fixed delay on any error until the push tier is abandoned or the feed
// closes. It only ever writes into the shared last-price map.
func (f *Feed) runPushWorker(symbol string) {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case <-f.pushStop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.cfg.PushURL, nil)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("push feed dial failed")
			if !f.sleepPush(f.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		f.registerConn(conn)

		if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", Symbol: symbol}); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("push feed subscribe failed")
			_ = conn.Close()
			if !f.sleepPush(f.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		log.Info().Str("symbol", symbol).Msg("push feed subscribed")

		f.readLoop(conn, symbol)
		_ = conn.Close()
		if !f.sleepPush(f.cfg.ReconnectDelay) {
			return
		}
	}
}

// readLoop consumes frames until the connection errors. Parse failures are
// counted separately from network errors: a bad frame is skipped, a broken
// connection triggers a reconnect.
func (f *Feed) readLoop(conn *websocket.Conn, symbol string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
			case <-f.pushStop:
			default:
				log.Warn().Err(err).Str("symbol", symbol).Msg("push feed read failed, reconnecting")
			}
			return
		}
		var trade pushTrade
		if err := json.Unmarshal(raw, &trade); err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("push feed frame dropped")
			continue
		}
		if trade.Symbol != symbol || math.IsNaN(trade.Price) || math.IsInf(trade.Price, 0) || trade.Price <= 0 {
			continue
		}
		f.setLast(symbol, trade.Price)
	}
}

func (f *Feed) registerConn(c closer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns = append(f.conns, c)
}

// sleepPush waits for the reconnect delay, returning false if the worker
// should exit instead of reconnecting.
func (f *Feed) sleepPush(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return false
	case <-f.pushStop:
		return false
	case <-timer.C:
		return true
	}
}
