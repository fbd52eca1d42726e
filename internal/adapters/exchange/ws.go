package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	defaultWSBase  = "wss://fstream.binance.com"
	readTimeout    = 60 * time.Second
	pingInterval   = 20 * time.Second
	reconnectWait  = 2 * time.Second
	tickBufferSize = 1024
)

// TickStream is a push price source over WebSocket. It subscribes to the
// trade stream of each instrument and forwards parsed ticks; the engine
// uses it in place of REST polling when available and falls back to the
// polled client when the stream closes.
type TickStream struct {
	url    string
	ticks  chan domain.PriceTick
	cancel context.CancelFunc
}

type tradeEvent struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	TimeMs int64  `json:"T"`
}

// NewTickStream connects to the combined trade stream for the given
// instruments and starts the read pump. base empty means production.
func NewTickStream(ctx context.Context, base string, instruments []string) (*TickStream, error) {
	if base == "" {
		base = defaultWSBase
	}
	streams := make([]string, len(instruments))
	for i, inst := range instruments {
		streams[i] = strings.ToLower(inst) + "@trade"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", base, strings.Join(streams, "/"))

	ctx, cancel := context.WithCancel(ctx)
	s := &TickStream{
		url:    url,
		ticks:  make(chan domain.PriceTick, tickBufferSize),
		cancel: cancel,
	}
	go s.run(ctx)
	return s, nil
}

// Ticks returns the tick channel. It closes when the stream shuts down.
func (s *TickStream) Ticks() <-chan domain.PriceTick { return s.ticks }

// Close stops the stream.
func (s *TickStream) Close() error {
	s.cancel()
	return nil
}

// run dials, pumps and reconnects until the context is canceled.
func (s *TickStream) run(ctx context.Context) {
	defer close(s.ticks)
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			slog.Warn("exchange: ws dial failed, retrying", "err", err)
			select {
			case <-time.After(reconnectWait):
				continue
			case <-ctx.Done():
				return
			}
		}
		slog.Info("exchange: ws connected", "url", s.url)
		s.pump(ctx, conn)
		conn.Close()
	}
}

// pump reads frames until the connection drops or the context ends.
func (s *TickStream) pump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("exchange: ws read failed, reconnecting", "err", err)
			}
			return
		}
		tick, ok := parseTradeFrame(msg)
		if !ok {
			continue
		}
		select {
		case s.ticks <- tick:
		default:
			// Consumer is behind; drop this tick, the next trade
			// supersedes it.
		}
	}
}

// parseTradeFrame extracts a tick from a combined-stream trade frame.
func parseTradeFrame(msg []byte) (domain.PriceTick, bool) {
	var frame struct {
		Data tradeEvent `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Data.Symbol == "" {
		return domain.PriceTick{}, false
	}
	price, err := strconv.ParseFloat(frame.Data.Price, 64)
	if err != nil || price <= 0 {
		return domain.PriceTick{}, false
	}
	return domain.PriceTick{
		Instrument: frame.Data.Symbol,
		Price:      price,
		Timestamp:  time.UnixMilli(frame.Data.TimeMs).UTC(),
	}, true
}
