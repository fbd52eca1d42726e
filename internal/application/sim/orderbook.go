package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/google/uuid"
)

// Config holds the execution model of the simulator.
type Config struct {
	SlippagePct float64 // applied against MARKET orders, e.g. 0.0005
	FeeRate     float64 // taker fee on filled notional
}

// FundsReserver locks and releases quote notional for pending orders.
// positions.Manager satisfies it.
type FundsReserver interface {
	Reserve(notional float64) bool
	Release(notional float64)
}

// FillHandler receives every fill the simulator produces.
type FillHandler func(domain.Fill)

// Orderbook matches simulated orders against live prices. Orders are held
// only until they reach a terminal state; fills are handed to the
// registered handler and the order is discarded.
//
// All entry points take the simulator mutex, so price updates, submissions
// and cancels for the same instrument cannot race against the same order.
type Orderbook struct {
	mu       sync.Mutex
	cfg      Config
	reserver FundsReserver
	onFill   FillHandler

	open       map[string]*domain.PaperOrder // order ID → queued order
	reserved   map[string]float64            // order ID → locked notional
	lastPrices map[string]float64
}

// NewOrderbook creates an empty simulator.
func NewOrderbook(cfg Config, reserver FundsReserver, onFill FillHandler) *Orderbook {
	return &Orderbook{
		cfg:        cfg,
		reserver:   reserver,
		onFill:     onFill,
		open:       make(map[string]*domain.PaperOrder),
		reserved:   make(map[string]float64),
		lastPrices: make(map[string]float64),
	}
}

// SubmitOrder validates and queues an order in NEW state, reserving its
// estimated notional. Returns false with a reason on rejection; a rejected
// order mutates no state.
func (ob *Orderbook) SubmitOrder(order *domain.PaperOrder) (bool, string) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if reason := validate(order); reason != "" {
		order.Status = domain.StatusRejected
		order.Reason = reason
		return false, reason
	}
	if order.Type == domain.OrderMarket {
		// Without a mark price the order cannot be sized, so nothing
		// could be reserved against it. Reject instead of queueing an
		// unpriced order.
		if _, ok := ob.lastPrices[order.Instrument]; !ok {
			order.Status = domain.StatusRejected
			order.Reason = fmt.Sprintf("no mark price for %s yet", order.Instrument)
			return false, order.Reason
		}
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	notional := ob.estimateNotional(order)
	if !ob.reserver.Reserve(notional) {
		order.Status = domain.StatusRejected
		order.Reason = fmt.Sprintf("insufficient balance for notional %.2f", notional)
		return false, order.Reason
	}

	order.Status = domain.StatusNew
	ob.open[order.ID] = order
	ob.reserved[order.ID] = notional

	slog.Debug("sim: order queued", "id", order.ID, "instrument", order.Instrument,
		"side", order.Side, "type", order.Type, "qty", order.Quantity, "price", order.Price)
	return true, ""
}

// OnPriceUpdate attempts to match every queued order on the instrument
// against the supplied price. MARKET orders fill immediately with
// slippage; LIMIT orders fill at their limit price once crossed.
func (ob *Orderbook) OnPriceUpdate(instrument string, price float64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.lastPrices[instrument] = price

	for id, order := range ob.open {
		if order.Instrument != instrument {
			continue
		}
		fillPrice, ok := ob.matchPrice(order, price)
		if !ok {
			continue
		}
		ob.fill(id, order, fillPrice)
	}
}

// CancelOrder moves a NEW or PARTIALLY_FILLED order to CANCELED and
// releases its reservation. Returns false if the order is unknown or
// already terminal.
func (ob *Orderbook) CancelOrder(id string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.cancelLocked(id)
}

// CancelAll cancels every queued order and returns how many were canceled.
func (ob *Orderbook) CancelAll() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	n := 0
	for id := range ob.open {
		if ob.cancelLocked(id) {
			n++
		}
	}
	return n
}

// OpenOrders returns copies of all queued orders.
func (ob *Orderbook) OpenOrders() []domain.PaperOrder {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	out := make([]domain.PaperOrder, 0, len(ob.open))
	for _, order := range ob.open {
		out = append(out, *order)
	}
	return out
}

// LastPrice returns the most recent price seen for the instrument.
func (ob *Orderbook) LastPrice(instrument string) (float64, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	p, ok := ob.lastPrices[instrument]
	return p, ok
}

func (ob *Orderbook) cancelLocked(id string) bool {
	order, ok := ob.open[id]
	if !ok || order.Status.Terminal() {
		return false
	}
	order.Status = domain.StatusCanceled
	ob.reserver.Release(ob.reserved[id])
	delete(ob.open, id)
	delete(ob.reserved, id)
	slog.Debug("sim: order canceled", "id", id)
	return true
}

// matchPrice decides whether the order fills at the given market price
// and at what price.
func (ob *Orderbook) matchPrice(order *domain.PaperOrder, price float64) (float64, bool) {
	switch order.Type {
	case domain.OrderMarket:
		slip := price * ob.cfg.SlippagePct * order.Side.Sign()
		return price + slip, true
	case domain.OrderLimit:
		if order.Side == domain.SideBuy && price <= order.Price {
			return order.Price, true
		}
		if order.Side == domain.SideSell && price >= order.Price {
			return order.Price, true
		}
	}
	return 0, false
}

func (ob *Orderbook) fill(id string, order *domain.PaperOrder, fillPrice float64) {
	order.FilledQty = order.Quantity
	order.Status = domain.StatusFilled

	ob.reserver.Release(ob.reserved[id])
	delete(ob.open, id)
	delete(ob.reserved, id)

	fill := domain.Fill{
		OrderID:    order.ID,
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      fillPrice,
		Quantity:   order.Quantity,
		Fee:        fillPrice * order.Quantity * ob.cfg.FeeRate,
		Timestamp:  time.Now().UTC(),
	}
	slog.Info("sim: order filled", "id", order.ID, "instrument", order.Instrument,
		"side", order.Side, "qty", fill.Quantity, "price", fill.Price, "fee", fill.Fee)
	if ob.onFill != nil {
		ob.onFill(fill)
	}
}

// estimateNotional sizes the reservation for a pending order: limit price
// for LIMIT orders, last observed price for MARKET orders. SubmitOrder has
// already rejected MARKET orders on instruments that never ticked.
func (ob *Orderbook) estimateNotional(order *domain.PaperOrder) float64 {
	if order.Type == domain.OrderLimit {
		return order.Price * order.Quantity
	}
	return ob.lastPrices[order.Instrument] * order.Quantity
}

func validate(order *domain.PaperOrder) string {
	switch {
	case order.Instrument == "":
		return "missing instrument"
	case order.Quantity <= 0:
		return fmt.Sprintf("quantity %.8f must be positive", order.Quantity)
	case !order.Side.Valid():
		return fmt.Sprintf("unknown side %q", order.Side)
	case !order.Type.Valid():
		return fmt.Sprintf("unknown order type %q", order.Type)
	case order.Type == domain.OrderLimit && order.Price <= 0:
		return fmt.Sprintf("limit order needs positive price, got %.8f", order.Price)
	}
	return ""
}
