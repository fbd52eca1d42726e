package sim_test

import (
	"testing"

	"github.com/alejandrodnm/perpbot/internal/application/sim"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReserver tracks reserved notional; funds reports reservation success.
type fakeReserver struct {
	funds    bool
	reserved float64
}

func (r *fakeReserver) Reserve(n float64) bool {
	if !r.funds {
		return false
	}
	r.reserved += n
	return true
}

func (r *fakeReserver) Release(n float64) { r.reserved -= n }

func newBook(cfg sim.Config) (*sim.Orderbook, *fakeReserver, *[]domain.Fill) {
	reserver := &fakeReserver{funds: true}
	fills := &[]domain.Fill{}
	book := sim.NewOrderbook(cfg, reserver, func(f domain.Fill) {
		*fills = append(*fills, f)
	})
	return book, reserver, fills
}

func limitOrder(side domain.Side, price, qty float64) *domain.PaperOrder {
	return &domain.PaperOrder{
		Instrument: "BTCUSDT",
		Side:       side,
		Type:       domain.OrderLimit,
		Price:      price,
		Quantity:   qty,
	}
}

func marketOrder(side domain.Side, qty float64) *domain.PaperOrder {
	return &domain.PaperOrder{
		Instrument: "BTCUSDT",
		Side:       side,
		Type:       domain.OrderMarket,
		Quantity:   qty,
	}
}

func TestSubmitValidation(t *testing.T) {
	book, _, _ := newBook(sim.Config{})

	cases := []struct {
		name  string
		order *domain.PaperOrder
		want  string
	}{
		{"missing instrument", &domain.PaperOrder{Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: 1}, "instrument"},
		{"zero quantity", &domain.PaperOrder{Instrument: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderMarket}, "positive"},
		{"negative quantity", marketOrderQty(-1), "positive"},
		{"bad side", &domain.PaperOrder{Instrument: "BTCUSDT", Side: "LONG", Type: domain.OrderMarket, Quantity: 1}, "side"},
		{"bad type", &domain.PaperOrder{Instrument: "BTCUSDT", Side: domain.SideBuy, Type: "STOP", Quantity: 1}, "type"},
		{"limit without price", limitOrder(domain.SideBuy, 0, 1), "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := book.SubmitOrder(tc.order)
			assert.False(t, ok)
			assert.Contains(t, reason, tc.want)
			assert.Equal(t, domain.StatusRejected, tc.order.Status)
		})
	}
	assert.Empty(t, book.OpenOrders(), "rejected orders are not queued")
}

func marketOrderQty(qty float64) *domain.PaperOrder {
	o := marketOrder(domain.SideBuy, 1)
	o.Quantity = qty
	return o
}

func TestInsufficientBalanceRejected(t *testing.T) {
	reserver := &fakeReserver{funds: false}
	book := sim.NewOrderbook(sim.Config{}, reserver, nil)

	order := limitOrder(domain.SideBuy, 100, 1)
	ok, reason := book.SubmitOrder(order)
	assert.False(t, ok)
	assert.Contains(t, reason, "insufficient balance")
	assert.Equal(t, domain.StatusRejected, order.Status)
}

func TestMarketOrderFillsOnNextTick(t *testing.T) {
	book, reserver, fills := newBook(sim.Config{FeeRate: 0.001})
	book.OnPriceUpdate("BTCUSDT", 100)

	order := marketOrder(domain.SideBuy, 2)
	ok, _ := book.SubmitOrder(order)
	require.True(t, ok)
	require.Equal(t, 200.0, reserver.reserved, "sized at the last mark")
	assert.NotEmpty(t, order.ID, "simulator assigns an ID")
	assert.Equal(t, domain.StatusNew, order.Status)

	book.OnPriceUpdate("BTCUSDT", 100)

	require.Len(t, *fills, 1)
	got := (*fills)[0]
	assert.Equal(t, order.ID, got.OrderID)
	assert.Equal(t, 100.0, got.Price)
	assert.Equal(t, 2.0, got.Quantity)
	assert.InDelta(t, 0.2, got.Fee, 1e-9)
	assert.Equal(t, domain.StatusFilled, order.Status)
	assert.Empty(t, book.OpenOrders(), "filled orders are discarded")
	assert.Equal(t, 0.0, reserver.reserved, "reservation released on fill")
}

func TestMarketOrderSlippage(t *testing.T) {
	book, _, fills := newBook(sim.Config{SlippagePct: 0.001})
	book.OnPriceUpdate("BTCUSDT", 1000)

	require.Truef(t, submitOK(book, marketOrder(domain.SideBuy, 1)), "buy")
	require.Truef(t, submitOK(book, marketOrder(domain.SideSell, 1)), "sell")

	book.OnPriceUpdate("BTCUSDT", 1000)

	require.Len(t, *fills, 2)
	buy, sell := (*fills)[0], (*fills)[1]
	if buy.Side == domain.SideSell {
		buy, sell = sell, buy
	}
	// Slippage moves against the taker on both sides.
	assert.InDelta(t, 1001.0, buy.Price, 1e-9)
	assert.InDelta(t, 999.0, sell.Price, 1e-9)
}

func submitOK(book *sim.Orderbook, o *domain.PaperOrder) bool {
	ok, _ := book.SubmitOrder(o)
	return ok
}

func TestLimitOrderCross(t *testing.T) {
	book, _, fills := newBook(sim.Config{})

	buy := limitOrder(domain.SideBuy, 95, 1)
	sell := limitOrder(domain.SideSell, 105, 1)
	require.True(t, submitOK(book, buy))
	require.True(t, submitOK(book, sell))

	// Inside the band: nothing fills.
	book.OnPriceUpdate("BTCUSDT", 100)
	assert.Empty(t, *fills)

	// Crossing the buy limit fills at the limit price.
	book.OnPriceUpdate("BTCUSDT", 94)
	require.Len(t, *fills, 1)
	assert.Equal(t, buy.ID, (*fills)[0].OrderID)
	assert.Equal(t, 95.0, (*fills)[0].Price)

	// Crossing the sell limit.
	book.OnPriceUpdate("BTCUSDT", 106)
	require.Len(t, *fills, 2)
	assert.Equal(t, sell.ID, (*fills)[1].OrderID)
	assert.Equal(t, 105.0, (*fills)[1].Price)
}

func TestPriceUpdateOtherInstrument(t *testing.T) {
	book, _, fills := newBook(sim.Config{})
	book.OnPriceUpdate("BTCUSDT", 100)

	require.True(t, submitOK(book, marketOrder(domain.SideBuy, 1)))
	book.OnPriceUpdate("ETHUSDT", 100)

	assert.Empty(t, *fills)
	assert.Len(t, book.OpenOrders(), 1)
}

func TestMarketOrderBeforeFirstTickRejected(t *testing.T) {
	book, reserver, fills := newBook(sim.Config{})

	order := marketOrder(domain.SideBuy, 500)
	ok, reason := book.SubmitOrder(order)
	assert.False(t, ok)
	assert.Contains(t, reason, "no mark price")
	assert.Equal(t, domain.StatusRejected, order.Status)
	assert.Equal(t, 0.0, reserver.reserved)
	assert.Empty(t, book.OpenOrders())

	// The first tick must not fill the rejected order.
	book.OnPriceUpdate("BTCUSDT", 100)
	assert.Empty(t, *fills)

	// Once the instrument has a mark price the same order sizes normally.
	resubmit := marketOrder(domain.SideBuy, 500)
	ok, _ = book.SubmitOrder(resubmit)
	require.True(t, ok)
	assert.Equal(t, 50_000.0, reserver.reserved)
}

func TestCancelOrder(t *testing.T) {
	book, reserver, _ := newBook(sim.Config{})

	order := limitOrder(domain.SideBuy, 95, 1)
	require.True(t, submitOK(book, order))
	require.Equal(t, 95.0, reserver.reserved)

	assert.True(t, book.CancelOrder(order.ID))
	assert.Equal(t, domain.StatusCanceled, order.Status)
	assert.Equal(t, 0.0, reserver.reserved, "reservation restored on cancel")

	// Already terminal: no-op.
	assert.False(t, book.CancelOrder(order.ID))
	assert.False(t, book.CancelOrder("unknown"))
}

func TestCancelAll(t *testing.T) {
	book, reserver, _ := newBook(sim.Config{})

	require.True(t, submitOK(book, limitOrder(domain.SideBuy, 95, 1)))
	require.True(t, submitOK(book, limitOrder(domain.SideSell, 105, 1)))

	assert.Equal(t, 2, book.CancelAll())
	assert.Empty(t, book.OpenOrders())
	assert.Equal(t, 0.0, reserver.reserved)
}

func TestLastPrice(t *testing.T) {
	book, _, _ := newBook(sim.Config{})

	_, ok := book.LastPrice("BTCUSDT")
	assert.False(t, ok)

	book.OnPriceUpdate("BTCUSDT", 123.45)
	p, ok := book.LastPrice("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 123.45, p)
}
