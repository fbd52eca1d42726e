package paper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/perpbot/internal/application/funding"
	"github.com/alejandrodnm/perpbot/internal/application/positions"
	"github.com/alejandrodnm/perpbot/internal/application/risk"
	"github.com/alejandrodnm/perpbot/internal/application/sim"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/obs"
	"github.com/alejandrodnm/perpbot/internal/ports"
	"github.com/alejandrodnm/perpbot/internal/strategy"
	"github.com/google/uuid"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultInitialBalance = 10_000
	defaultQuoteAsset     = "USDT"
	defaultFundingHistory = 500
)

// Config holds paper session settings.
type Config struct {
	SessionID      string
	Instruments    []string
	QuoteAsset     string
	InitialBalance float64
	PollInterval   time.Duration
	Limits         domain.RiskLimits
	Sim            sim.Config
	FundingHistory int
}

// Engine runs one paper trading session: it consumes price ticks, matches
// queued orders, keeps positions and balances consistent, enforces the
// risk breaker and settles perpetual funding. One engine per session;
// sessions share nothing.
//
// All state mutation is serialized through the engine mutex; the poll
// loop is the only continuous writer, transport calls interleave with it.
type Engine struct {
	cfg   Config
	feed  ports.PriceFeed
	store ports.TradeStorage

	mu        sync.Mutex
	breaker   *risk.Breaker
	sched     *funding.Scheduler
	positions *positions.Manager
	book      *sim.Orderbook
	stopped   bool

	strat      strategy.Strategy
	stratFills []domain.Fill
}

// Status is the session snapshot exposed to the transport layer.
type Status struct {
	SessionID   string
	Running     bool
	Equity      float64
	Balance     domain.PaperBalance
	Positions   []domain.PaperPosition
	OpenOrders  []domain.PaperOrder
	Breaker     risk.Status
	NextFunding time.Time
	Summary     domain.PositionSummary
}

// New creates a paper trading engine. Limits are clamped to the hard
// ceilings by the breaker; store may be nil for throwaway sessions.
func New(cfg Config, feed ports.PriceFeed, store ports.TradeStorage) *Engine {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = defaultQuoteAsset
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = defaultInitialBalance
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.FundingHistory <= 0 {
		cfg.FundingHistory = defaultFundingHistory
	}

	e := &Engine{
		cfg:       cfg,
		feed:      feed,
		store:     store,
		breaker:   risk.NewBreaker(cfg.Limits, cfg.InitialBalance),
		sched:     funding.NewScheduler(cfg.FundingHistory),
		positions: positions.NewManager(cfg.QuoteAsset, cfg.InitialBalance),
	}
	e.book = sim.NewOrderbook(cfg.Sim, e.positions, e.handleFill)
	e.sched.OnSettlement(e.handleSettlement)
	return e
}

// SetStrategy injects the strategy driven by this session's ticks and fills.
func (e *Engine) SetStrategy(s strategy.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strat = s
}

// SessionID returns the session identifier.
func (e *Engine) SessionID() string { return e.cfg.SessionID }

// Run polls the price feed until the context is canceled. Feed errors are
// logged and retried on the next poll; they never end the session.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("paper: session started",
		"session", e.cfg.SessionID,
		"instruments", e.cfg.Instruments,
		"balance", e.cfg.InitialBalance,
		"poll", e.cfg.PollInterval,
	)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("paper: session loop stopped", "session", e.cfg.SessionID)
			return nil
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// RunStream consumes push ticks from a WebSocket stream instead of
// polling. Funding is still evaluated on a timer since ticks may pause.
// Returns nil when the tick channel closes so the caller can fall back
// to polling.
func (e *Engine) RunStream(ctx context.Context, ticks <-chan domain.PriceTick) error {
	slog.Info("paper: session started (stream)",
		"session", e.cfg.SessionID, "instruments", e.cfg.Instruments)

	fundingTicker := time.NewTicker(e.cfg.PollInterval)
	defer fundingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("paper: session loop stopped", "session", e.cfg.SessionID)
			return nil
		case tick, ok := <-ticks:
			if !ok {
				slog.Warn("paper: tick stream closed", "session", e.cfg.SessionID)
				return nil
			}
			e.OnTick(ctx, tick)
		case <-fundingTicker.C:
			e.EvaluateFunding(ctx, time.Now())
		}
	}
}

// pollOnce fetches one price per instrument, processes the resulting
// ticks and evaluates funding.
func (e *Engine) pollOnce(ctx context.Context) {
	for _, inst := range e.cfg.Instruments {
		price, err := e.feed.FetchPrice(ctx, inst)
		if err != nil {
			slog.Warn("paper: price fetch failed, retrying next poll",
				"session", e.cfg.SessionID, "instrument", inst, "err", err)
			continue
		}
		e.OnTick(ctx, domain.PriceTick{Instrument: inst, Price: price, Timestamp: time.Now().UTC()})
	}
	e.EvaluateFunding(ctx, time.Now())
}

// OnTick feeds one price observation through the session: order matching,
// mark update, equity recomputation and breaker evaluation, then the
// strategy hooks.
func (e *Engine) OnTick(ctx context.Context, tick domain.PriceTick) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}

	e.book.OnPriceUpdate(tick.Instrument, tick.Price)
	e.positions.MarkPrice(tick.Instrument, tick.Price)

	equity := e.positions.Equity()
	if safe, reason := e.breaker.UpdateEquity(equity); !safe {
		slog.Warn("paper: equity update unsafe", "session", e.cfg.SessionID, "reason", reason)
	}
	obs.SessionEquity.Set(equity)
	e.exportBreakerState()

	strat := e.strat
	fills := e.stratFills
	e.stratFills = nil
	e.mu.Unlock()

	if strat == nil {
		return
	}
	for _, fill := range fills {
		if err := strat.OnTrade(ctx, fill); err != nil {
			slog.Warn("paper: strategy OnTrade failed", "session", e.cfg.SessionID, "err", err)
		}
	}
	if err := strat.OnBar(ctx, tick); err != nil {
		slog.Warn("paper: strategy OnBar failed", "session", e.cfg.SessionID, "err", err)
	}
}

// SubmitOrder gates an order through the risk breaker and forwards it to
// the simulator. A rejected order mutates no state.
func (e *Engine) SubmitOrder(ctx context.Context, order *domain.PaperOrder) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		obs.OrdersRejected.Inc()
		return false, "session stopped"
	}

	notional, priced := e.orderNotional(order)
	if !priced {
		obs.OrdersRejected.Inc()
		order.Status = domain.StatusRejected
		order.Reason = "no mark price for " + order.Instrument + " yet"
		return false, order.Reason
	}
	if ok, reason := e.breaker.CheckOrder(notional); !ok {
		obs.OrdersRejected.Inc()
		slog.Warn("paper: order blocked by breaker",
			"session", e.cfg.SessionID, "instrument", order.Instrument, "reason", reason)
		return false, reason
	}

	ok, reason := e.book.SubmitOrder(order)
	if !ok {
		obs.OrdersRejected.Inc()
		return false, reason
	}
	obs.OrdersSubmitted.Inc()
	return true, ""
}

// CancelOrder cancels a queued order. Returns false if unknown or terminal.
func (e *Engine) CancelOrder(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.CancelOrder(id)
}

// GetPositions returns the open positions.
func (e *Engine) GetPositions() []domain.PaperPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.Positions()
}

// GetBalances returns the session quote balance.
func (e *Engine) GetBalances() []domain.PaperBalance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []domain.PaperBalance{e.positions.Balance()}
}

// GetStatus returns the full session snapshot.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		SessionID:   e.cfg.SessionID,
		Running:     !e.stopped,
		Equity:      e.positions.Equity(),
		Balance:     e.positions.Balance(),
		Positions:   e.positions.Positions(),
		OpenOrders:  e.book.OpenOrders(),
		Breaker:     e.breaker.Status(),
		NextFunding: e.sched.NextFundingTime(time.Now()),
		Summary:     e.positions.Summary(),
	}
}

// Stop ends the session: cancels all open orders and, when flatten is
// true, synthesizes closing fills for every open position at the last
// mark. The flatten is not interruptible; persistence uses a context
// detached from cancellation.
func (e *Engine) Stop(ctx context.Context, flatten bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.stopped = true
	ctx = context.WithoutCancel(ctx)

	canceled := e.book.CancelAll()
	slog.Info("paper: stopping session", "session", e.cfg.SessionID,
		"orders_canceled", canceled, "flatten", flatten)

	if flatten {
		for _, pos := range e.positions.Positions() {
			mark, ok := e.book.LastPrice(pos.Instrument)
			if !ok {
				mark = pos.AvgEntryPrice
			}
			side := domain.SideSell
			qty := pos.Quantity
			if qty < 0 {
				side = domain.SideBuy
				qty = -qty
			}
			fill := domain.Fill{
				OrderID:    uuid.New().String(),
				Instrument: pos.Instrument,
				Side:       side,
				Price:      mark,
				Quantity:   qty,
				Fee:        mark * qty * e.cfg.Sim.FeeRate,
				Timestamp:  time.Now().UTC(),
			}
			e.applyFill(ctx, fill)
			slog.Info("paper: position flattened", "session", e.cfg.SessionID,
				"instrument", pos.Instrument, "qty", qty, "price", mark)
		}
	}

	equity := e.positions.Equity()
	e.breaker.UpdateEquity(equity)
	if e.store != nil {
		if err := e.store.RecordEquity(ctx, e.cfg.SessionID, time.Now().UTC(), equity); err != nil {
			slog.Warn("paper: final equity snapshot not persisted", "err", err)
		}
	}
	slog.Info("paper: session stopped", "session", e.cfg.SessionID, "equity", equity)
}

// handleFill is invoked by the simulator for every fill, with the engine
// lock already held by the tick path.
func (e *Engine) handleFill(fill domain.Fill) {
	e.applyFill(context.Background(), fill)
	e.stratFills = append(e.stratFills, fill)
}

// applyFill books a fill into positions, the breaker and storage.
// Storage failures are logged, never rolled back; the in-memory state
// stays authoritative.
func (e *Engine) applyFill(ctx context.Context, fill domain.Fill) {
	realized := e.positions.ApplyFill(fill)
	obs.OrdersFilled.Inc()
	if realized != 0 {
		if safe, reason := e.breaker.RecordTradePnL(realized); !safe {
			slog.Warn("paper: trade pnl tripped breaker",
				"session", e.cfg.SessionID, "reason", reason)
		}
	}
	e.exportBreakerState()
	if e.store != nil {
		if err := e.store.RecordTrade(ctx, e.cfg.SessionID, fill); err != nil {
			slog.Warn("paper: trade not persisted",
				"session", e.cfg.SessionID, "order", fill.OrderID, "err", err)
		}
	}
}

// EvaluateFunding runs one funding evaluation: when the scheduler says
// a boundary is due, it fetches the live funding rate per open instrument
// and settles. A failed rate fetch defers that instrument to the next
// evaluation instead of failing the session.
func (e *Engine) EvaluateFunding(ctx context.Context, now time.Time) {
	e.mu.Lock()
	if e.stopped || !e.sched.ShouldSettle(now) {
		e.mu.Unlock()
		return
	}
	open := e.positions.Positions()
	if len(open) == 0 {
		e.sched.MarkSettled(now)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Rate fetches go out without the lock; they are rate-limited and
	// can block on the limiter.
	rates := make(map[string]float64, len(open))
	for _, pos := range open {
		rate, err := e.feed.FetchFundingRate(ctx, pos.Instrument)
		if err != nil {
			slog.Warn("paper: funding rate fetch failed, settlement deferred",
				"session", e.cfg.SessionID, "instrument", pos.Instrument, "err", err)
			continue
		}
		rates[pos.Instrument] = rate
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	var settled []domain.FundingRecord
	for _, pos := range open {
		rate, ok := rates[pos.Instrument]
		if !ok {
			continue
		}
		mark, ok := e.book.LastPrice(pos.Instrument)
		if !ok {
			mark = pos.AvgEntryPrice
		}
		// Longs pay positive rates, shorts receive them; sign applied
		// here once, the position manager books it verbatim.
		payment := -pos.Quantity * mark * rate
		e.sched.RecordSettlement(pos.Instrument, rate, payment, now)
		settled = append(settled, domain.FundingRecord{
			Instrument:  pos.Instrument,
			FundingRate: rate,
			Payment:     payment,
			Timestamp:   now.UTC(),
		})
	}
	strat := e.strat
	e.mu.Unlock()

	if strat == nil {
		return
	}
	for _, rec := range settled {
		if err := strategy.DispatchFunding(ctx, strat, rec); err != nil {
			slog.Warn("paper: strategy OnFundingRate failed", "session", e.cfg.SessionID, "err", err)
		}
	}
}

// handleSettlement is the scheduler callback: applies the payment to the
// balance and persists the record. Runs with the engine lock held.
func (e *Engine) handleSettlement(instrument string, rate, payment float64) {
	if err := e.positions.ApplyFunding(instrument, payment); err != nil {
		slog.Warn("paper: funding not applied", "session", e.cfg.SessionID, "err", err)
		return
	}
	obs.FundingSettlements.Inc()
	if e.store != nil {
		rec := domain.FundingRecord{
			Instrument:  instrument,
			FundingRate: rate,
			Payment:     payment,
			Timestamp:   time.Now().UTC(),
		}
		if err := e.store.RecordSettlement(context.WithoutCancel(context.Background()), e.cfg.SessionID, rec); err != nil {
			slog.Warn("paper: settlement not persisted",
				"session", e.cfg.SessionID, "instrument", instrument, "err", err)
		}
	}
}

// orderNotional estimates the quote size of an order for the risk check:
// limit price for LIMIT orders, last mark for MARKET orders. A MARKET
// order on an instrument with no observed mark cannot be sized, and an
// unsized order must never reach the breaker: reported as not priced.
func (e *Engine) orderNotional(order *domain.PaperOrder) (float64, bool) {
	if order.Type == domain.OrderLimit {
		return order.Price * order.Quantity, true
	}
	mark, ok := e.book.LastPrice(order.Instrument)
	if !ok {
		return 0, false
	}
	return mark * order.Quantity, true
}

func (e *Engine) exportBreakerState() {
	if e.breaker.Status().Tripped {
		obs.BreakerTripped.Set(1)
	} else {
		obs.BreakerTripped.Set(0)
	}
}
