// Package exec implements the ExecutionEngine: the single component that
// makes paper and live trading operationally indistinguishable to a
// strategy. It owns the order/trade/position maps exclusively, runs five
// ordered pre-trade checks (plus an optional exposure guard) ahead of every
// submission, and applies fills through one fixed side-effect order
// regardless of whether the fill was simulated locally or arrived over the
// venue's user channel.
//
// Grounded on original_source/polytrader/core/executor.py's OrderExecutor —
// same validation order, same avg-entry/realized-PnL math — translated to
// Go with decimal.Decimal arithmetic and explicit sentinel errors in place
// of logged-and-returned-None failures.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/internal/config"
	"polytrader/internal/storage"
	"polytrader/pkg/types"
)

// Pre-trade check errors, in the order §4.3 evaluates them.
var (
	ErrInvalidSize          = errors.New("exec: size must be > 0")
	ErrInvalidPrice         = errors.New("exec: price must be in (0, 1)")
	ErrInsufficientFunds    = errors.New("exec: insufficient balance")
	ErrInsufficientPosition = errors.New("exec: insufficient position")
	ErrVenueRejected        = errors.New("exec: venue rejected order")
	ErrExposureExceeded     = errors.New("exec: exposure guard rejected order")
	ErrOrderNotFound        = errors.New("exec: order not found")
	ErrOrderNotCancellable  = errors.New("exec: order is not open or pending")
)

// RiskGuard is consulted before checks 3/4, ahead of balance/position state
// mutation. A nil RiskGuard disables the check entirely. internal/risk.Guard
// satisfies this interface.
type RiskGuard interface {
	Approve(intent types.OrderIntent) error
	Report(marketID string, exposureUSD, totalRealizedPnL decimal.Decimal)
}

// LiveSubmitter places and cancels orders against the real venue. Only
// consulted when the engine is running in live mode. internal/venue.Client
// satisfies this interface.
type LiveSubmitter interface {
	SubmitOrder(ctx context.Context, intent types.OrderIntent) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
}

// OnFillFunc is invoked after a fill has been fully applied (trade
// recorded, order and position updated, balance adjusted) but before
// persistence — mirroring the harness's on_fill strategy callback.
type OnFillFunc func(order types.Order, trade types.Trade)

// Engine is the ExecutionEngine. All exported methods are safe for
// concurrent use; state mutation is serialized under mu.
type Engine struct {
	cfg     config.PaperConfig
	isPaper bool
	store   storage.Port
	risk    RiskGuard
	live    LiveSubmitter
	logger  *slog.Logger
	onFill  OnFillFunc

	mu               sync.Mutex
	balance          decimal.Decimal
	realizedPnLTotal decimal.Decimal
	orders           map[string]*types.Order
	positions        map[string]*types.Position // keyed by TokenID, absent when flat
	closedMarkets    map[string]bool
	fillSeqApplied   map[string]uint64 // orderID -> highest applied live fill sequence

	idCounter atomic.Uint64
}

// New builds an Engine. store must be non-nil; risk and live may be nil
// (risk check skipped, live submission unavailable — i.e. paper mode).
func New(cfg config.PaperConfig, isPaper bool, store storage.Port, risk RiskGuard, live LiveSubmitter, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:            cfg,
		isPaper:        isPaper,
		store:          store,
		risk:           risk,
		live:           live,
		logger:         logger.With("component", "exec"),
		balance:        decimal.NewFromFloat(cfg.StartingBalance),
		orders:         make(map[string]*types.Order),
		positions:      make(map[string]*types.Position),
		closedMarkets:  make(map[string]bool),
		fillSeqApplied: make(map[string]uint64),
	}
}

// OnFill registers the callback invoked after every applied fill.
func (e *Engine) OnFill(fn OnFillFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFill = fn
}

// MarkMarketClosed records that a market has closed; Submit rejects any
// further intent against its tokens. There is no unmarking — a closed
// market does not reopen within a single runtime lifetime.
func (e *Engine) MarkMarketClosed(marketID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedMarkets[marketID] = true
}

// Submit runs the ordered pre-trade checks and, on acceptance, either
// simulates a paper fill synchronously or forwards the order to the live
// venue.
func (e *Engine) Submit(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	e.mu.Lock()

	if intent.Size.Sign() <= 0 {
		e.mu.Unlock()
		return nil, ErrInvalidSize
	}
	if intent.Price.Sign() <= 0 || intent.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		e.mu.Unlock()
		return nil, ErrInvalidPrice
	}
	if e.closedMarkets[intent.MarketID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("exec: market %s is closed", intent.MarketID)
	}

	if e.risk != nil {
		if err := e.risk.Approve(intent); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrExposureExceeded, err)
		}
	}

	if intent.Side == types.BUY {
		cost := intent.Price.Mul(intent.Size)
		if cost.GreaterThan(e.balance) {
			e.mu.Unlock()
			return nil, ErrInsufficientFunds
		}
	} else {
		pos, ok := e.positions[intent.TokenID]
		if !ok || pos.Size.LessThan(intent.Size) {
			e.mu.Unlock()
			return nil, ErrInsufficientPosition
		}
	}

	now := time.Now()
	order := &types.Order{
		MarketID:  intent.MarketID,
		TokenID:   intent.TokenID,
		Side:      intent.Side,
		Type:      intent.Type,
		Price:     intent.Price,
		Size:      intent.Size,
		Status:    types.OrderPending,
		IsPaper:   e.isPaper,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if e.isPaper {
		order.ID = e.nextID("paper")
		order.Status = types.OrderOpen
		e.orders[order.ID] = order
		e.mu.Unlock()

		fillPrice := paperFillPrice(intent, e.cfg.Slippage)
		e.logger.Info("paper fill simulated", "order_id", order.ID, "fill_delay", e.cfg.FillDelay)
		if err := e.applyFill(ctx, order.ID, fillPrice, intent.Size, 0); err != nil {
			e.logger.Error("apply paper fill failed", "order_id", order.ID, "error", err)
			return nil, err
		}
		return e.getOrderCopy(order.ID), nil
	}

	// Live mode: submit to the venue before recording state so a rejection
	// never leaves a phantom order behind.
	e.mu.Unlock()
	if e.live == nil {
		return nil, fmt.Errorf("exec: live mode requires a LiveSubmitter")
	}
	venueID, err := e.live.SubmitOrder(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueRejected, err)
	}

	e.mu.Lock()
	order.ID = venueID
	order.Status = types.OrderOpen
	e.orders[order.ID] = order
	e.mu.Unlock()

	if err := e.store.SaveOrder(ctx, *order); err != nil {
		e.logger.Error("persist order failed", "order_id", order.ID, "error", err)
	}
	return e.getOrderCopy(order.ID), nil
}

// ApplyFill is the entry point for fills arriving asynchronously over the
// live user channel. fillSeq is used to de-duplicate at-least-once
// redelivery: a fillSeq at or below the highest previously applied for this
// order is a no-op.
func (e *Engine) ApplyFill(ctx context.Context, orderID string, fillPrice, fillSize decimal.Decimal, fillSeq uint64) error {
	e.mu.Lock()
	if fillSeq > 0 {
		if applied, ok := e.fillSeqApplied[orderID]; ok && fillSeq <= applied {
			e.mu.Unlock()
			return nil
		}
	}
	e.mu.Unlock()
	return e.applyFill(ctx, orderID, fillPrice, fillSize, fillSeq)
}

// applyFill performs the fixed side-effect sequence: record trade → update
// order → update balance → update position → emit on_fill → persist.
func (e *Engine) applyFill(ctx context.Context, orderID string, fillPrice, fillSize decimal.Decimal, fillSeq uint64) error {
	e.mu.Lock()

	order, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	trade := types.Trade{
		ID:        e.nextID("trade"),
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		TokenID:   order.TokenID,
		Side:      order.Side,
		Price:     fillPrice,
		Size:      fillSize,
		IsPaper:   order.IsPaper,
		Timestamp: time.Now(),
	}

	order.FilledSize = order.FilledSize.Add(fillSize)
	order.UpdatedAt = trade.Timestamp
	if order.FilledSize.GreaterThanOrEqual(order.Size) {
		order.Status = types.OrderFilled
		order.FilledAt = trade.Timestamp
	} else {
		order.Status = types.OrderPartiallyFilled
	}

	if order.Side == types.BUY {
		e.balance = e.balance.Sub(fillPrice.Mul(fillSize))
	} else {
		e.balance = e.balance.Add(fillPrice.Mul(fillSize))
	}

	pos := e.applyPositionFillLocked(order.TokenID, order.MarketID, order.Side, fillPrice, fillSize, trade.Timestamp)

	if fillSeq > 0 {
		e.fillSeqApplied[orderID] = fillSeq
	}

	marketExposure := e.marketExposureLocked(order.MarketID)
	realizedPnLTotal := e.realizedPnLTotal

	onFill := e.onFill
	orderCopy := *order
	e.mu.Unlock()

	if e.risk != nil {
		e.risk.Report(orderCopy.MarketID, marketExposure, realizedPnLTotal)
	}

	if onFill != nil {
		onFill(orderCopy, trade)
	}

	if err := e.store.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("persist trade failed", "trade_id", trade.ID, "error", err)
	}
	if err := e.store.SaveOrder(ctx, orderCopy); err != nil {
		e.logger.Error("persist order failed", "order_id", orderCopy.ID, "error", err)
	}
	if pos != nil {
		if pos.IsFlat() {
			if err := e.store.DeletePosition(ctx, pos.TokenID); err != nil {
				e.logger.Error("persist position delete failed", "token_id", pos.TokenID, "error", err)
			}
		} else if err := e.store.SavePosition(ctx, *pos); err != nil {
			e.logger.Error("persist position failed", "token_id", pos.TokenID, "error", err)
		}
	}
	return nil
}

// applyPositionFillLocked must be called with e.mu held. It returns a copy
// of the post-fill position, or nil only if size and realized P&L are both
// unaffected (never the case for a valid fill).
func (e *Engine) applyPositionFillLocked(tokenID, marketID string, side types.Side, price, size decimal.Decimal, now time.Time) *types.Position {
	pos, ok := e.positions[tokenID]
	if !ok {
		pos = &types.Position{TokenID: tokenID, MarketID: marketID, OpenedAt: now}
		e.positions[tokenID] = pos
	}

	if side == types.BUY {
		totalCost := pos.AvgEntry.Mul(pos.Size).Add(price.Mul(size))
		pos.Size = pos.Size.Add(size)
		if pos.Size.Sign() > 0 {
			pos.AvgEntry = totalCost.Div(pos.Size)
		}
	} else {
		if pos.Size.Sign() > 0 {
			pnl := price.Sub(pos.AvgEntry).Mul(size)
			pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
			e.realizedPnLTotal = e.realizedPnLTotal.Add(pnl)
		}
		pos.Size = pos.Size.Sub(size)
	}
	pos.UpdatedAt = now

	snapshot := *pos
	if pos.IsFlat() {
		delete(e.positions, tokenID)
	}
	return &snapshot
}

// marketExposureLocked sums cost-basis exposure (size * avg_entry) across
// every open position belonging to marketID. Must be called with e.mu held.
func (e *Engine) marketExposureLocked(marketID string) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range e.positions {
		if pos.MarketID == marketID {
			total = total.Add(pos.Size.Mul(pos.AvgEntry))
		}
	}
	return total
}

// Cancel cancels an order whose status is OPEN or PENDING. For any other
// status (PARTIALLY_FILLED or terminal) it returns (false, nil) — not an
// error.
func (e *Engine) Cancel(ctx context.Context, orderID string) (bool, error) {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return false, ErrOrderNotFound
	}
	if order.Status != types.OrderOpen && order.Status != types.OrderPending {
		e.mu.Unlock()
		return false, nil
	}
	isPaper := order.IsPaper
	e.mu.Unlock()

	if !isPaper {
		if e.live == nil {
			return false, fmt.Errorf("exec: live mode requires a LiveSubmitter")
		}
		if err := e.live.CancelOrder(ctx, orderID); err != nil {
			return false, fmt.Errorf("exec: cancel rejected by venue: %w", err)
		}
	}

	e.mu.Lock()
	order.Status = types.OrderCancelled
	order.UpdatedAt = time.Now()
	orderCopy := *order
	e.mu.Unlock()

	if err := e.store.SaveOrder(ctx, orderCopy); err != nil {
		e.logger.Error("persist cancelled order failed", "order_id", orderID, "error", err)
	}
	return true, nil
}

// AccountBalance computes balance, equity, and realized P&L on demand from
// authoritative state. It is never cached. Equity values open positions at
// avg_entry (cost basis), not last-traded price: the engine has no market
// price cache of its own (that lives in the harness/book layer), and
// cost-basis equity is what the paper-fill invariants are defined against.
func (e *Engine) AccountBalance() types.AccountBalance {
	e.mu.Lock()
	defer e.mu.Unlock()

	positionValue := decimal.Zero
	for _, pos := range e.positions {
		positionValue = positionValue.Add(pos.Size.Mul(pos.AvgEntry))
	}

	return types.AccountBalance{
		Balance:     e.balance,
		Equity:      e.balance.Add(positionValue),
		RealizedPnL: e.realizedPnLTotal,
	}
}

// Order returns a copy of a known order, or ErrOrderNotFound.
func (e *Engine) Order(orderID string) (*types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

// Position returns a copy of a token's open position, or nil if flat.
func (e *Engine) Position(tokenID string) *types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[tokenID]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

func (e *Engine) getOrderCopy(orderID string) *types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.orders[orderID]
	return &cp
}

// nextID produces a locally-unique id for paper orders and trades. The
// corpus has no uuid dependency anywhere, so ids follow the teacher's
// simplest-possible pattern: a fixed prefix plus a monotone counter and a
// timestamp, never reused within a process lifetime.
func (e *Engine) nextID(prefix string) string {
	n := e.idCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), n)
}

// paperFillPrice applies slippage for MARKET orders only, per §4.3: LIMIT
// fills at the limit price exactly; MARKET fills at price*(1±slippage),
// sign matching the side (buy pays up, sell sells down).
func paperFillPrice(intent types.OrderIntent, slippage float64) decimal.Decimal {
	if intent.Type != types.OrderTypeMarket || slippage == 0 {
		return intent.Price
	}
	adj := decimal.NewFromFloat(1).Add(decimal.NewFromFloat(slippage))
	if intent.Side == types.SELL {
		adj = decimal.NewFromFloat(1).Sub(decimal.NewFromFloat(slippage))
	}
	return intent.Price.Mul(adj)
}
