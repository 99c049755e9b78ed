// Package harness is the central orchestrator that runs a single strategy
// against live market data. It wires together market resolution, the
// stream multiplexer, and the execution engine, and dispatches decoded
// market events to the strategy's capability interfaces.
//
// Lifecycle: New() → Load() → Wire() → Subscribe() → Run() → Stop().
//
// Adapted from the teacher's internal/engine/engine.go (which orchestrates
// many concurrent market-making slots); this harness runs exactly one
// strategy instance across all markets it loads, matching
// original_source/polytrader/strategy/runner.py's StrategyRunner.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/exec"
	"polytrader/internal/metadata"
	"polytrader/internal/stream"
	"polytrader/pkg/strategy"
	"polytrader/pkg/types"
)

// Harness runs one strategy against a set of markets.
type Harness struct {
	cfg      config.HarnessConfig
	strat    strategy.Strategy
	metadata *metadata.Client
	mux      *stream.Multiplexer
	engine   *exec.Engine
	logger   *slog.Logger

	marketsMu sync.RWMutex
	markets   map[string]*types.Market // by MarketID
	byToken   map[string]*types.Market // by either outcome token id

	ordersMu sync.Mutex
	orders   map[string]*types.Order // locally known open orders, by id

	stopOnce sync.Once
}

// New wires a harness around an already-constructed strategy, metadata
// client, stream multiplexer, and execution engine.
func New(cfg config.HarnessConfig, strat strategy.Strategy, md *metadata.Client, mux *stream.Multiplexer, engine *exec.Engine, logger *slog.Logger) *Harness {
	h := &Harness{
		cfg:      cfg,
		strat:    strat,
		metadata: md,
		mux:      mux,
		engine:   engine,
		logger:   logger.With("component", "harness"),
		markets:  make(map[string]*types.Market),
		byToken:  make(map[string]*types.Market),
		orders:   make(map[string]*types.Order),
	}
	// Bridge every engine-applied fill (paper, applied synchronously inside
	// Submit, and live, applied from dispatchOrderUpdate below) to the
	// strategy's Filler capability through one path, so paper and live
	// strategies see on_fill symmetrically.
	engine.OnFill(h.notifyFiller)
	return h
}

func (h *Harness) notifyFiller(order types.Order, trade types.Trade) {
	if filler, ok := h.strat.(strategy.Filler); ok {
		filler.OnFill(order, trade)
	}
}

// Load resolves every configured market reference (a URL, slug, or id)
// into a full Market record via the metadata port. A reference that fails
// to resolve is logged and skipped rather than treated as fatal, matching
// the teacher's warn-and-continue pattern for partially-available data.
func (h *Harness) Load(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return fmt.Errorf("harness: no market references configured")
	}

	h.marketsMu.Lock()
	defer h.marketsMu.Unlock()

	for _, ref := range refs {
		market, err := h.resolveMarketRef(ctx, ref)
		if err != nil {
			h.logger.Warn("could not load market", "ref", ref, "error", err)
			continue
		}
		h.markets[market.MarketID] = market
		h.byToken[market.YesTokenID] = market
		h.byToken[market.NoTokenID] = market
		h.logger.Info("loaded market", "market_id", market.MarketID, "slug", market.Slug)
	}

	if len(h.markets) == 0 {
		return fmt.Errorf("harness: none of %d configured market references resolved", len(refs))
	}
	return nil
}

// resolveMarketRef accepts a bare slug, a bare Gamma market id, or a full
// polymarket.com/event|market/<slug> URL.
func (h *Harness) resolveMarketRef(ctx context.Context, ref string) (*types.Market, error) {
	if slug, ok := slugFromPolymarketURL(ref); ok {
		return h.metadata.GetMarketBySlug(ctx, slug)
	}
	// Not a recognizable URL: try it as a slug first, then fall back to id.
	// Gamma slugs and ids are disjoint enough in practice that a 404 on one
	// cleanly signals "try the other" rather than silently matching wrong.
	if market, err := h.metadata.GetMarketBySlug(ctx, ref); err == nil {
		return market, nil
	}
	return h.metadata.GetMarketById(ctx, ref)
}

func slugFromPolymarketURL(ref string) (slug string, ok bool) {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", false
	}
	if !strings.Contains(u.Host, "polymarket.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", false
	}
	if parts[0] != "event" && parts[0] != "market" {
		return "", false
	}
	return parts[1], true
}

// Subscribe collects both outcome token ids from every loaded market and
// subscribes the multiplexer's market channel to them, and subscribes the
// user channel to each market's condition id so order/fill events route
// back to this harness.
func (h *Harness) Subscribe() {
	h.marketsMu.RLock()
	defer h.marketsMu.RUnlock()

	tokenIDs := make([]string, 0, len(h.markets)*2)
	conditionIDs := make([]string, 0, len(h.markets))
	for _, m := range h.markets {
		tokenIDs = append(tokenIDs, m.YesTokenID, m.NoTokenID)
		conditionIDs = append(conditionIDs, m.MarketID)
	}
	h.mux.SubscribeMarket(tokenIDs)
	h.mux.SubscribeUser(conditionIDs)
}

// Wire is a no-op placeholder for symmetry with the lifecycle named in the
// package doc: dispatch is handled entirely inside Run's event loop, since
// the multiplexer exposes a single fan-in channel rather than a
// per-event-kind callback registry.
func (h *Harness) Wire() {}

// Run invokes the strategy's start hook (if present), then drives the
// multiplexer and a heartbeat ticker concurrently until ctx is cancelled
// or the multiplexer's event channel closes.
func (h *Harness) Run(ctx context.Context) error {
	h.callStart()

	muxCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.mux.Run(muxCtx)
	}()

	interval := time.Duration(h.cfg.HeartbeatIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := h.mux.Events()
	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			// The multiplexer has stopped sending; dispatch what it buffered.
			for {
				select {
				case evt, open := <-events:
					if !open {
						return ctx.Err()
					}
					h.dispatch(ctx, evt)
				default:
					return ctx.Err()
				}
			}

		case evt, open := <-events:
			if !open {
				cancel()
				wg.Wait()
				return fmt.Errorf("harness: event stream closed")
			}
			h.dispatch(ctx, evt)

		case <-ticker.C:
			h.heartbeat()
		}
	}
}

// Stop invokes the strategy's stop hook, if present. It does not touch the
// multiplexer: Run cancels the multiplexer's context and waits for it to
// return before Run itself returns. The engine holds nothing to close.
func (h *Harness) Stop() {
	h.stopOnce.Do(func() {
		h.callStop()
	})
}

// dispatch routes one decoded market event to the right market and the
// right strategy capability. A panic inside a strategy callback is
// recovered here and routed to ErrorHandler instead of crashing the
// harness, matching the teacher's per-callback try/except in
// _setup_callbacks.
func (h *Harness) dispatch(ctx context.Context, evt types.MarketEvent) {
	defer h.recoverInto(fmt.Sprintf("dispatch %s", evt.Kind))

	switch evt.Kind {
	case types.EventPriceChange:
		h.dispatchPriceChange(evt)
	case types.EventBook:
		h.dispatchBook(evt)
	case types.EventTrade:
		h.dispatchTrade(evt)
	case types.EventOrderUpdate:
		h.dispatchOrderUpdate(ctx, evt)
	default:
		h.logger.Warn("unhandled event kind", "kind", evt.Kind)
	}
}

func (h *Harness) dispatchPriceChange(evt types.MarketEvent) {
	market, isYes, ok := h.marketForToken(evt.TokenID)
	if !ok {
		return
	}
	if evt.Price.Sign() != 0 || evt.BestBid != nil || evt.BestAsk != nil {
		h.marketsMu.Lock()
		if isYes {
			market.PriceYes = evt.Price
		} else {
			market.PriceNo = evt.Price
		}
		h.marketsMu.Unlock()
	}

	h.strat.OnPriceUpdate(market, strategy.PriceUpdate{IsYes: isYes, Price: evt.Price})
}

func (h *Harness) dispatchBook(evt types.MarketEvent) {
	market, _, ok := h.marketForToken(evt.TokenID)
	if !ok {
		return
	}
	if updater, ok := h.strat.(strategy.OrderBookUpdater); ok {
		updater.OnOrderBookUpdate(market, evt)
	}
}

func (h *Harness) dispatchTrade(evt types.MarketEvent) {
	market, _, ok := h.marketForToken(evt.TokenID)
	if !ok {
		return
	}
	if trader, ok := h.strat.(strategy.MarketTrader); ok {
		trader.OnMarketTrade(market, evt)
	}
}

// dispatchOrderUpdate reconciles a user-channel order_fill event against a
// locally-known order and finalizes the fill through the execution engine.
// The strategy's Filler capability is notified via the engine's OnFill
// bridge (see New), not from here, so paper and live fills both reach it
// exactly once.
func (h *Harness) dispatchOrderUpdate(ctx context.Context, evt types.MarketEvent) {
	if evt.EventSubtype != types.SubtypeOrderFill {
		return
	}

	h.ordersMu.Lock()
	order, known := h.orders[evt.OrderID]
	h.ordersMu.Unlock()
	if !known {
		h.logger.Warn("order_fill for unknown order", "order_id", evt.OrderID)
		return
	}

	fillSize := order.RemainingSize()
	if evt.OrderSize != nil {
		fillSize = *evt.OrderSize
	}

	if err := h.engine.ApplyFill(ctx, evt.OrderID, evt.Price, fillSize, evt.FillSeq); err != nil {
		h.logger.Error("apply fill failed", "order_id", evt.OrderID, "error", err)
		h.callError(err)
		return
	}

	updated, err := h.engine.Order(evt.OrderID)
	if err != nil {
		h.logger.Error("reload order after fill failed", "order_id", evt.OrderID, "error", err)
		return
	}

	h.ordersMu.Lock()
	if updated.IsOpen() {
		h.orders[evt.OrderID] = updated
	} else {
		delete(h.orders, evt.OrderID)
	}
	h.ordersMu.Unlock()
}

// TrackOrder registers an order the harness should reconcile fills
// against; a strategy calls this after a successful Submit.
func (h *Harness) TrackOrder(order *types.Order) {
	h.ordersMu.Lock()
	defer h.ordersMu.Unlock()
	h.orders[order.ID] = order
}

func (h *Harness) marketForToken(tokenID string) (market *types.Market, isYes bool, ok bool) {
	h.marketsMu.RLock()
	defer h.marketsMu.RUnlock()
	m, found := h.byToken[tokenID]
	if !found {
		return nil, false, false
	}
	isYes, _ = m.TokenSide(tokenID)
	return m, isYes, true
}

func (h *Harness) heartbeat() {
	defer h.recoverInto("heartbeat")

	if hb, ok := h.strat.(strategy.Heartbeater); ok {
		hb.OnHeartbeat()
		return
	}

	h.marketsMu.RLock()
	n := len(h.markets)
	h.marketsMu.RUnlock()
	h.ordersMu.Lock()
	open := len(h.orders)
	h.ordersMu.Unlock()

	h.logger.Info("heartbeat",
		"markets", n,
		"open_orders", open,
		"market_ws", h.mux.MarketState().String(),
		"user_ws", h.mux.UserState().String(),
	)
}

func (h *Harness) callStart() {
	defer h.recoverInto("OnStart")
	if s, ok := h.strat.(strategy.Starter); ok {
		s.OnStart()
	}
}

func (h *Harness) callStop() {
	defer h.recoverInto("OnStop")
	if s, ok := h.strat.(strategy.Stopper); ok {
		s.OnStop()
	}
}

func (h *Harness) callError(err error) {
	if eh, ok := h.strat.(strategy.ErrorHandler); ok {
		eh.OnError(err)
	}
}

// recoverInto turns a panicking strategy callback into a logged error and
// an ErrorHandler notification instead of an unrecovered process crash.
func (h *Harness) recoverInto(where string) {
	if r := recover(); r != nil {
		err := fmt.Errorf("harness: panic in %s: %v", where, r)
		h.logger.Error("recovered panic", "where", where, "panic", r)
		h.callError(err)
	}
}
