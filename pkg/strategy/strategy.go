// Package strategy defines the contract a trading strategy implements
// against the harness: one required callback (OnPriceUpdate) plus a fixed
// set of optional capabilities expressed as per-method interfaces the
// harness probes with a type assertion, rather than the original Python's
// inheritance-with-overridable-no-op-methods (Strategy(ABC) in
// original_source/polytrader/strategy/base.py). A Go strategy implements
// only the interfaces it needs; the harness calls a capability only when
// present.
package strategy

import (
	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

// Strategy is the one required capability: every strategy must react to a
// price update on a market it is tracking.
type Strategy interface {
	OnPriceUpdate(market *types.Market, price PriceUpdate)
}

// PriceUpdate carries the new price alongside which outcome it belongs to,
// since pkg/types.Market tracks YES and NO prices independently.
type PriceUpdate struct {
	IsYes bool
	Price decimal.Decimal
}

// Starter is probed once before the harness launches the multiplexer.
type Starter interface {
	OnStart()
}

// Stopper is probed once during an orderly shutdown, after the harness's
// Run has returned: the multiplexer has stopped and the events it had
// buffered, including in-flight fills, have been dispatched.
type Stopper interface {
	OnStop()
}

// OrderBookUpdater is probed on every Book market event for a tracked
// token.
type OrderBookUpdater interface {
	OnOrderBookUpdate(market *types.Market, event types.MarketEvent)
}

// MarketTrader is probed on every Trade market event for a tracked token.
type MarketTrader interface {
	OnMarketTrade(market *types.Market, event types.MarketEvent)
}

// Filler is probed after the engine finalizes a fill (paper or live).
type Filler interface {
	OnFill(order types.Order, trade types.Trade)
}

// Heartbeater is probed on every heartbeat tick. If a strategy does not
// implement it, the harness logs a structured status line instead.
type Heartbeater interface {
	OnHeartbeat()
}

// ErrorHandler is probed when a callback panics; the harness recovers the
// panic at the dispatch boundary and routes it here instead of letting it
// terminate the process. A strategy without this capability only gets the
// harness's own error log line.
type ErrorHandler interface {
	OnError(err error)
}
