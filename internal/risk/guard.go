// Package risk enforces portfolio-level exposure and loss limits on orders
// before they reach the venue.
//
// Unlike the teacher's async Manager — which aggregates PositionReports off
// a channel and emits KillSignals for an engine to read on its own loop —
// the ExecutionEngine here is single-writer and synchronous: every
// Submit call already holds the lock over order/position state, so the
// risk check is just one more function call inline, not a goroutine with a
// mailbox. Guard keeps the teacher's three limit categories (per-market
// exposure, global exposure, daily realized loss) and its exposure/PnL
// bookkeeping style, translated to a direct Approve(intent) error call.
package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// ErrLimitBreached is wrapped by every rejection Approve returns, so callers
// can distinguish a risk rejection from other Submit failures with errors.Is.
var ErrLimitBreached = errors.New("risk: limit breached")

// Guard evaluates an OrderIntent against configured exposure and loss
// limits, using the current per-market exposure/PnL state supplied by the
// engine on each report.
type Guard struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.Mutex
	marketExposure   map[string]decimal.Decimal // marketID -> USD exposure
	totalExposure    decimal.Decimal
	totalRealizedPnL decimal.Decimal
	dayStartPnL      decimal.Decimal // totalRealizedPnL when the current daily window opened
	dailyResetAt     time.Time
}

// NewGuard builds a Guard. A zero value in any RiskConfig field disables
// that particular check (e.g. MaxDailyLoss == 0 never triggers).
func NewGuard(cfg config.RiskConfig, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		marketExposure: make(map[string]decimal.Decimal),
		dailyResetAt:   nextMidnightUTC(time.Now()),
	}
}

// Report updates the guard's view of a market's current USD exposure and
// the account's total realized P&L, ahead of the next Approve call. The
// engine calls this after every fill, before evaluating the next intent.
func (g *Guard) Report(marketID string, exposureUSD, totalRealizedPnL decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverIfNeeded(time.Now())

	old := g.marketExposure[marketID]
	g.marketExposure[marketID] = exposureUSD
	g.totalExposure = g.totalExposure.Sub(old).Add(exposureUSD)
	g.totalRealizedPnL = totalRealizedPnL
}

// Approve checks intent against the configured limits and returns a
// non-nil error wrapping ErrLimitBreached the first limit it finds
// exceeded. A zero-valued limit in RiskConfig is treated as "no limit".
func (g *Guard) Approve(intent types.OrderIntent) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverIfNeeded(time.Now())

	notional := intent.Price.Mul(intent.Size)

	if g.cfg.MaxMarketExposure > 0 {
		projected := g.marketExposure[intent.MarketID].Add(notional)
		if projected.GreaterThan(decimal.NewFromFloat(g.cfg.MaxMarketExposure)) {
			return fmt.Errorf("%w: market %s exposure would reach %s, limit %.2f",
				ErrLimitBreached, intent.MarketID, projected.StringFixed(2), g.cfg.MaxMarketExposure)
		}
	}

	if g.cfg.MaxTotalExposure > 0 {
		projected := g.totalExposure.Add(notional)
		if projected.GreaterThan(decimal.NewFromFloat(g.cfg.MaxTotalExposure)) {
			return fmt.Errorf("%w: total exposure would reach %s, limit %.2f",
				ErrLimitBreached, projected.StringFixed(2), g.cfg.MaxTotalExposure)
		}
	}

	if g.cfg.MaxDailyLoss > 0 {
		daily := g.totalRealizedPnL.Sub(g.dayStartPnL)
		if daily.LessThan(decimal.NewFromFloat(-g.cfg.MaxDailyLoss)) {
			g.logger.Error("daily loss limit breached", "realized_pnl", daily.String())
			return fmt.Errorf("%w: daily realized loss %s exceeds limit %.2f",
				ErrLimitBreached, daily.String(), g.cfg.MaxDailyLoss)
		}
	}

	return nil
}

// rolloverIfNeeded resets the daily-loss accounting window at UTC midnight.
// Must be called with g.mu held.
func (g *Guard) rolloverIfNeeded(now time.Time) {
	if now.Before(g.dailyResetAt) {
		return
	}
	g.logger.Info("risk guard daily window rolled over")
	g.dayStartPnL = g.totalRealizedPnL
	g.dailyResetAt = nextMidnightUTC(now)
}

func nextMidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}
