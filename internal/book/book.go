// Package book implements an optional per-token order-book aggregator a
// strategy can embed to track a local mirror of the CLOB ladder, derived
// from the Book and PriceChange market events the multiplexer streams.
//
// Adapted from the teacher's internal/market/book.go, trimmed of its
// scanning/ranking concerns (now in internal/metadata) and its YES/NO
// token-pair bundling — this Book tracks a single token's ladder, since
// pkg/types.MarketEvent already carries one token id per event rather than
// the teacher's combined market-level WSBookEvent/WSPriceChangeEvent shape.
package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

// Book maintains a local mirror of the order book for one token.
type Book struct {
	mu      sync.RWMutex
	tokenID string

	bids []types.PriceLevel // descending by price
	asks []types.PriceLevel // ascending by price

	bestBid *decimal.Decimal
	bestAsk *decimal.Decimal

	updated time.Time
}

// NewBook creates an empty book for tokenID.
func NewBook(tokenID string) *Book {
	return &Book{tokenID: tokenID}
}

// ApplyBookEvent replaces the full ladder from a Book market event. It is a
// no-op if event.Kind is not EventBook or belongs to a different token.
func (b *Book) ApplyBookEvent(event types.MarketEvent) {
	if event.Kind != types.EventBook || event.TokenID != b.tokenID {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = event.Bids
	b.asks = event.Asks
	if len(b.bids) > 0 {
		p := b.bids[0].Price
		b.bestBid = &p
	}
	if len(b.asks) > 0 {
		p := b.asks[0].Price
		b.bestAsk = &p
	}
	b.updated = event.Timestamp
}

// ApplyPriceChange updates the best bid/ask from an incremental PriceChange
// event. It never touches the deeper ladder — only ApplyBookEvent does —
// since a price_change frame carries only the new top-of-book, not a full
// snapshot.
func (b *Book) ApplyPriceChange(event types.MarketEvent) {
	if event.Kind != types.EventPriceChange || event.TokenID != b.tokenID {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.BestBid != nil {
		b.bestBid = event.BestBid
	}
	if event.BestAsk != nil {
		b.bestAsk = event.BestAsk
	}
	b.updated = event.Timestamp
}

// BestBidAsk returns the current best bid and ask, or ok=false if either
// side is unknown.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.bestBid == nil || b.bestAsk == nil {
		return decimal.Zero, decimal.Zero, false
	}
	return *b.bestBid, *b.bestAsk, true
}

// MidPrice returns (bestBid + bestAsk) / 2, or ok=false if the book is
// missing either side.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Bids returns a snapshot of the current bid ladder, best-first.
func (b *Book) Bids() []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.PriceLevel, len(b.bids))
	copy(out, b.bids)
	return out
}

// Asks returns a snapshot of the current ask ladder, best-first.
func (b *Book) Asks() []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.PriceLevel, len(b.asks))
	copy(out, b.asks)
	return out
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the most recent update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
