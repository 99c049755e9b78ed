// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the runtime — order/trade/
// position records, market metadata, and WebSocket wire payloads. It has no
// dependencies on internal packages, so it can be imported by any layer
// including a caller's own strategy implementation.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the two order lifecycles the engine understands.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus enumerates the monotone status transitions an Order makes.
// PENDING -> OPEN -> {PARTIALLY_FILLED, FILLED, CANCELLED, REJECTED}.
// FILLED and CANCELLED are terminal.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// EventSubtype distinguishes the three OrderUpdate variants carried over the
// user channel.
type EventSubtype string

const (
	SubtypeOrder       EventSubtype = "order"
	SubtypeOrderFill   EventSubtype = "order_fill"
	SubtypeOrderCancel EventSubtype = "order_cancel"
)

// ————————————————————————————————————————————————————————————————————————
// Market
// ————————————————————————————————————————————————————————————————————————

// Market is identified by a stable MarketID and a URL Slug; it holds the two
// outcome token identifiers and current last-known prices. Identity is
// immutable after creation by the metadata port; only prices mutate, and
// only the harness mutates them (see internal/harness).
type Market struct {
	MarketID string
	Slug     string

	YesTokenID string
	NoTokenID  string

	PriceYes decimal.Decimal // last-known price in [0,1]
	PriceNo  decimal.Decimal

	Volume    decimal.Decimal
	Liquidity decimal.Decimal
	Closed    bool
}

// TokenSide reports which outcome (yes/no) a token id belongs to, and false
// if the token id belongs to neither of this market's two tokens.
func (m *Market) TokenSide(tokenID string) (isYes bool, ok bool) {
	switch tokenID {
	case m.YesTokenID:
		return true, true
	case m.NoTokenID:
		return false, true
	default:
		return false, false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders, trades, positions
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is what a strategy submits to the ExecutionEngine. It carries
// no identity or status — those are assigned by the engine on acceptance.
type OrderIntent struct {
	MarketID string
	TokenID  string
	Side     Side
	Type     OrderType
	Price    decimal.Decimal // limit price, (0,1)
	Size     decimal.Decimal // size > 0
}

// Order is an intent that has been accepted by the engine.
type Order struct {
	ID          string
	MarketID    string
	TokenID     string
	Side        Side
	Type        OrderType
	Price       decimal.Decimal
	Size        decimal.Decimal
	FilledSize  decimal.Decimal
	Status      OrderStatus
	IsPaper     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FilledAt    time.Time
}

// RemainingSize is Size - FilledSize.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// IsOpen reports whether the order can still receive fills.
func (o *Order) IsOpen() bool {
	return o.Status == OrderOpen || o.Status == OrderPending || o.Status == OrderPartiallyFilled
}

// Trade is an immutable execution record referencing its parent order.
type Trade struct {
	ID        string
	OrderID   string
	MarketID  string
	TokenID   string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal // always zero unless the venue populates it
	IsPaper   bool
	Timestamp time.Time
}

// Value is Price * Size.
func (t Trade) Value() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Position is a per-token aggregate. Size is non-negative: prediction-market
// outcomes are non-shortable at the base level. When Size returns to zero
// the engine deletes the record — a flat position is never persisted as a
// zero row.
type Position struct {
	TokenID     string
	MarketID    string
	Size        decimal.Decimal
	AvgEntry    decimal.Decimal
	RealizedPnL decimal.Decimal
	OpenedAt    time.Time
	UpdatedAt   time.Time
}

// IsFlat reports whether the position has returned to zero size.
func (p Position) IsFlat() bool {
	return p.Size.Sign() <= 0
}

// AccountBalance is the return shape of the engine's on-demand exposure
// snapshot: balance, equity, and realized P&L are always computed from
// authoritative order/position state, never cached.
type AccountBalance struct {
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	RealizedPnL decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Market events (decoder output)
// ————————————————————————————————————————————————————————————————————————

// MarketEventKind tags the MarketEvent union.
type MarketEventKind string

const (
	EventPriceChange  MarketEventKind = "price_change"
	EventBook         MarketEventKind = "book"
	EventTrade        MarketEventKind = "trade"
	EventOrderUpdate  MarketEventKind = "order_update"
)

// MarketEvent is the tagged union the decoder produces and the
// multiplexer streams to the harness. Only the fields relevant to Kind are
// populated; the rest are zero values.
type MarketEvent struct {
	Kind      MarketEventKind
	Timestamp time.Time

	// PriceChange
	MarketRef string // venue's opaque "market" (condition id) field
	TokenID   string
	Price     decimal.Decimal
	BestBid   *decimal.Decimal // nil when absent, never a synthesized zero
	BestAsk   *decimal.Decimal

	// Book
	Bids []PriceLevel
	Asks []PriceLevel

	// Trade
	TradeID string

	// OrderUpdate
	OrderID      string
	EventSubtype EventSubtype
	OrderSize    *decimal.Decimal
	FillSeq      uint64
}

// PriceLevel is a single bid or ask level in a book snapshot.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Subscription state
// ————————————————————————————————————————————————————————————————————————

// SubscriptionState is two sets — market-channel token ids, user-channel
// condition ids — owned exclusively by the StreamMultiplexer.
type SubscriptionState struct {
	TokenIDs     map[string]struct{}
	ConditionIDs map[string]struct{}
}

// NewSubscriptionState returns an empty subscription state.
func NewSubscriptionState() *SubscriptionState {
	return &SubscriptionState{
		TokenIDs:     make(map[string]struct{}),
		ConditionIDs: make(map[string]struct{}),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Wire DTOs — the raw shapes decoded off the two WebSocket channels
// ————————————————————————————————————————————————————————————————————————

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel.
type WSSubscribeMsg struct {
	Type        string   `json:"type"` // "MARKET" or "USER"
	AssetIDs    []string `json:"assets_ids,omitempty"`
	InitialDump bool     `json:"initial_dump,omitempty"`
	Auth        *WSAuth  `json:"auth,omitempty"`
	Markets     []string `json:"markets,omitempty"`
}

// WSAuth carries the L2 API credentials for the user channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg dynamically subscribes/unsubscribes after the initial
// connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// RawFrame is one decoded JSON object from the transport — either a legacy
// single-event frame or a batched price_change frame. It is the input to
// the MessageDecoder. String-typed numeric fields mirror the venue's wire
// format, which sends prices/sizes as strings to preserve precision.
type RawFrame struct {
	EventType string `json:"event_type"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`

	PriceChanges []RawPriceChange `json:"price_changes,omitempty"`

	// book
	Buys  []RawPriceLevel `json:"buys,omitempty"`
	Sells []RawPriceLevel `json:"sells,omitempty"`

	// trade
	ID string `json:"id,omitempty"`

	// order / order_fill / order_cancel
	OrderID     string `json:"order_id,omitempty"`
	Size        string `json:"size,omitempty"`
	FillSeq     uint64 `json:"fill_seq,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// RawPriceChange is one element of a batched price_change frame's
// price_changes array.
type RawPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// RawPriceLevel is one bid/ask level as carried on the wire.
type RawPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
