// Package storage defines the persistence boundary the ExecutionEngine
// depends on, plus two implementations: an in-memory/file-backed Store for
// paper trading and local runs, and a Postgres-backed Store for production
// deployments that need durable order/trade/position history across
// restarts.
package storage

import (
	"context"

	"polytrader/pkg/types"
)

// Port is the persistence boundary the ExecutionEngine talks to. It never
// returns a sentinel "not found" value for position lookups — a flat
// position and a never-seen position are indistinguishable, and both are
// simply absent from ListPositions.
type Port interface {
	// SaveOrder upserts an order record keyed by its ID.
	SaveOrder(ctx context.Context, order types.Order) error

	// SaveTrade appends an immutable trade record.
	SaveTrade(ctx context.Context, trade types.Trade) error

	// SavePosition upserts a position keyed by TokenID. Callers must invoke
	// DeletePosition instead once Position.IsFlat() — a flat position is
	// never written as a zero-size row.
	SavePosition(ctx context.Context, position types.Position) error

	// DeletePosition removes a position record once its size returns to
	// zero. Deleting an already-absent token id is not an error.
	DeletePosition(ctx context.Context, tokenID string) error

	// ListOrders returns every known order, in no particular order.
	ListOrders(ctx context.Context) ([]types.Order, error)

	// ListTrades returns every known trade, in no particular order.
	ListTrades(ctx context.Context) ([]types.Trade, error)

	// ListPositions returns every currently-open (non-flat) position.
	ListPositions(ctx context.Context) ([]types.Position, error)

	// Close releases any resources the Port holds (file handles, DB pool).
	Close() error
}
