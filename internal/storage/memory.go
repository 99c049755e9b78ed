package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"polytrader/pkg/types"
)

// MemoryStore persists orders, trades, and positions as JSON files in a
// designated directory — one file per entity kind (orders, trades,
// positions). Writes use atomic file
// replacement (write to .tmp, then rename) so a crash mid-save never leaves
// a partial file behind. Suitable for paper trading and local runs; a
// production deployment should use Postgres instead.
type MemoryStore struct {
	dir string
	mu  sync.Mutex // serializes all file operations

	orders    map[string]types.Order
	trades    []types.Trade
	positions map[string]types.Position
}

// OpenMemoryStore creates a store backed by the given directory, loading any
// previously-persisted state.
func OpenMemoryStore(dir string) (*MemoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &MemoryStore{
		dir:       dir,
		orders:    make(map[string]types.Order),
		trades:    nil,
		positions: make(map[string]types.Position),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) load() error {
	if err := readJSONFile(filepath.Join(s.dir, "orders.json"), &s.orders); err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	if err := readJSONFile(filepath.Join(s.dir, "trades.json"), &s.trades); err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	if err := readJSONFile(filepath.Join(s.dir, "positions.json"), &s.positions); err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	return nil
}

func readJSONFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, out)
}

// writeJSONFile atomically persists v to path: write to a .tmp file, then
// rename over the target so the file is never left half-written.
func writeJSONFile(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *MemoryStore) SaveOrder(ctx context.Context, order types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	return writeJSONFile(filepath.Join(s.dir, "orders.json"), s.orders)
}

func (s *MemoryStore) SaveTrade(ctx context.Context, trade types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return writeJSONFile(filepath.Join(s.dir, "trades.json"), s.trades)
}

func (s *MemoryStore) SavePosition(ctx context.Context, position types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[position.TokenID] = position
	return writeJSONFile(filepath.Join(s.dir, "positions.json"), s.positions)
}

func (s *MemoryStore) DeletePosition(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, tokenID)
	return writeJSONFile(filepath.Join(s.dir, "positions.json"), s.positions)
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *MemoryStore) ListTrades(ctx context.Context) ([]types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

func (s *MemoryStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

// Close is a no-op for file-based storage.
func (s *MemoryStore) Close() error {
	return nil
}
