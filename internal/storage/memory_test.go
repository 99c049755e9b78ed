package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSaveAndListOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	defer s.Close()

	order := types.Order{ID: "ord-1", TokenID: "tok1", Side: types.BUY, Price: dec("0.5"), Size: dec("10"), Status: types.OrderOpen, CreatedAt: time.Unix(0, 0)}
	if err := s.SaveOrder(context.Background(), order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	orders, err := s.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ord-1" {
		t.Errorf("ListOrders = %+v", orders)
	}
}

func TestSaveOrderOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	defer s.Close()

	_ = s.SaveOrder(context.Background(), types.Order{ID: "ord-1", Status: types.OrderOpen})
	_ = s.SaveOrder(context.Background(), types.Order{ID: "ord-1", Status: types.OrderFilled})

	orders, _ := s.ListOrders(context.Background())
	if len(orders) != 1 || orders[0].Status != types.OrderFilled {
		t.Errorf("expected single updated order, got %+v", orders)
	}
}

func TestListTradesAppendsInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	defer s.Close()

	_ = s.SaveTrade(context.Background(), types.Trade{ID: "t1", OrderID: "ord-1"})
	_ = s.SaveTrade(context.Background(), types.Trade{ID: "t2", OrderID: "ord-1"})

	trades, err := s.ListTrades(context.Background())
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 || trades[0].ID != "t1" || trades[1].ID != "t2" {
		t.Errorf("ListTrades = %+v", trades)
	}
}

func TestSaveAndDeletePosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	defer s.Close()

	pos := types.Position{TokenID: "tok1", Size: dec("10"), AvgEntry: dec("0.5")}
	if err := s.SavePosition(context.Background(), pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	positions, err := s.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].TokenID != "tok1" {
		t.Errorf("ListPositions = %+v", positions)
	}

	if err := s.DeletePosition(context.Background(), "tok1"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	positions, _ = s.ListPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("expected empty positions after delete, got %+v", positions)
	}
}

func TestDeletePositionMissingIsNoop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	defer s.Close()

	if err := s.DeletePosition(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("DeletePosition on missing token: %v", err)
	}
}

func TestOpenMemoryStoreReloadsPersistedState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s1, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	_ = s1.SaveOrder(context.Background(), types.Order{ID: "ord-1", Status: types.OrderOpen})
	_ = s1.SavePosition(context.Background(), types.Position{TokenID: "tok1", Size: dec("5")})
	s1.Close()

	s2, err := OpenMemoryStore(dir)
	if err != nil {
		t.Fatalf("reopen OpenMemoryStore: %v", err)
	}
	defer s2.Close()

	orders, _ := s2.ListOrders(context.Background())
	if len(orders) != 1 || orders[0].ID != "ord-1" {
		t.Errorf("reloaded orders = %+v", orders)
	}
	positions, _ := s2.ListPositions(context.Background())
	if len(positions) != 1 || positions[0].TokenID != "tok1" {
		t.Errorf("reloaded positions = %+v", positions)
	}
}
