package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"polytrader/pkg/types"
)

func TestMustDecimalFallsBackToZeroOnGarbage(t *testing.T) {
	t.Parallel()
	if !mustDecimal("not-a-number").IsZero() {
		t.Error("mustDecimal should fall back to zero on unparseable input")
	}
	if !mustDecimal("1.5").Equal(dec("1.5")) {
		t.Error("mustDecimal should parse valid decimal strings")
	}
}

func TestNullTimeReturnsNilForZeroValue(t *testing.T) {
	t.Parallel()
	if nullTime(time.Time{}) != nil {
		t.Error("nullTime(zero) should be nil")
	}
	now := time.Now()
	if nullTime(now) != now {
		t.Error("nullTime(non-zero) should pass the value through")
	}
}

// TestPostgresStoreRoundTrip only runs against a real database, selected via
// POLYTRADER_TEST_DATABASE_URL — there is no in-process Postgres fake in this
// module's dependency set, so CI without a configured database skips it.
func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("POLYTRADER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("POLYTRADER_TEST_DATABASE_URL not set, skipping Postgres integration test")
	}

	s, err := OpenPostgresStore(dsn)
	if err != nil {
		t.Fatalf("OpenPostgresStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	order := types.Order{
		ID: "itest-ord-1", MarketID: "m1", TokenID: "tok1",
		Side: types.BUY, Type: types.OrderTypeLimit,
		Price: dec("0.5"), Size: dec("10"), FilledSize: dec("0"),
		Status: types.OrderOpen, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	orders, err := s.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	found := false
	for _, o := range orders {
		if o.ID == order.ID {
			found = true
		}
	}
	if !found {
		t.Error("saved order not found in ListOrders")
	}

	pos := types.Position{TokenID: "itest-tok1", MarketID: "m1", Size: dec("5"), AvgEntry: dec("0.5"), OpenedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	if err := s.DeletePosition(ctx, pos.TokenID); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
}
