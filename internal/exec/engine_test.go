package exec

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"polytrader/internal/config"
	"polytrader/internal/storage"
	"polytrader/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := storage.OpenMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	cfg := config.PaperConfig{StartingBalance: 10000, Slippage: 0}
	return New(cfg, true, store, nil, nil, newTestLogger())
}

func TestS1BuySellCycle(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	order, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Type: types.OrderTypeLimit, Price: dec("0.40"), Size: dec("100")})
	if err != nil {
		t.Fatalf("BUY Submit: %v", err)
	}
	if order.Status != types.OrderFilled {
		t.Errorf("status = %v, want FILLED", order.Status)
	}
	bal := e.AccountBalance()
	if !bal.Balance.Equal(dec("9960")) {
		t.Errorf("balance after buy = %s, want 9960", bal.Balance)
	}
	pos := e.Position("T1")
	if pos == nil || !pos.Size.Equal(dec("100")) || !pos.AvgEntry.Equal(dec("0.40")) {
		t.Errorf("position after buy = %+v", pos)
	}

	_, err = e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.SELL, Type: types.OrderTypeLimit, Price: dec("0.50"), Size: dec("100")})
	if err != nil {
		t.Fatalf("SELL Submit: %v", err)
	}
	bal = e.AccountBalance()
	if !bal.Balance.Equal(dec("10010")) {
		t.Errorf("balance after sell = %s, want 10010", bal.Balance)
	}
	if pos := e.Position("T1"); pos != nil {
		t.Errorf("position after full sell = %+v, want nil (flat positions are deleted)", pos)
	}
	if !bal.RealizedPnL.Equal(dec("10")) {
		t.Errorf("realized pnl = %s, want 10", bal.RealizedPnL)
	}
}

func TestS2OverSellRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Type: types.OrderTypeLimit, Price: dec("0.40"), Size: dec("100")}); err != nil {
		t.Fatalf("BUY Submit: %v", err)
	}

	_, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.SELL, Type: types.OrderTypeLimit, Price: dec("0.50"), Size: dec("150")})
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("err = %v, want ErrInsufficientPosition", err)
	}

	bal := e.AccountBalance()
	if !bal.Balance.Equal(dec("9960")) {
		t.Errorf("balance changed after rejected oversell: %s", bal.Balance)
	}
	pos := e.Position("T1")
	if pos == nil || !pos.Size.Equal(dec("100")) {
		t.Errorf("position changed after rejected oversell: %+v", pos)
	}
}

func TestInvariantNoNegativeSizeRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	for _, size := range []string{"0", "-5"} {
		_, err := e.Submit(context.Background(), types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec("0.5"), Size: dec(size)})
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("size %s: err = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestBoundaryPriceZeroAndOneRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	for _, p := range []string{"0", "1"} {
		_, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec(p), Size: dec("10")})
		if !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("price %s: err = %v, want ErrInvalidPrice", p, err)
		}
	}
}

func TestInsufficientFundsRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	_, err := e.Submit(context.Background(), types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec("0.9"), Size: dec("100000")})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestMarketExposureGuardRejectsSubmit(t *testing.T) {
	t.Parallel()
	store, _ := storage.OpenMemoryStore(t.TempDir())
	e := New(config.PaperConfig{StartingBalance: 10000}, true, store, rejectingGuard{}, nil, newTestLogger())

	_, err := e.Submit(context.Background(), types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec("0.5"), Size: dec("10")})
	if !errors.Is(err, ErrExposureExceeded) {
		t.Errorf("err = %v, want ErrExposureExceeded", err)
	}
}

type rejectingGuard struct{}

func (rejectingGuard) Approve(intent types.OrderIntent) error {
	return errors.New("limit breached")
}

func (rejectingGuard) Report(marketID string, exposureUSD, totalRealizedPnL decimal.Decimal) {}

func TestMarketClosedRejectsSubmit(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.MarkMarketClosed("m1")

	_, err := e.Submit(context.Background(), types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec("0.5"), Size: dec("10")})
	if err == nil {
		t.Error("expected rejection for closed market")
	}
}

func TestCancelTerminalOrderIsNoop(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	order, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec("0.5"), Size: dec("10")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Paper orders fill immediately, so this order is already FILLED (terminal).
	ok, err := e.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("Cancel on a terminal order should return false, not true")
	}
}

func TestApplyFillDedupsRedeliveredFillSeq(t *testing.T) {
	t.Parallel()
	store, _ := storage.OpenMemoryStore(t.TempDir())
	e := New(config.PaperConfig{StartingBalance: 10000}, false, store, nil, stubLiveSubmitter{id: "ord-live-1"}, newTestLogger())
	ctx := context.Background()

	order, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Type: types.OrderTypeLimit, Price: dec("0.5"), Size: dec("10")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := e.ApplyFill(ctx, order.ID, dec("0.5"), dec("10"), 5); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	balAfterFirst := e.AccountBalance()

	// Redelivery of the same fillSeq must be a no-op.
	if err := e.ApplyFill(ctx, order.ID, dec("0.5"), dec("10"), 5); err != nil {
		t.Fatalf("ApplyFill redelivery: %v", err)
	}
	balAfterRedelivery := e.AccountBalance()
	if !balAfterFirst.Balance.Equal(balAfterRedelivery.Balance) {
		t.Errorf("redelivered fill mutated balance: %s -> %s", balAfterFirst.Balance, balAfterRedelivery.Balance)
	}
}

type stubLiveSubmitter struct{ id string }

func (s stubLiveSubmitter) SubmitOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	return s.id, nil
}
func (s stubLiveSubmitter) CancelOrder(ctx context.Context, orderID string) error { return nil }

func TestOnFillCallbackInvoked(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	var gotOrder types.Order
	var gotTrade types.Trade
	e.OnFill(func(order types.Order, trade types.Trade) {
		gotOrder = order
		gotTrade = trade
	})

	_, err := e.Submit(context.Background(), types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Price: dec("0.5"), Size: dec("10")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotOrder.ID == "" || gotTrade.ID == "" {
		t.Error("OnFill callback was not invoked")
	}
}

func TestMarketOrderSlippageAppliedOnlyToMarketOrders(t *testing.T) {
	t.Parallel()
	store, _ := storage.OpenMemoryStore(t.TempDir())
	e := New(config.PaperConfig{StartingBalance: 10000, Slippage: 0.01}, true, store, nil, nil, newTestLogger())
	ctx := context.Background()

	limitOrder, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T1", Side: types.BUY, Type: types.OrderTypeLimit, Price: dec("0.5"), Size: dec("10")})
	if err != nil {
		t.Fatalf("Submit limit: %v", err)
	}
	balAfterLimit := e.AccountBalance().Balance
	wantAfterLimit := dec("10000").Sub(dec("0.5").Mul(dec("10")))
	if !balAfterLimit.Equal(wantAfterLimit) {
		t.Errorf("LIMIT fill price should ignore slippage: balance = %s, want %s", balAfterLimit, wantAfterLimit)
	}
	_ = limitOrder

	marketOrder, err := e.Submit(ctx, types.OrderIntent{MarketID: "m1", TokenID: "T2", Side: types.BUY, Type: types.OrderTypeMarket, Price: dec("0.5"), Size: dec("10")})
	if err != nil {
		t.Fatalf("Submit market: %v", err)
	}
	if marketOrder.Status != types.OrderFilled {
		t.Errorf("market order status = %v, want FILLED", marketOrder.Status)
	}
	balAfterMarket := e.AccountBalance().Balance
	// fill price = 0.5*1.01 = 0.505, cost = 5.05
	wantAfterMarket := balAfterLimit.Sub(dec("0.505").Mul(dec("10")))
	if !balAfterMarket.Equal(wantAfterMarket) {
		t.Errorf("MARKET fill should apply slippage: balance = %s, want %s", balAfterMarket, wantAfterMarket)
	}
}
