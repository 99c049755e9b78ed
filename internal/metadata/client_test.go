package metadata

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"polytrader/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decStr(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func TestGetMarketBySlugParsesTokenIDsAndPrices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/slug/will-it-rain" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": "123", "conditionId": "cond1", "slug": "will-it-rain",
			"clobTokenIds": "[\"yesTok\",\"noTok\"]",
			"outcomePrices": "[\"0.4\",\"0.6\"]",
			"volume": "1000.5", "liquidity": "500.25",
			"active": true, "closed": false
		}`))
	}))
	defer srv.Close()

	c := NewClient(&config.Config{API: config.APIConfig{GammaURL: srv.URL}}, testLogger())
	m, err := c.GetMarketBySlug(context.Background(), "will-it-rain")
	if err != nil {
		t.Fatalf("GetMarketBySlug: %v", err)
	}
	if m.YesTokenID != "yesTok" || m.NoTokenID != "noTok" {
		t.Errorf("tokens = %+v", m)
	}
	if !m.PriceYes.Equal(decStr(t, "0.4")) || !m.PriceNo.Equal(decStr(t, "0.6")) {
		t.Errorf("prices = %+v", m)
	}
	if m.MarketID != "cond1" {
		t.Errorf("MarketID = %q, want cond1", m.MarketID)
	}
}

func TestGetMarketByIdMissingTokenIDsDefaultsEmpty(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"123","conditionId":"cond1","clobTokenIds":"","outcomePrices":""}`))
	}))
	defer srv.Close()

	c := NewClient(&config.Config{API: config.APIConfig{GammaURL: srv.URL}}, testLogger())
	m, err := c.GetMarketById(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetMarketById: %v", err)
	}
	if m.YesTokenID != "" || m.NoTokenID != "" {
		t.Errorf("expected empty token ids, got %+v", m)
	}
}

func TestGetEventBySlug(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slug":"election-2026","title":"Election 2026","markets":[{"slug":"m1"},{"slug":"m2"}]}`))
	}))
	defer srv.Close()

	c := NewClient(&config.Config{API: config.APIConfig{GammaURL: srv.URL}}, testLogger())
	ev, err := c.GetEventBySlug(context.Background(), "election-2026")
	if err != nil {
		t.Fatalf("GetEventBySlug: %v", err)
	}
	if len(ev.Markets) != 2 {
		t.Errorf("Markets = %+v, want 2 entries", ev.Markets)
	}
}

func TestGetMarketRetriesOn5xxThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id":"1","conditionId":"cond1","clobTokenIds":"[\"a\",\"b\"]","outcomePrices":"[\"0.5\",\"0.5\"]"}`))
	}))
	defer srv.Close()

	c := NewClient(&config.Config{API: config.APIConfig{GammaURL: srv.URL}}, testLogger())
	m, err := c.GetMarketById(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetMarketById: %v", err)
	}
	if m.YesTokenID != "a" {
		t.Errorf("YesTokenID = %q, want a", m.YesTokenID)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one failure, one retry)", calls.Load())
	}
}

func TestGetMarketFailsAfterExhaustingRetries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(&config.Config{API: config.APIConfig{GammaURL: srv.URL}}, testLogger())
	_, err := c.GetMarketById(context.Background(), "1")
	if err == nil {
		t.Fatal("expected error after exhausting retries on persistent 429")
	}
}
