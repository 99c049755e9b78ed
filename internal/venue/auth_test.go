package venue

import (
	"math/big"
	"testing"

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

func TestPriceToAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		price   string
		size    string
		side    types.Side
		wantMkr int64
		wantTkr int64
	}{
		{"BUY at 0.50, size 100", "0.50", "100", types.BUY, 50_000_000, 100_000_000},
		{"SELL at 0.50, size 100", "0.50", "100", types.SELL, 100_000_000, 50_000_000},
		{"BUY at 0.75, size 10", "0.75", "10", types.BUY, 7_500_000, 10_000_000},
		{"BUY small size truncated", "0.55", "1.999", types.BUY, 1_094_500, 1_990_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mkr, tkr := PriceToAmounts(dec(tt.price), dec(tt.size), tt.side)

			if mkr.Cmp(big.NewInt(tt.wantMkr)) != 0 {
				t.Errorf("makerAmount = %s, want %d", mkr.String(), tt.wantMkr)
			}
			if tkr.Cmp(big.NewInt(tt.wantTkr)) != 0 {
				t.Errorf("takerAmount = %s, want %d", tkr.String(), tt.wantTkr)
			}
		})
	}
}

func TestPriceToAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()

	buyMkr, buyTkr := PriceToAmounts(dec("0.60"), dec("50"), types.BUY)
	sellMkr, sellTkr := PriceToAmounts(dec("0.60"), dec("50"), types.SELL)

	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}

func TestWSAuthPayloadIsPlainTriple(t *testing.T) {
	t.Parallel()
	a := &Auth{creds: Credentials{ApiKey: "k", Secret: "s", Passphrase: "p"}}
	payload := a.WSAuthPayload()
	if payload.ApiKey != "k" || payload.Secret != "s" || payload.Passphrase != "p" {
		t.Errorf("WSAuthPayload() = %+v, want plain credential triple", payload)
	}
}

func TestHasL2Credentials(t *testing.T) {
	t.Parallel()
	a := &Auth{}
	if a.HasL2Credentials() {
		t.Error("HasL2Credentials() = true on zero-value creds, want false")
	}
	a.SetCredentials(Credentials{ApiKey: "k", Secret: "s", Passphrase: "p"})
	if !a.HasL2Credentials() {
		t.Error("HasL2Credentials() = false after SetCredentials, want true")
	}
}

func TestBuildHMACIsDeterministic(t *testing.T) {
	t.Parallel()
	a := &Auth{creds: Credentials{Secret: "c2VjcmV0LWJ5dGVz"}} // base64 of "secret-bytes"
	sig1, err := a.buildHMAC("1700000000", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	sig2, err := a.buildHMAC("1700000000", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig1 != sig2 {
		t.Error("buildHMAC is not deterministic for identical inputs")
	}

	sig3, err := a.buildHMAC("1700000001", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig1 == sig3 {
		t.Error("buildHMAC did not change when timestamp changed")
	}
}
