// Package metadata implements the read-only market discovery client: the
// Gamma API lookups a strategy uses to resolve a market's slug or id into
// its full Market record (token ids, current prices, liquidity) before
// subscribing to it on the stream multiplexer.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// minRequestInterval enforces a minimum gap between outbound Gamma API
// requests — the API has no published per-endpoint rate limit, but the
// original client self-throttles at 100ms to stay under informal abuse
// thresholds.
const minRequestInterval = 100 * time.Millisecond

// gammaMarket is the JSON shape the Gamma API returns for one market.
type gammaMarket struct {
	ID            string `json:"id"`
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	ClobTokenIds  string `json:"clobTokenIds"`  // JSON-encoded string array: `["yesId","noId"]`
	OutcomePrices string `json:"outcomePrices"` // JSON-encoded string array: `["0.4","0.6"]`
	Volume        string `json:"volume"`
	Liquidity     string `json:"liquidity"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
}

// Client fetches market and event metadata from the Gamma API.
type Client struct {
	http   *resty.Client
	logger *slog.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient builds a metadata Client against cfg.API.GammaURL.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.GammaURL).
		SetTimeout(15 * time.Second)

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "metadata"),
	}
}

// GetMarketBySlug fetches a single market by its URL slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (*types.Market, error) {
	var raw gammaMarket
	if err := c.getWithRetry(ctx, "/markets/slug/"+slug, &raw); err != nil {
		return nil, fmt.Errorf("get market by slug %q: %w", slug, err)
	}
	return parseMarket(raw)
}

// GetMarketById fetches a single market by its Gamma id.
func (c *Client) GetMarketById(ctx context.Context, id string) (*types.Market, error) {
	var raw gammaMarket
	if err := c.getWithRetry(ctx, "/markets/"+id, &raw); err != nil {
		return nil, fmt.Errorf("get market by id %q: %w", id, err)
	}
	return parseMarket(raw)
}

// EventMarket is one market entry inside an event's market list.
type EventMarket struct {
	Slug string `json:"slug"`
}

// Event is the Gamma API's event shape: a grouping of related markets
// (e.g. every outcome of a multi-candidate race).
type Event struct {
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []EventMarket `json:"markets"`
}

// GetEventBySlug fetches an event and its constituent markets' slugs.
func (c *Client) GetEventBySlug(ctx context.Context, slug string) (*Event, error) {
	var event Event
	if err := c.getWithRetry(ctx, "/events/slug/"+slug, &event); err != nil {
		return nil, fmt.Errorf("get event by slug %q: %w", slug, err)
	}
	return &event, nil
}

// rateLimit blocks until at least minRequestInterval has passed since the
// last outbound request.
func (c *Client) rateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastCall); elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastCall = time.Now()
}

// getWithRetry performs a GET request, retrying up to 3 attempts total on
// 429 and 5xx responses with a 2^attempt second backoff.
func (c *Client) getWithRetry(ctx context.Context, path string, out interface{}) error {
	const maxAttempts = 3
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		c.rateLimit()

		resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		} else if resp.StatusCode() >= 400 {
			return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		} else {
			return nil
		}

		c.logger.Warn("request failed, retrying", "path", path, "attempt", attempt, "error", lastErr)
		wait := time.Duration(1<<uint(attempt)) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// parseMarket converts the Gamma API's string-encoded fields into a typed
// Market. clobTokenIds[0] is always the YES token, [1] the NO token.
func parseMarket(raw gammaMarket) (*types.Market, error) {
	tokenIDs, err := parseJSONStringArray(raw.ClobTokenIds)
	if err != nil {
		return nil, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	var yesToken, noToken string
	if len(tokenIDs) > 0 {
		yesToken = tokenIDs[0]
	}
	if len(tokenIDs) > 1 {
		noToken = tokenIDs[1]
	}

	prices, err := parseJSONStringArray(raw.OutcomePrices)
	if err != nil {
		return nil, fmt.Errorf("parse outcomePrices: %w", err)
	}
	priceYes := parseDecimalOrZero(prices, 0)
	priceNo := parseDecimalOrZero(prices, 1)

	volume, _ := decimal.NewFromString(raw.Volume)
	liquidity, _ := decimal.NewFromString(raw.Liquidity)

	return &types.Market{
		MarketID:   raw.ConditionID,
		Slug:       raw.Slug,
		YesTokenID: yesToken,
		NoTokenID:  noToken,
		PriceYes:   priceYes,
		PriceNo:    priceNo,
		Volume:     volume,
		Liquidity:  liquidity,
		Closed:     raw.Closed,
	}, nil
}

func parseJSONStringArray(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseDecimalOrZero(vals []string, idx int) decimal.Decimal {
	if idx >= len(vals) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(vals[idx])
	if err != nil {
		return decimal.Zero
	}
	return d
}
