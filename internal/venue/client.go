// Package venue implements the REST and signing client for the live
// trading venue: EIP-712/HMAC authentication (auth.go), a rate-limited
// resty-based REST client (this file), and per-category token-bucket rate
// limiting (ratelimit.go).
//
// The ExecutionEngine only reaches into this package when running in live
// mode — paper mode simulates fills locally and never touches the network.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// BookResponse is the venue's L2 order book shape for a single token.
type BookResponse struct {
	Market  string                `json:"market"`
	AssetID string                `json:"asset_id"`
	Bids    []types.RawPriceLevel `json:"bids"`
	Asks    []types.RawPriceLevel `json:"asks"`
}

// SignedOrder is the on-chain order structure the CTF exchange contract
// verifies. Maker/taker amounts are big.Int values serialized as decimal
// strings, per the venue's wire convention.
type SignedOrder struct {
	Maker         string              `json:"maker"`
	Signer        string              `json:"signer"`
	Taker         string              `json:"taker"`
	TokenID       string              `json:"tokenId"`
	MakerAmount   string              `json:"makerAmount"`
	TakerAmount   string              `json:"takerAmount"`
	Side          types.Side          `json:"side"`
	Expiration    string              `json:"expiration"`
	Nonce         string              `json:"nonce"`
	FeeRateBps    string              `json:"feeRateBps"`
	SignatureType types.SignatureType `json:"signatureType"`
}

// OrderPayload wraps a SignedOrder with the metadata the /orders endpoint
// expects alongside it.
type OrderPayload struct {
	Order     SignedOrder     `json:"order"`
	Owner     string          `json:"owner"`
	OrderType types.OrderType `json:"orderType"`
}

// OrderResponse is the venue's acknowledgement of a placed order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
	ErrorMsg string `json:"errorMsg,omitempty"`
}

// CancelResponse reports which order ids were cancelled and which were not
// (already filled, already cancelled, or unknown to the venue).
type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled,omitempty"`
}

// Client is the venue's REST API client: rate limited, retried on 5xx, and
// authenticated with L2 HMAC headers for every mutating call.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient builds a Client against cfg.API.RESTURL.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.RESTURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "venue_client"),
	}
}

// GetOrderBook fetches the L2 order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// buildOrderPayload converts an OrderIntent into the on-chain order shape
// the REST API expects. It attaches no EIP-712 order signature; the request
// carrying it is authenticated only by L2 HMAC headers. The maker is the
// funder wallet (proxy), the signer
// is the EOA, and the taker is the zero address — an open order any
// counterparty can fill. Fee rate is always zero: the venue quoted here
// charges no maker/taker fee on binary markets.
func (c *Client) buildOrderPayload(intent types.OrderIntent) OrderPayload {
	makerAmt, takerAmt := PriceToAmounts(intent.Price, intent.Size, intent.Side)

	return OrderPayload{
		Order: SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       intent.TokenID,
			MakerAmount:   makerAmt.String(),
			TakerAmount:   takerAmt.String(),
			Side:          intent.Side,
			Expiration:    "0",
			Nonce:         "0",
			FeeRateBps:    "0",
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: intent.Type,
	}
}

// PostOrder signs and submits a single order.
func (c *Client) PostOrder(ctx context.Context, intent types.OrderIntent) (*OrderResponse, error) {
	results, err := c.PostOrders(ctx, []types.OrderIntent{intent})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("post order: no response from venue")
	}
	return &results[0], nil
}

// PostOrders places up to 15 orders in a single batch request.
func (c *Client) PostOrders(ctx context.Context, intents []types.OrderIntent) ([]OrderResponse, error) {
	if len(intents) == 0 {
		return nil, nil
	}
	if len(intents) > 15 {
		return nil, fmt.Errorf("batch limit is 15 orders, got %d", len(intents))
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payloads := make([]OrderPayload, len(intents))
	for i, intent := range intents {
		payloads[i] = c.buildOrderPayload(intent)
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// CancelOrders cancels specific orders by id.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*CancelResponse, error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// SubmitOrder signs and submits intent, returning the venue-assigned order
// id. It satisfies internal/exec's LiveSubmitter interface.
func (c *Client) SubmitOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	resp, err := c.PostOrder(ctx, intent)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("order rejected by venue: %s", resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// CancelOrder cancels a single order by id. It satisfies internal/exec's
// LiveSubmitter interface.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.CancelOrders(ctx, []string{orderID})
	return err
}

// DeriveAPIKey derives L2 API credentials via L1 authentication and installs
// them on the associated Auth.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
