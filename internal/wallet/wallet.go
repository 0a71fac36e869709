// Package wallet is the HTTP client for the external wallet service. The
// service tracks buying power per user; orders reserve funds before they
// reach compliance and release them when they are rejected or cancelled.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds means the user cannot cover the reservation. It is a
// business outcome, not a transport failure, so callers must not retry it.
var ErrInsufficientFunds = errors.New("insufficient funds")

const requestTimeout = 5 * time.Second

// Client talks to the wallet service over HTTP. Every call is bounded by the
// client timeout; a timeout surfaces as a plain error and is retryable.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type reservationRequest struct {
	UserID  uint64          `json:"userId"`
	OrderID uint            `json:"orderId"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
}

// ReserveFunds places a hold of amount against the user's wallet, keyed by
// order id so replays are idempotent on the wallet side.
func (c *Client) ReserveFunds(ctx context.Context, userID uint64, orderID uint, amount decimal.Decimal) error {
	return c.post(ctx, "/api/v1/wallet/reserve", reservationRequest{
		UserID:  userID,
		OrderID: orderID,
		Amount:  amount,
	})
}

// ReleaseFunds drops the hold taken for the order, if any.
func (c *Client) ReleaseFunds(ctx context.Context, userID uint64, orderID uint) error {
	return c.post(ctx, "/api/v1/wallet/release", reservationRequest{
		UserID:  userID,
		OrderID: orderID,
	})
}

func (c *Client) post(ctx context.Context, path string, payload reservationRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet service: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrInsufficientFunds
	default:
		return fmt.Errorf("wallet service returned status %d", resp.StatusCode)
	}
}
