/**
 * @description
 * This package provides a client for interacting with the ZBD Lightning
 * payments API. It encapsulates the logic for making authenticated HTTP
 * requests to the charge endpoints, handling request body construction,
 * and parsing responses.
 *
 * The client performs no retries; callers decide retry policy.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package zbdclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Charge statuses reported by the gateway.
const (
	ChargeStatusPending   = "pending"
	ChargeStatusCompleted = "completed"
	ChargeStatusExpired   = "expired"
)

// Client is a client for the ZBD API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ZBD API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// fetchChargeRequest is the payload for creating a charge against a
// Lightning address.
type fetchChargeRequest struct {
	LNAddress   string `json:"lnaddress"`
	Amount      string `json:"amount"` // millisats, as a decimal string
	Description string `json:"description,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"` // seconds
}

// ChargeResponse is the envelope returned by the charge endpoints.
type ChargeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID      string `json:"id"`
		Request string `json:"request"` // BOLT11 invoice
		URI     string `json:"uri"`     // lightning: payment URI
		Amount  struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Status      string     `json:"status"`
		CreatedAt   *time.Time `json:"created_at"`
		ExpiresAt   *time.Time `json:"expires_at"`
		ConfirmedAt *time.Time `json:"confirmed_at"`
	} `json:"data"`
}

// ErrorResponse represents a failure reported by the ZBD API, including
// 2xx responses whose success flag is false.
type ErrorResponse struct {
	StatusCode int
	Message    string
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("zbd api error: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("zbd api error (status %d)", e.StatusCode)
}

// CreateCharge requests a Lightning charge payable to the given Lightning
// address. The returned charge carries the gateway-assigned id, the BOLT11
// invoice and payment URI, and the expiry.
func (c *Client) CreateCharge(ctx context.Context, lnAddress string, amount int64, description string, expiry time.Duration) (*ChargeResponse, error) {
	payload := fetchChargeRequest{
		LNAddress:   lnAddress,
		Amount:      strconv.FormatInt(amount*1000, 10), // sats -> millisats
		Description: description,
	}
	if expiry > 0 {
		payload.ExpiresIn = int64(expiry.Seconds())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v0/ln-address/fetch-charge", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.APIKey)

	return c.doCharge(req, "create_charge")
}

// GetCharge fetches the current status of a charge by its gateway id.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*ChargeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v0/charges/"+chargeID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("apikey", c.APIKey)

	return c.doCharge(req, "get_charge")
}

// doCharge executes a charge request and decodes the envelope. Any falsy
// `success` flag is a failure, including on a 2xx response; the gateway
// reports some charge errors with a 200 status and success=false.
func (c *Client) doCharge(req *http.Request, op string) (*ChargeResponse, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	var chargeResp ChargeResponse
	if unmarshalErr := json.Unmarshal(bodyBytes, &chargeResp); unmarshalErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("level=warn component=zbd_client op=%s status=%d msg=\"non-2xx response (unparsable body)\"", op, resp.StatusCode)
			return nil, &ErrorResponse{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", op, unmarshalErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !chargeResp.Success {
		log.Printf("level=warn component=zbd_client op=%s status=%d success=%t message=%q", op, resp.StatusCode, chargeResp.Success, chargeResp.Message)
		return nil, &ErrorResponse{StatusCode: resp.StatusCode, Message: chargeResp.Message}
	}

	return &chargeResp, nil
}
