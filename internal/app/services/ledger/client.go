package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/inecat/mapads/pkg/logger"
)

// Client talks to an external balance service over HTTP. It satisfies the
// same gateway contract as the in-process Service.
type Client struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewClient constructs a client for the given endpoint.
func NewClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ledger endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("ledger-client")
	}
	return &Client{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// Has asks the balance service whether the user holds at least amount.
func (c *Client) Has(ctx context.Context, userID string, amount int64) (bool, error) {
	requestURL := c.endpoint.JoinPath("balance")
	q := requestURL.Query()
	q.Set("user", userID)
	q.Set("amount", strconv.FormatInt(amount, 10))
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return false, fmt.Errorf("build balance request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("balance request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("balance status %d", resp.StatusCode)
	}

	var payload struct {
		Sufficient bool `json:"sufficient"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode balance response: %w", err)
	}
	return payload.Sufficient, nil
}

// Withdraw removes amount from the user's balance.
func (c *Client) Withdraw(ctx context.Context, userID string, amount int64) error {
	return c.post(ctx, "withdraw", userID, amount)
}

// Deposit adds amount to the user's balance.
func (c *Client) Deposit(ctx context.Context, userID string, amount int64) error {
	return c.post(ctx, "deposit", userID, amount)
}

func (c *Client) post(ctx context.Context, action, userID string, amount int64) error {
	body, err := json.Marshal(map[string]any{"user": userID, "amount": amount})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.JoinPath(action).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", action, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusPaymentRequired, http.StatusConflict:
		return fmt.Errorf("%s for %s: %w", action, userID, ErrInsufficientFunds)
	default:
		return fmt.Errorf("%s status %d", action, resp.StatusCode)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
