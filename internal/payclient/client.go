// Package payclient is the caller side of the payment API: it starts an STK
// push and then polls the status endpoint until the payment settles or the
// polling budget runs out.
package payclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/models"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultBudget         = 300 * time.Second
	DefaultRequestTimeout = 20 * time.Second
)

var (
	// ErrNotFound means the server has no record yet. While polling it is transient.
	ErrNotFound = errors.New("payment not found")
	// ErrUnknownOutcome is returned by Initiate when the server could not tell
	// whether the prompt reached the phone. Polling is still the right move.
	ErrUnknownOutcome = errors.New("payment may still be processing")
)

// APIError is a non-2xx answer the client does not treat as transient.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api %d: %s", e.StatusCode, e.Message)
}

type InitiateRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	Purpose     string          `json:"purpose,omitempty"`
}

type InitiateResponse struct {
	Success              bool   `json:"success"`
	Reference            string `json:"reference"`
	GatewayCorrelationID string `json:"gatewayCorrelationId"`
	Message              string `json:"message"`
	Error                string `json:"error"`
}

type StatusResponse struct {
	Success bool                `json:"success"`
	Status  string              `json:"status"`
	Data    *models.Transaction `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	interval time.Duration
	budget   time.Duration
	reqTO    time.Duration
	observe  func(attempt int, status string, err error)
}

type Option func(*Client)

func WithToken(tok string) Option { return func(c *Client) { c.token = tok } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithInterval(d time.Duration) Option { return func(c *Client) { c.interval = d } }
func WithBudget(d time.Duration) Option { return func(c *Client) { c.budget = d } }
func WithRequestTimeout(d time.Duration) Option { return func(c *Client) { c.reqTO = d } }

// WithObserver is called after every poll, e.g. to drive a spinner.
func WithObserver(fn func(attempt int, status string, err error)) Option {
	return func(c *Client) { c.observe = fn }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		interval: DefaultInterval,
		budget:   DefaultBudget,
		reqTO:    DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initiate starts an STK push. On ErrUnknownOutcome the response still carries
// the reference to poll.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return InitiateResponse{}, err
	}
	var out InitiateResponse
	code, err := c.do(ctx, http.MethodPost, "/api/v1/payments/stk-push", body, &out)
	if err != nil {
		return InitiateResponse{}, err
	}
	switch {
	case code == http.StatusGatewayTimeout:
		if out.Reference == "" {
			out.Reference = req.Reference
		}
		return out, ErrUnknownOutcome
	case code >= 300 || !out.Success:
		return out, &APIError{StatusCode: code, Message: out.Error}
	}
	return out, nil
}

// Status asks once. A 404 is reported as ErrNotFound with Status NOT_FOUND.
func (c *Client) Status(ctx context.Context, reference string) (StatusResponse, error) {
	var out StatusResponse
	code, err := c.do(ctx, http.MethodGet, "/api/v1/payments/status?reference="+url.QueryEscape(reference), nil, &out)
	if err != nil {
		return StatusResponse{}, err
	}
	switch {
	case code == http.StatusNotFound:
		out.Status = "NOT_FOUND"
		return out, ErrNotFound
	case code >= 300:
		return out, &APIError{StatusCode: code, Message: out.Error}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, into any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reqTO)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, into); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
