// Package mpesa is a small Daraja client: OAuth client-credentials, Lipa na
// M-Pesa Online (STK push) and the STK callback envelope.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/baharkarakas/cirqle-payments/internal/config"
)

const (
	SandboxURL = "https://sandbox.safaricom.co.ke"
	LiveURL    = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

// Nairobi has no DST, a fixed zone avoids depending on tzdata in the image.
var eat = time.FixedZone("EAT", 3*60*60)

// ErrUnknownOutcome means the push request may or may not have reached the
// handset. The caller must not treat it as a failure.
var ErrUnknownOutcome = errors.New("mpesa: push outcome unknown")

// RejectedError is an explicit refusal by the gateway. Nothing was sent to the phone.
type RejectedError struct {
	Stage       string // "auth" or "push"
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("mpesa %s rejected: %s", e.Stage, e.Description)
	}
	return fmt.Sprintf("mpesa %s rejected (%s): %s", e.Stage, e.Code, e.Description)
}

type PushRequest struct {
	Phone       string // canonical 254XXXXXXXXX
	Amount      int64  // whole shillings
	Reference   string
	Description string
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// errorBody is what Daraja returns on 4xx/5xx.
type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type Client struct {
	cfg     config.Mpesa
	baseURL string
	http    *http.Client
	tokens  *tokenSource
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithBaseURL overrides the environment-derived base URL (tests, proxies).
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient validates cfg and returns a client bound to the sandbox or live host.
func NewClient(cfg config.Mpesa, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		baseURL: BaseURL(cfg.Env),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.tokens = newTokenSource(c.fetchToken, c.now)
	return c, nil
}

func BaseURL(env string) string {
	if env == "live" || env == "production" {
		return LiveURL
	}
	return SandboxURL
}

// Timestamp renders t in Nairobi time as YYYYMMDDHHmmss.
func Timestamp(t time.Time) string { return t.In(eat).Format(timestampLayout) }

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// STKPush asks the gateway to prompt the handset. An accepted response only
// means the prompt was queued; the result arrives on the callback URL.
func (c *Client) STKPush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.now())
	desc := req.Description
	if desc == "" {
		desc = "Payment for " + req.Reference
	}
	body, err := json.Marshal(stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   transactionType,
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   desc,
	})
	if err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Authorization", "Bearer "+token)
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(hreq)
	if err != nil {
		// timeouts included: the request may have been delivered
		return nil, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnknownOutcome, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: gateway status %d", ErrUnknownOutcome, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.ErrorMessage != "" {
			return nil, &RejectedError{Stage: "push", Code: eb.ErrorCode, Description: eb.ErrorMessage}
		}
		return nil, &RejectedError{Stage: "push", Code: strconv.Itoa(resp.StatusCode), Description: http.StatusText(resp.StatusCode)}
	}

	var out PushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnknownOutcome, err)
	}
	if out.ResponseCode != "0" {
		d := out.ResponseDescription
		if d == "" {
			d = out.CustomerMessage
		}
		if d == "" {
			d = "STK push was not accepted"
		}
		return nil, &RejectedError{Stage: "push", Code: out.ResponseCode, Description: d}
	}
	return &out, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// fetchToken performs the client-credentials exchange. Any failure here is a
// rejection: nothing has been sent to the handset yet.
func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, &RejectedError{Stage: "auth", Description: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.ErrorMessage != "" {
			return "", 0, &RejectedError{Stage: "auth", Code: eb.ErrorCode, Description: eb.ErrorMessage}
		}
		return "", 0, &RejectedError{Stage: "auth", Code: strconv.Itoa(resp.StatusCode), Description: "access token request failed"}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil || tr.AccessToken == "" {
		return "", 0, &RejectedError{Stage: "auth", Description: "malformed access token response"}
	}
	ttl := time.Hour
	if n, err := strconv.Atoi(tr.ExpiresIn); err == nil && n > 0 {
		ttl = time.Duration(n) * time.Second
	}
	return tr.AccessToken, ttl, nil
}
