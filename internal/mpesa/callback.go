package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedCallback = errors.New("mpesa: malformed stk callback")

// Result codes with a meaning of their own. Everything else non-zero is a failure.
const (
	ResultSuccess       = 0
	ResultCancelled     = 1
	ResultUserCancelled = 1032
)

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type STKCallback struct {
	MerchantRequestID string   `json:"MerchantRequestID"`
	CheckoutRequestID string   `json:"CheckoutRequestID"`
	ResultCode        *flexInt `json:"ResultCode"`
	ResultDesc        string   `json:"ResultDesc"`
	AccountReference  string   `json:"AccountReference,omitempty"`
	CallbackMetadata  struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// flexInt accepts 1032 as well as "1032"; both have been seen on the wire.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("result code %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// ParseCallback decodes the webhook envelope. Numbers in the metadata are kept
// as json.Number so long phone numbers survive intact.
func ParseCallback(raw []byte) (*STKCallback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	return cb, nil
}

func (c *STKCallback) Code() int {
	if c.ResultCode == nil {
		return -1
	}
	return int(*c.ResultCode)
}

// Metadata flattens CallbackMetadata.Item into name -> value.
func (c *STKCallback) Metadata() map[string]any {
	m := make(map[string]any, len(c.CallbackMetadata.Item))
	for _, it := range c.CallbackMetadata.Item {
		if it.Name != "" && it.Value != nil {
			m[it.Name] = it.Value
		}
	}
	return m
}

// Item returns a metadata value as a string, "" when absent.
func (c *STKCallback) Item(name string) string {
	for _, it := range c.CallbackMetadata.Item {
		if it.Name == name && it.Value != nil {
			return strings.TrimSpace(fmt.Sprint(it.Value))
		}
	}
	return ""
}

// Reference finds the merchant's client reference. Successful callbacks carry
// it in the metadata; failures usually only at the top level.
func (c *STKCallback) Reference() string {
	meta, top := c.Item("AccountReference"), strings.TrimSpace(c.AccountReference)
	if c.Code() == ResultSuccess {
		if meta != "" {
			return meta
		}
		return top
	}
	if top != "" {
		return top
	}
	return meta
}
