package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "PENDING"
	TxnSuccess   TransactionStatus = "SUCCESS"
	TxnFailed    TransactionStatus = "FAILED"
	TxnCancelled TransactionStatus = "CANCELLED"
)

// Terminal reports whether s absorbs further callbacks.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TxnSuccess, TxnFailed, TxnCancelled:
		return true
	}
	return false
}

// Transaction is the single record kept per client reference.
type Transaction struct {
	ClientReference      string            `json:"client_reference"`
	Status               TransactionStatus `json:"status"`
	GatewayCorrelationID string            `json:"gateway_correlation_id,omitempty"`
	Amount               decimal.Decimal   `json:"amount"`
	Phone                string            `json:"phone,omitempty"`
	Payload              map[string]any    `json:"payload,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// MergePayload copies gateway metadata into t.Payload, keeping existing keys
// that src does not carry.
func (t *Transaction) MergePayload(src map[string]any) {
	if len(src) == 0 {
		return
	}
	if t.Payload == nil {
		t.Payload = make(map[string]any, len(src))
	}
	for k, v := range src {
		t.Payload[k] = v
	}
}
