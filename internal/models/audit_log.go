package models

import "time"

// Audit actions recorded against a transaction.
const (
	AuditInitiated         = "initiated"
	AuditCallbackApplied   = "callback_applied"
	AuditCallbackDuplicate = "callback_duplicate"
)

type AuditLog struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}
