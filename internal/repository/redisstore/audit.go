package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/baharkarakas/cirqle-payments/internal/models"
)

const (
	auditPrefix = "audit:"
	// per-entity trail is capped; Postgres is the backend for long-term audit
	auditCap = 200
)

type AuditLogs struct {
	rdb *redis.Client
}

func NewAuditLogs(rdb *redis.Client) *AuditLogs { return &AuditLogs{rdb: rdb} }

func (a *AuditLogs) Create(ctx context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	k := auditPrefix + l.EntityType
	if l.EntityID != nil {
		k += ":" + *l.EntityID
	}
	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, b)
		pipe.LTrim(ctx, k, -auditCap, -1)
		return nil
	})
	return err
}

// List returns the trail for one entity, oldest first.
func (a *AuditLogs) List(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	raw, err := a.rdb.LRange(ctx, auditPrefix+entityType+":"+entityID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.AuditLog, 0, len(raw))
	for _, s := range raw {
		var l models.AuditLog
		if err := json.Unmarshal([]byte(s), &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
