package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/events"
	"github.com/baharkarakas/cirqle-payments/internal/metrics"
	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/mpesa"
	"github.com/baharkarakas/cirqle-payments/internal/phone"
	"github.com/baharkarakas/cirqle-payments/internal/reference"
	repo "github.com/baharkarakas/cirqle-payments/internal/repository"
	"github.com/baharkarakas/cirqle-payments/internal/worker"
)

const publishTimeout = 10 * time.Second

// Outcome describes what a single callback delivery did to the store.
type Outcome struct {
	Reference string
	Status    models.TransactionStatus
	Created   bool // no initiator row existed
	Duplicate bool // row was already terminal, nothing changed
}

type CallbackService struct {
	trx repo.Transactions
	log repo.AuditLogs
	pub events.Publisher
	wp  *worker.Pool
	now func() time.Time
}

func NewCallbackService(t repo.Transactions, l repo.AuditLogs, pub events.Publisher, wp *worker.Pool) *CallbackService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &CallbackService{trx: t, log: l, pub: pub, wp: wp, now: time.Now}
}

// StatusForCode maps a gateway result code to a terminal status.
func StatusForCode(code int) models.TransactionStatus {
	switch code {
	case mpesa.ResultSuccess:
		return models.TxnSuccess
	case mpesa.ResultCancelled, mpesa.ResultUserCancelled:
		return models.TxnCancelled
	default:
		return models.TxnFailed
	}
}

// callbackUpdate is everything a delivery contributes to the row.
type callbackUpdate struct {
	status        models.TransactionStatus
	correlationID string
	amount        decimal.Decimal
	phone         string
	payload       map[string]any
}

// Receive applies one webhook delivery. Errors are for logging only; the HTTP
// layer acknowledges every delivery regardless.
func (s *CallbackService) Receive(ctx context.Context, raw []byte) (Outcome, error) {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		metrics.CallbacksRejected.WithLabelValues("malformed").Inc()
		slog.Warn("callback ignored: unparseable", "err", err)
		return Outcome{}, fmt.Errorf("%w: %v", ErrCallbackMalformed, err)
	}
	ref := cb.Reference()
	if ref == "" {
		metrics.CallbacksRejected.WithLabelValues("no_reference").Inc()
		slog.Warn("callback ignored: no account reference",
			"checkout_id", cb.CheckoutRequestID, "result_code", cb.Code())
		return Outcome{}, fmt.Errorf("%w: no account reference", ErrCallbackMalformed)
	}

	upd := updateFromCallback(cb, ref)
	out := Outcome{Reference: ref, Status: upd.status}

	saved, err := s.trx.Upsert(ctx, ref, func(cur models.Transaction, exists bool) (models.Transaction, bool, error) {
		out.Created, out.Duplicate = !exists, exists && cur.Status.Terminal()
		return applyCallback(cur, exists, upd, s.now())
	})
	if err != nil {
		metrics.CallbacksRejected.WithLabelValues("store").Inc()
		slog.Error("callback not persisted", "ref", ref, "status", upd.status, "err", err)
		return out, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	out.Status = saved.Status

	if out.Duplicate {
		metrics.CallbacksDuplicate.Inc()
		slog.Info("duplicate callback ignored", "ref", ref, "stored", saved.Status, "incoming", upd.status)
		s.audit(ctx, ref, models.AuditCallbackDuplicate, map[string]any{
			"incomingStatus": string(upd.status),
			"storedStatus":   string(saved.Status),
			"resultCode":     cb.Code(),
		})
		return out, nil
	}

	metrics.CallbacksTotal.WithLabelValues(string(saved.Status)).Inc()
	purpose := purposeOf(ref)
	slog.Info("callback applied", "ref", ref, "purpose", purpose, "status", saved.Status, "created", out.Created)
	s.audit(ctx, ref, models.AuditCallbackApplied, map[string]any{
		"status":     string(saved.Status),
		"resultCode": cb.Code(),
		"resultDesc": cb.ResultDesc,
		"created":    out.Created,
		"metadata":   cb.Metadata(),
	})
	s.publish(events.Settlement{
		Reference:     ref,
		Purpose:       purpose,
		Status:        string(saved.Status),
		Amount:        saved.Amount,
		Phone:         saved.Phone,
		Receipt:       cb.Item("MpesaReceiptNumber"),
		ResultCode:    cb.Code(),
		ResultDesc:    cb.ResultDesc,
		CorrelationID: saved.GatewayCorrelationID,
		SettledAt:     saved.UpdatedAt,
	})
	return out, nil
}

// applyCallback is the single place a status changes. Terminal rows absorb.
func applyCallback(cur models.Transaction, exists bool, upd callbackUpdate, now time.Time) (models.Transaction, bool, error) {
	if !exists {
		return models.Transaction{
			Status:               upd.status,
			GatewayCorrelationID: upd.correlationID,
			Amount:               upd.amount,
			Phone:                upd.phone,
			Payload:              upd.payload,
			CreatedAt:            now,
			UpdatedAt:            now,
		}, true, nil
	}
	if cur.Status.Terminal() {
		return cur, false, nil
	}
	cur.Status = upd.status
	cur.MergePayload(upd.payload)
	if cur.GatewayCorrelationID == "" {
		cur.GatewayCorrelationID = upd.correlationID
	}
	cur.UpdatedAt = now
	return cur, true, nil
}

func updateFromCallback(cb *mpesa.STKCallback, ref string) callbackUpdate {
	upd := callbackUpdate{
		status:        StatusForCode(cb.Code()),
		correlationID: cb.CheckoutRequestID,
		payload: map[string]any{
			"resultCode":        cb.Code(),
			"resultDescription": cb.ResultDesc,
			"merchantRequestID": cb.MerchantRequestID,
			"checkoutRequestID": cb.CheckoutRequestID,
			"clientReference":   ref,
		},
	}
	for name, key := range map[string]string{
		"Amount":             "amount",
		"MpesaReceiptNumber": "mpesaReceiptNumber",
		"Balance":            "balance",
		"TransactionDate":    "transactionDate",
		"PhoneNumber":        "phoneNumber",
	} {
		if v := cb.Item(name); v != "" {
			upd.payload[key] = v
		}
	}
	if a, err := decimal.NewFromString(cb.Item("Amount")); err == nil {
		upd.amount = a
	}
	if p, err := phone.Normalize(cb.Item("PhoneNumber")); err == nil {
		upd.phone = p
	}
	return upd
}

// purposeOf returns the purpose tag of a reference built by reference.New, or
// "" for references from elsewhere.
func purposeOf(ref string) string {
	p, err := reference.Parse(ref)
	if err != nil {
		return ""
	}
	return p.Purpose
}

func (s *CallbackService) publish(ev events.Settlement) {
	job := func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.pub.PublishSettlement(ctx, ev); err != nil {
			metrics.SettlementPublishFailed.Inc()
			slog.Error("settlement event not published", "ref", ev.Reference, "err", err)
		}
	}
	if s.wp == nil {
		job()
		return
	}
	if !s.wp.Submit(job) {
		metrics.SettlementPublishFailed.Inc()
		slog.Error("settlement event dropped: worker queue unavailable", "ref", ev.Reference)
	}
}

func (s *CallbackService) audit(ctx context.Context, ref, action string, details map[string]any) {
	if s.log == nil {
		return
	}
	if err := s.log.Create(ctx, models.AuditLog{
		EntityType: "transaction",
		EntityID:   &ref,
		Action:     action,
		Details:    details,
	}); err != nil {
		slog.Warn("audit log write failed", "ref", ref, "action", action, "err", err)
	}
}
