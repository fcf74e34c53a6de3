package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/metrics"
	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/mpesa"
	"github.com/baharkarakas/cirqle-payments/internal/phone"
	"github.com/baharkarakas/cirqle-payments/internal/reference"
	repo "github.com/baharkarakas/cirqle-payments/internal/repository"
)

// Gateway is the subset of the Daraja client the initiator needs.
type Gateway interface {
	STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
}

const (
	defaultGatewayTimeout = 20 * time.Second
	storeWriteTimeout     = 5 * time.Second
)

type InitiateRequest struct {
	Phone     string
	Amount    decimal.Decimal
	Reference string
	// Purpose and SubjectID generate the reference when Reference is empty.
	Purpose   string
	SubjectID string
}

type InitiateResult struct {
	Reference       string
	CorrelationID   string
	Amount          decimal.Decimal
	Phone           string
	CustomerMessage string
}

type PaymentService struct {
	trx     repo.Transactions
	log     repo.AuditLogs
	gw      Gateway
	timeout time.Duration
	now     func() time.Time
}

// NewPaymentService accepts a nil gateway; Initiate then fails with
// ErrGatewayNotConfigured instead of the process refusing to start.
func NewPaymentService(t repo.Transactions, l repo.AuditLogs, gw Gateway) *PaymentService {
	return &PaymentService{trx: t, log: l, gw: gw, timeout: defaultGatewayTimeout, now: time.Now}
}

// WithTimeout bounds each gateway round-trip.
func (s *PaymentService) WithTimeout(d time.Duration) *PaymentService {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Initiate validates the request, asks the gateway to prompt the handset and
// writes the PENDING row. On ErrUnknownOutcome the returned result is still
// populated and the row is still written: the callback may yet arrive.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	ref := req.Reference
	if ref == "" && req.Purpose != "" {
		ref = reference.New(req.Purpose, req.SubjectID)
	}
	if ref == "" {
		metrics.STKPushTotal.WithLabelValues("invalid").Inc()
		return InitiateResult{}, fmt.Errorf("%w: reference", ErrMissingField)
	}
	if req.Phone == "" {
		metrics.STKPushTotal.WithLabelValues("invalid").Inc()
		return InitiateResult{}, fmt.Errorf("%w: phoneNumber", ErrMissingField)
	}
	msisdn, err := phone.Normalize(req.Phone)
	if err != nil {
		metrics.STKPushTotal.WithLabelValues("invalid").Inc()
		return InitiateResult{}, ErrInvalidPhone
	}
	if !req.Amount.IsPositive() {
		metrics.STKPushTotal.WithLabelValues("invalid").Inc()
		return InitiateResult{}, ErrInvalidAmount
	}
	// the gateway only takes whole shillings
	amount := req.Amount.Ceil()

	if s.gw == nil {
		return InitiateResult{}, ErrGatewayNotConfigured
	}

	switch _, err := s.trx.Get(ctx, ref); {
	case err == nil:
		return InitiateResult{}, fmt.Errorf("%w: %s", ErrDuplicateReference, ref)
	case !errors.Is(err, repo.ErrNotFound):
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	res := InitiateResult{Reference: ref, Amount: amount, Phone: msisdn}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	resp, err := s.gw.STKPush(gctx, mpesa.PushRequest{
		Phone:     msisdn,
		Amount:    amount.IntPart(),
		Reference: ref,
	})
	cancel()
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		var rej *mpesa.RejectedError
		if errors.As(err, &rej) {
			metrics.STKPushTotal.WithLabelValues("rejected").Inc()
			slog.Warn("stk push rejected", "ref", ref, "stage", rej.Stage, "code", rej.Code, "desc", rej.Description)
			return InitiateResult{}, &GatewayRejectedError{Code: rej.Code, Description: rej.Description}
		}
		metrics.STKPushTotal.WithLabelValues("unknown").Inc()
		slog.Warn("stk push outcome unknown", "ref", ref, "err", err)
		if werr := s.writePending(ctx, ref, amount, msisdn, ""); werr != nil {
			slog.Error("write-ahead after unknown outcome failed", "ref", ref, "err", werr)
		}
		return res, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}

	metrics.STKPushTotal.WithLabelValues("accepted").Inc()
	res.CorrelationID = resp.CheckoutRequestID
	res.CustomerMessage = resp.CustomerMessage
	if err := s.writePending(ctx, ref, amount, msisdn, resp.CheckoutRequestID); err != nil {
		// the prompt is already on the phone; the callback will create the row lazily
		slog.Error("write-ahead failed", "ref", ref, "err", err)
	}
	slog.Info("stk push accepted", "ref", ref, "checkout_id", resp.CheckoutRequestID, "amount", amount.String())
	return res, nil
}

// writePending survives a disconnected caller: the gateway call already happened.
func (s *PaymentService) writePending(ctx context.Context, ref string, amount decimal.Decimal, msisdn, correlationID string) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	_, err := s.trx.Upsert(wctx, ref, pendingMutator(amount, msisdn, correlationID, s.now()))
	if err != nil {
		return err
	}
	s.audit(wctx, ref, models.AuditInitiated, map[string]any{
		"amount":        amount.String(),
		"phone":         msisdn,
		"correlationId": correlationID,
	})
	return nil
}

// pendingMutator creates the PENDING row. If a fast callback got there first
// the status is left alone and only what the callback could not know is filled.
func pendingMutator(amount decimal.Decimal, msisdn, correlationID string, now time.Time) repo.Mutator {
	return func(cur models.Transaction, exists bool) (models.Transaction, bool, error) {
		if !exists {
			return models.Transaction{
				Status:               models.TxnPending,
				GatewayCorrelationID: correlationID,
				Amount:               amount,
				Phone:                msisdn,
				CreatedAt:            now,
				UpdatedAt:            now,
			}, true, nil
		}
		changed := false
		if cur.Amount.IsZero() {
			cur.Amount, changed = amount, true
		}
		if cur.Phone == "" && msisdn != "" {
			cur.Phone, changed = msisdn, true
		}
		if cur.GatewayCorrelationID == "" && correlationID != "" {
			cur.GatewayCorrelationID, changed = correlationID, true
		}
		if changed {
			cur.UpdatedAt = now
		}
		return cur, changed, nil
	}
}

func (s *PaymentService) audit(ctx context.Context, ref, action string, details map[string]any) {
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
