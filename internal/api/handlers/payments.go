package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/api/httpx"
	"github.com/baharkarakas/cirqle-payments/internal/api/validate"
	"github.com/baharkarakas/cirqle-payments/internal/middleware"
	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/services"
)

type PaymentHandler struct {
	Payments *services.PaymentService
	Status   *services.StatusService
}

func NewPaymentHandler(p *services.PaymentService, s *services.StatusService) *PaymentHandler {
	return &PaymentHandler{Payments: p, Status: s}
}

type initiateReq struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Purpose     string          `json:"purpose,omitempty"`
}

type initiateResp struct {
	Success              bool   `json:"success"`
	Reference            string `json:"reference,omitempty"`
	GatewayCorrelationID string `json:"gatewayCorrelationId,omitempty"`
	Message              string `json:"message,omitempty"`
	Error                string `json:"error,omitempty"`
	Code                 string `json:"code,omitempty"`
}

// Initiate: POST /api/v1/payments/stk-push
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	var errs validate.Errs
	errs = errs.Add(
		validate.Required("phoneNumber", req.PhoneNumber),
		validate.Phone("phoneNumber", req.PhoneNumber),
		validate.Positive("amount", req.Amount),
	)
	if req.Purpose == "" {
		errs = errs.Add(validate.Required("reference", req.Reference))
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", errs.Error(), errs)
		return
	}

	user := middleware.FromCtx(r.Context())
	res, err := h.Payments.Initiate(r.Context(), services.InitiateRequest{
		Phone:     req.PhoneNumber,
		Amount:    req.Amount,
		Reference: strings.TrimSpace(req.Reference),
		Purpose:   req.Purpose,
		SubjectID: user.UserID,
	})
	if err != nil {
		h.initiateError(w, r, res, err)
		return
	}
	msg := res.CustomerMessage
	if msg == "" {
		msg = "STK push sent. Enter your M-Pesa PIN to complete payment."
	}
	httpx.WriteJSON(w, http.StatusOK, initiateResp{
		Success:              true,
		Reference:            res.Reference,
		GatewayCorrelationID: res.CorrelationID,
		Message:              msg,
	})
}

func (h *PaymentHandler) initiateError(w http.ResponseWriter, r *http.Request, res services.InitiateResult, err error) {
	var rej *services.GatewayRejectedError
	switch {
	case errors.Is(err, services.ErrUnknownOutcome):
		// the caller should poll the reference anyway
		httpx.WriteJSON(w, http.StatusGatewayTimeout, initiateResp{
			Reference: res.Reference,
			Error:     services.ErrUnknownOutcome.Error(),
			Code:      "unknown_outcome",
		})
	case errors.As(err, &rej):
		httpx.WriteError(w, http.StatusBadRequest, "gateway_rejected", rej.Description, nil)
	case errors.Is(err, services.ErrInvalidPhone):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_phone", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrMissingField):
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, services.ErrDuplicateReference):
		httpx.WriteError(w, http.StatusConflict, "duplicate_reference", err.Error(), nil)
	case errors.Is(err, services.ErrGatewayNotConfigured):
		slog.Error("stk push refused: gateway not configured", "request_id", middleware.RequestIDFrom(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "gateway_not_configured", "server configuration error", nil)
	default:
		slog.Error("stk push failed", "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

type statusResp struct {
	Success bool                `json:"success"`
	Status  string              `json:"status"`
	Data    *models.Transaction `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    string              `json:"code,omitempty"`
}

// GetStatus: GET /api/v1/payments/status?reference=
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("reference")
	if ef := validate.Required("reference", ref); ef != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "reference is required", validate.Errs{*ef})
		return
	}
	res, err := h.Status.Query(r.Context(), ref)
	if err != nil {
		slog.Error("status query failed", "ref", ref, "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "store_unavailable", "could not read transaction status", nil)
		return
	}
	if !res.Found {
		httpx.WriteJSON(w, http.StatusNotFound, statusResp{
			Status: services.StatusNotFound,
			Error:  "Transaction not found",
			Code:   "not_found",
		})
		return
	}
	tx := res.Transaction
	httpx.WriteJSON(w, http.StatusOK, statusResp{Success: true, Status: res.Status, Data: &tx})
}
