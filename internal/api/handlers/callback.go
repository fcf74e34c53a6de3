package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/cirqle-payments/internal/api/httpx"
	"github.com/baharkarakas/cirqle-payments/internal/metrics"
	"github.com/baharkarakas/cirqle-payments/internal/middleware"
	"github.com/baharkarakas/cirqle-payments/internal/services"
)

const callbackTimeout = 10 * time.Second

type CallbackHandler struct {
	Svc *services.CallbackService
	// Token, when set, must match the {token} path segment or ?token=.
	Token string
}

func NewCallbackHandler(svc *services.CallbackService, token string) *CallbackHandler {
	return &CallbackHandler{Svc: svc, Token: token}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var accepted = callbackAck{ResultCode: 0, ResultDesc: "Accepted"}

// Receive: POST /api/v1/payments/callback[/{token}]. The gateway always gets
// 200 and ResultCode 0, whatever happened; anything else makes it redeliver.
func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFrom(r.Context())

	if !h.authorized(r) {
		metrics.CallbacksRejected.WithLabelValues("token").Inc()
		slog.Warn("callback ignored: token mismatch", "remote", r.RemoteAddr, "request_id", reqID)
		httpx.WriteJSON(w, http.StatusOK, accepted)
		return
	}

	raw, err := httpx.ReadBody(r)
	if err != nil {
		slog.Warn("callback body unreadable", "err", err, "request_id", reqID)
		httpx.WriteJSON(w, http.StatusOK, accepted)
		return
	}

	// the gateway may hang up early; the write must still happen
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callbackTimeout)
	defer cancel()
	out, err := h.Svc.Receive(ctx, raw)
	if err != nil {
		slog.Warn("callback not applied", "ref", out.Reference, "err", err, "request_id", reqID)
	}
	httpx.WriteJSON(w, http.StatusOK, accepted)
}

func (h *CallbackHandler) authorized(r *http.Request) bool {
	if h.Token == "" {
		return true
	}
	got := chi.URLParam(r, "token")
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) == 1
}
