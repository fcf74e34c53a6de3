package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/mpesa"
	"github.com/baharkarakas/cirqle-payments/internal/repository/memory"
)

// End-to-end flows through initiator, receiver and query over one store.
func TestPaymentFlows(t *testing.T) {
	tests := []struct {
		name       string
		push       func(context.Context, mpesa.PushRequest) (*mpesa.PushResponse, error)
		noInitiate bool
		callbacks  []int // result codes delivered after initiation
		wantErr    error
		before     string // status before any callback
		after      string
	}{
		{name: "happy path", callbacks: []int{0}, before: StatusQueued, after: StatusSuccess},
		{name: "user cancels", callbacks: []int{1032}, before: StatusQueued, after: StatusCancelled},
		{name: "result code 1", callbacks: []int{1}, before: StatusQueued, after: StatusCancelled},
		{name: "failure then retried success", callbacks: []int{2001, 0}, before: StatusQueued, after: StatusFailed},
		{name: "callback never arrives", before: StatusQueued, after: StatusQueued},
		{
			name: "push timeout then success",
			push: func(context.Context, mpesa.PushRequest) (*mpesa.PushResponse, error) {
				return nil, mpesa.ErrUnknownOutcome
			},
			callbacks: []int{0},
			wantErr:   ErrUnknownOutcome,
			before:    StatusQueued,
			after:     StatusSuccess,
		},
		{
			name:       "callback for a reference never initiated",
			noInitiate: true,
			callbacks:  []int{0, 0},
			before:     StatusNotFound,
			after:      StatusSuccess,
		},
		{
			name: "gateway rejects",
			push: func(context.Context, mpesa.PushRequest) (*mpesa.PushResponse, error) {
				return nil, &mpesa.RejectedError{Stage: "push", Description: "Bad Request - Invalid PhoneNumber"}
			},
			before: StatusNotFound,
			after:  StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, logs := memory.NewTransactions(), memory.NewAuditLogs()
			pay := NewPaymentService(store, logs, &mockGateway{PushFunc: tt.push})
			cbs := NewCallbackService(store, logs, nil, nil)
			st := NewStatusService(store)
			ref := "ACT-u1-1700000000000"

			var err error
			if !tt.noInitiate {
				_, err = pay.Initiate(ctx, InitiateRequest{Phone: "0712345678", Amount: decimal.NewFromInt(100), Reference: ref})
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Initiate: want %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				var rej *GatewayRejectedError
				if !errors.As(err, &rej) {
					t.Fatalf("Initiate: %v", err)
				}
			}

			res, err := st.Query(ctx, ref)
			if err != nil || res.Status != tt.before {
				t.Fatalf("before callbacks: %+v, %v", res, err)
			}
			for i, code := range tt.callbacks {
				out, err := cbs.Receive(ctx, callbackJSON(ref, code, "x"))
				if err != nil {
					t.Fatalf("callback %d: %v", i, err)
				}
				if tt.noInitiate && out.Created != (i == 0) {
					t.Fatalf("callback %d: created = %v", i, out.Created)
				}
			}
			if tt.noInitiate && store.Len() != 1 {
				t.Fatalf("rows = %d, want 1", store.Len())
			}
			res, err = st.Query(ctx, ref)
			if err != nil || res.Status != tt.after {
				t.Fatalf("after callbacks: %+v, %v", res, err)
			}
		})
	}
}
