package payclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// statusServer answers the status endpoint with the replies in order, repeating
// the last one.
func statusServer(t *testing.T, replies ...func(w http.ResponseWriter)) (*httptest.Server, *int32) {
	t.Helper()
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/payments/status" || r.URL.Query().Get("reference") != "ACT-u1-1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i >= len(replies) {
			i = len(replies) - 1
		}
		replies[i](w)
	}))
	t.Cleanup(srv.Close)
	return srv, &n
}

func reply(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

var (
	notFound  = reply(404, `{"success":false,"status":"NOT_FOUND","error":"Transaction not found"}`)
	queued    = reply(200, `{"success":true,"status":"QUEUED","data":{"client_reference":"ACT-u1-1","status":"PENDING","amount":"100"}}`)
	succeeded = reply(200, `{"success":true,"status":"SUCCESS","data":{"client_reference":"ACT-u1-1","status":"SUCCESS","amount":"100"}}`)
	cancelled = reply(200, `{"success":true,"status":"CANCELLED","data":{"status":"CANCELLED","amount":"100","payload":{"resultDescription":"Request cancelled by user"}}}`)
	failed    = reply(200, `{"success":true,"status":"FAILED","data":{"status":"FAILED","amount":"100"}}`)
	broken    = reply(502, `bad gateway`)
)

func fastClient(url string, budget time.Duration) *Client {
	return New(url, WithInterval(5*time.Millisecond), WithBudget(budget), WithRequestTimeout(time.Second))
}

func TestAwait_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		replies []func(http.ResponseWriter)
		want    Outcome
		msg     string
	}{
		{"success after queue", []func(http.ResponseWriter){notFound, queued, succeeded}, OutcomeSucceeded, "Payment successful."},
		{"cancel with reason", []func(http.ResponseWriter){queued, cancelled}, OutcomeCancelled, "Payment cancelled: Request cancelled by user"},
		{"failure without reason", []func(http.ResponseWriter){failed}, OutcomeFailed, "Payment failed."},
		{"transient errors then success", []func(http.ResponseWriter){broken, notFound, succeeded}, OutcomeSucceeded, "Payment successful."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := statusServer(t, tt.replies...)
			res, err := fastClient(srv.URL, 5*time.Second).Await(context.Background(), "ACT-u1-1")
			if err != nil {
				t.Fatalf("Await: %v", err)
			}
			if res.Outcome != tt.want || res.Message != tt.msg {
				t.Fatalf("got %s %q", res.Outcome, res.Message)
			}
		})
	}
}

func TestAwait_BudgetExhaustedIsTimedOut(t *testing.T) {
	srv, polls := statusServer(t, queued)
	res, err := fastClient(srv.URL, 60*time.Millisecond).Await(context.Background(), "ACT-u1-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if res.Outcome != OutcomeTimedOut || res.Message != timedOutMessage {
		t.Fatalf("got %s %q", res.Outcome, res.Message)
	}
	if atomic.LoadInt32(polls) == 0 {
		t.Fatal("never polled")
	}
}

func TestAwait_NeverFoundIsTimedOut(t *testing.T) {
	srv, _ := statusServer(t, notFound)
	res, err := fastClient(srv.URL, 40*time.Millisecond).Await(context.Background(), "ACT-u1-1")
	if err != nil || res.Outcome != OutcomeTimedOut {
		t.Fatalf("got %+v, %v", res, err)
	}
}

func TestAwait_ContextCancelAbandons(t *testing.T) {
	srv, _ := statusServer(t, queued)
	var started int32
	c := New(srv.URL,
		WithInterval(5*time.Millisecond),
		WithBudget(time.Minute),
		WithRequestTimeout(time.Second),
		WithObserver(func(int, string, error) { atomic.AddInt32(&started, 1) }),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := c.Await(ctx, "ACT-u1-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	after := atomic.LoadInt32(&started)
	if int(after) != res.Polls {
		t.Fatalf("observed %d polls, result says %d", after, res.Polls)
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&started) != after {
		t.Fatal("polling continued after cancellation")
	}
}

func TestAwait_RateLimitedIsTransient(t *testing.T) {
	limited := reply(429, `{"success":false,"error":"rate limit exceeded"}`)
	srv, polls := statusServer(t, limited, limited, succeeded)
	res, err := fastClient(srv.URL, time.Minute).Await(context.Background(), "ACT-u1-1")
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("got %+v, %v", res, err)
	}
	if atomic.LoadInt32(polls) != 3 {
		t.Fatalf("polls = %d, want 3", atomic.LoadInt32(polls))
	}
}

func TestAwait_ClientErrorStops(t *testing.T) {
	srv, _ := statusServer(t, reply(401, `{"success":false,"error":"unauthorized"}`))
	_, err := fastClient(srv.URL, time.Minute).Await(context.Background(), "ACT-u1-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("want 401 APIError, got %v", err)
	}
}

func TestInitiate(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantErr error
		apiErr  bool
	}{
		{"accepted", 200, `{"success":true,"reference":"ACT-u1-1","gatewayCorrelationId":"ws_CO_1","message":"ok"}`, nil, false},
		{"unknown outcome", 504, `{"success":false,"error":"timeout, may still be processing"}`, ErrUnknownOutcome, false},
		{"rejected", 400, `{"success":false,"error":"Bad Request - Invalid PhoneNumber"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("missing bearer token")
				}
				var req InitiateRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber != "0712345678" {
					t.Errorf("bad request body %+v %v", req, err)
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, WithToken("tok"))
			res, err := c.Initiate(context.Background(), InitiateRequest{
				PhoneNumber: "0712345678", Amount: decimal.NewFromInt(100), Reference: "ACT-u1-1",
			})
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
			var apiErr *APIError
			if got := errors.As(err, &apiErr); got != tt.apiErr {
				t.Fatalf("APIError = %v (%v)", got, err)
			}
			if tt.wantErr == nil && !tt.apiErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if res.Reference != "ACT-u1-1" && !tt.apiErr {
				t.Fatalf("reference = %q", res.Reference)
			}
		})
	}
}
