package payclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/baharkarakas/cirqle-payments/internal/models"
)

type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeCancelled
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "timed_out"
	}
}

const timedOutMessage = "Payment may still be processing. If you approved it on your phone it will be confirmed shortly."

type Result struct {
	Outcome     Outcome
	Reference   string
	Status      string
	Message     string
	Polls       int
	Transaction *models.Transaction
}

// Await polls until the payment reaches SUCCESS, FAILED or CANCELLED, or the
// budget is spent. Running out of budget is not a failure: the result is
// OutcomeTimedOut. Cancelling ctx abandons polling and returns ctx.Err().
// 404s, 429s, 5xx and transport errors are retried on the next tick.
func (c *Client) Await(ctx context.Context, reference string) (Result, error) {
	budget := time.NewTimer(c.budget)
	defer budget.Stop()
	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	res := Result{Reference: reference, Status: "QUEUED"}
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-budget.C:
			res.Outcome, res.Message = OutcomeTimedOut, timedOutMessage
			return res, nil
		case <-tick.C:
		}

		res.Polls++
		st, err := c.Status(ctx, reference)
		if c.observe != nil {
			c.observe(res.Polls, st.Status, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if !transient(err) {
				return res, err
			}
			continue
		}
		res.Status, res.Transaction = st.Status, st.Data

		switch st.Status {
		case "SUCCESS":
			res.Outcome, res.Message = OutcomeSucceeded, "Payment successful."
			return res, nil
		case "FAILED":
			res.Outcome, res.Message = OutcomeFailed, withReason("Payment failed", st.Data)
			return res, nil
		case "CANCELLED":
			res.Outcome, res.Message = OutcomeCancelled, withReason("Payment cancelled", st.Data)
			return res, nil
		}
	}
}

// transient reports whether a failed poll is worth repeating. Other 4xx
// answers will not change on their own.
func transient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

func withReason(prefix string, tx *models.Transaction) string {
	if tx != nil {
		if d, ok := tx.Payload["resultDescription"].(string); ok && d != "" {
			return fmt.Sprintf("%s: %s", prefix, d)
		}
	}
	return prefix + "."
}
