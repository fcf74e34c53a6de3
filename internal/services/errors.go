package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPhone         = errors.New("invalid phone number format")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrMissingField         = errors.New("missing required field")
	ErrDuplicateReference   = errors.New("reference already used")
	ErrUnknownOutcome       = errors.New("timeout, may still be processing")
	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
	ErrCallbackMalformed    = errors.New("malformed callback")
	ErrStoreUnavailable     = errors.New("transaction store unavailable")
)

// GatewayRejectedError carries the gateway's own explanation. No prompt was
// shown to the customer.
type GatewayRejectedError struct {
	Code        string
	Description string
}

func (e *GatewayRejectedError) Error() string {
	if e.Code == "" {
		return e.Description
	}
	return fmt.Sprintf("%s (%s)", e.Description, e.Code)
}
