package services

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/baharkarakas/cirqle-payments/internal/events"
	"github.com/baharkarakas/cirqle-payments/internal/models"
	"github.com/baharkarakas/cirqle-payments/internal/mpesa"
	repo "github.com/baharkarakas/cirqle-payments/internal/repository"
)

var errMockStore = errors.New("mock store error")

// mockGateway implements Gateway for testing
type mockGateway struct {
	mu       sync.Mutex
	PushFunc func(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
	Calls    []mpesa.PushRequest
}

func (m *mockGateway) STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.PushFunc != nil {
		return m.PushFunc(ctx, req)
	}
	return &mpesa.PushResponse{ResponseCode: "0", CheckoutRequestID: "ws_CO_" + req.Reference, CustomerMessage: "Success"}, nil
}

func acceptingGateway() *mockGateway { return &mockGateway{} }

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (models.Transaction, error) {
	return models.Transaction{}, errMockStore
}

func (failingStore) Upsert(context.Context, string, repo.Mutator) (models.Transaction, error) {
	return models.Transaction{}, errMockStore
}

// recordingPublisher captures settlements.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Settlement
	err    error
}

func (r *recordingPublisher) PublishSettlement(_ context.Context, s events.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) Events() []events.Settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Settlement(nil), r.events...)
}

func callbackJSON(ref string, code int, desc string) []byte {
	if code == 0 {
		return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_` + ref + `",` +
			`"ResultCode":0,"ResultDesc":"` + desc + `","CallbackMetadata":{"Item":[` +
			`{"Name":"Amount","Value":100},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},` +
			`{"Name":"TransactionDate","Value":20240301123000},{"Name":"PhoneNumber","Value":254712345678},` +
			`{"Name":"AccountReference","Value":"` + ref + `"}]}}}}`)
	}
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_` + ref + `",` +
		`"ResultCode":` + strconv.Itoa(code) + `,"ResultDesc":"` + desc + `","AccountReference":"` + ref + `"}}}`)
}
