package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clinicrooms/internal/domain"

	"github.com/google/uuid"
)

const ProviderFake = "fake"

// FakeProvider keeps intents in memory. It backs local runs and tests.
type FakeProvider struct {
	mu        sync.Mutex
	intents   map[string]*domain.Intent
	byIdemKey map[string]string
	// FailCreate makes CreateIntent return a retriable error.
	FailCreate error
}

var _ domain.PaymentProvider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		intents:   make(map[string]*domain.Intent),
		byIdemKey: make(map[string]string),
	}
}

func (f *FakeProvider) Name() string { return ProviderFake }

func (f *FakeProvider) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ProviderError{Op: "create_intent", Err: err, Retriable: true}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreate != nil {
		return nil, &domain.ProviderError{Op: "create_intent", Err: f.FailCreate, Retriable: true}
	}
	if id, ok := f.byIdemKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		cp := *f.intents[id]
		return &cp, nil
	}

	id := "pi_fake_" + uuid.NewString()[:12]
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	in := &domain.Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       "requires_payment_method",
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		Metadata:     meta,
	}
	f.intents[id] = in
	if req.IdempotencyKey != "" {
		f.byIdemKey[req.IdempotencyKey] = id
	}
	cp := *in
	return &cp, nil
}

func (f *FakeProvider) RetrieveIntent(ctx context.Context, id string) (*domain.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ProviderError{Op: "retrieve_intent", Err: err, Retriable: true}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return nil, &domain.ProviderError{Op: "retrieve_intent", Err: fmt.Errorf("no such payment intent %s", id)}
	}
	cp := *in
	return &cp, nil
}

// SetStatus moves an intent, as a customer paying would.
func (f *FakeProvider) SetStatus(id, status, failureCode, failureMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return errors.New("unknown intent " + id)
	}
	in.Status = status
	in.FailureCode = failureCode
	in.FailureMessage = failureMessage
	return nil
}
