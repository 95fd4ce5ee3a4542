package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/catalog"
	"github.com/mmeshcher/photomart/internal/kvstore"
	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/publisher"
	"github.com/mmeshcher/photomart/internal/repository"
	"github.com/mmeshcher/photomart/internal/stripe"
)

const testWebhookSecret = "whsec_test_secret"

const testCatalog = `
photos:
  - {id: p1, title: Sunset, file_name: sunset.jpg, asset_ref: photos/sunset.jpg, price_cents: 1500}
  - {id: p2, title: Harbor, file_name: harbor.jpg, asset_ref: photos/harbor.jpg, price_cents: 900}
  - {id: p3, title: Sunset, file_name: sunset-2.jpg, asset_ref: photos/sunset-2.jpg, price_cents: 1200}
`

// flakyStore хранит данные в памяти и умеет имитировать отказ.
type flakyStore struct {
	*kvstore.MemoryStore

	mu      sync.Mutex
	failAll error
	failCAS error
}

func (s *flakyStore) setFailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

func (s *flakyStore) setFailCAS(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCAS = err
}

func (s *flakyStore) errs() (error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failAll, s.failCAS
}

func (s *flakyStore) Get(ctx context.Context, key string) (kvstore.Entry, error) {
	if all, _ := s.errs(); all != nil {
		return kvstore.Entry{}, all
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if all, _ := s.errs(); all != nil {
		return all
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *flakyStore) CompareAndSwap(ctx context.Context, key string, version int64, value []byte) error {
	all, cas := s.errs()
	if all != nil {
		return all
	}
	if cas != nil {
		return cas
	}
	return s.MemoryStore.CompareAndSwap(ctx, key, version, value)
}

type stubPayments struct {
	mu sync.Mutex

	lineItems    []model.LineItem
	lineItemsErr error
	lineCalls    int

	session    *stripe.CheckoutSession
	sessionErr error
	params     stripe.CreateSessionParams
}

func (p *stubPayments) CreateCheckoutSession(ctx context.Context, params stripe.CreateSessionParams) (*stripe.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
	return p.session, p.sessionErr
}

func (p *stubPayments) ListLineItems(ctx context.Context, sessionID string) ([]model.LineItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineCalls++
	return p.lineItems, p.lineItemsErr
}

type stubPublisher struct {
	mu          sync.Mutex
	completed   []model.PurchaseRecord
	deadLetters []publisher.DeadLetter
}

func (p *stubPublisher) PublishPurchaseCompleted(ctx context.Context, rec model.PurchaseRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, rec)
	return nil
}

func (p *stubPublisher) PublishDeadLetter(ctx context.Context, dl publisher.DeadLetter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadLetters = append(p.deadLetters, dl)
	return nil
}

type testEnv struct {
	svc       *Service
	store     *flakyStore
	purchases *repository.PurchaseRepository
	carts     *repository.CartRepository
	payments  *stubPayments
	publisher *stubPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cat, err := catalog.Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)

	store := &flakyStore{MemoryStore: kvstore.NewMemoryStore()}
	env := &testEnv{
		store:     store,
		purchases: repository.NewPurchaseRepository(store),
		carts:     repository.NewCartRepository(store),
		payments:  &stubPayments{},
		publisher: &stubPublisher{},
	}

	env.svc = NewService(Dependencies{
		Purchases:  env.purchases,
		Carts:      env.carts,
		Payments:   env.payments,
		Verifier:   stripe.NewVerifier(testWebhookSecret),
		Publisher:  env.publisher,
		Catalog:    cat,
		Logger:     zap.NewNop(),
		SuccessURL: "https://shop.example/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://shop.example/cancel",
	})
	env.svc.writeDelays = []time.Duration{time.Millisecond}

	return env
}

type eventOptions struct {
	eventID  string
	typ      string
	email    string
	metadata map[string]string
}

func checkoutEvent(t *testing.T, sessionID string, opts eventOptions) []byte {
	t.Helper()

	if opts.eventID == "" {
		opts.eventID = "evt_" + sessionID
	}
	if opts.typ == "" {
		opts.typ = stripe.EventCheckoutSessionCompleted
	}

	object := map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"created":        1714564800,
		"payment_status": "paid",
		"metadata":       opts.metadata,
	}
	if opts.email != "" {
		object["customer_details"] = map[string]any{"email": opts.email}
	}

	body, err := json.Marshal(map[string]any{
		"id":      opts.eventID,
		"type":    opts.typ,
		"created": 1714564860,
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func sign(payload []byte) string {
	return stripe.SignatureHeader(time.Now(), payload, testWebhookSecret)
}

func (e *testEnv) ingest(t *testing.T, payload []byte) WebhookOutcome {
	t.Helper()
	outcome, err := e.svc.HandleStripeWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	return outcome
}

var errStoreDown = errors.New("connection refused")
