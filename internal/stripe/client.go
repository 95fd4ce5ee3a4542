// Package stripe связывает магазин со Stripe: проверяет подписи вебхуков, разбирает события
// и работает с сессиями Checkout через stripe-go.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/model"
)

const (
	lineItemsPageSize = 100
	maxLineItems      = 1000
)

// ErrNotConfigured возвращается, если клиенту не задан секретный ключ.
var ErrNotConfigured = errors.New("stripe client not configured")

// Client работает с сессиями Checkout. Повторы запросов отключены:
// ошибка API возвращается вызывающему сразу.
type Client struct {
	sessions *session.Client
}

// NewClient создаёт клиент Stripe API по указанному адресу.
func NewClient(baseURL, secretKey string, logger *zap.Logger) *Client {
	if secretKey == "" {
		return &Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		URL:               stripego.String(strings.TrimRight(baseURL, "/")),
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     logger.Sugar(),
	})

	return &Client{sessions: &session.Client{B: backend, Key: secretKey}}
}

// CheckoutLine описывает позицию создаваемой сессии оплаты.
type CheckoutLine struct {
	Name       string
	UnitAmount int64
	Currency   string
	Quantity   int
}

// CreateSessionParams содержит параметры создания сессии оплаты.
type CreateSessionParams struct {
	Lines      []CheckoutLine
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CreateCheckoutSession создаёт сессию оплаты и возвращает её с адресом страницы оплаты.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CreateSessionParams) (*CheckoutSession, error) {
	if c == nil || c.sessions == nil {
		return nil, ErrNotConfigured
	}

	params := &stripego.CheckoutSessionParams{
		Mode: stripego.String(string(stripego.CheckoutSessionModePayment)),
	}
	params.Context = ctx
	if p.SuccessURL != "" {
		params.SuccessURL = stripego.String(p.SuccessURL)
	}
	if p.CancelURL != "" {
		params.CancelURL = stripego.String(p.CancelURL)
	}

	for _, l := range p.Lines {
		params.LineItems = append(params.LineItems, &stripego.CheckoutSessionLineItemParams{
			Quantity: stripego.Int64(int64(l.Quantity)),
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(l.Currency),
				UnitAmount: stripego.Int64(l.UnitAmount),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(l.Name),
				},
			},
		})
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := c.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s := sessionFromAPI(cs)
	return &s, nil
}

// ListLineItems возвращает позиции сессии оплаты, проходя по всем страницам.
func (c *Client) ListLineItems(ctx context.Context, sessionID string) ([]model.LineItem, error) {
	if c == nil || c.sessions == nil {
		return nil, ErrNotConfigured
	}

	params := &stripego.CheckoutSessionListLineItemsParams{
		Session: stripego.String(sessionID),
	}
	params.Context = ctx
	params.Limit = stripego.Int64(lineItemsPageSize)

	var res []model.LineItem
	it := c.sessions.ListLineItems(params)
	for it.Next() {
		res = append(res, lineItemFromAPI(it.LineItem()))
		if len(res) >= maxLineItems {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}

	return res, nil
}
