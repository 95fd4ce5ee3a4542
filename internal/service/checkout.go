package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/stripe"
)

const (
	metadataCartKey = "cart"
	// Stripe ограничивает значение metadata 500 символами.
	maxMetadataValue = 500
	maxItemQuantity  = 100
)

type metadataCartEntry struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"q"`
}

// CheckoutItem описывает позицию корзины, присланную клиентом.
type CheckoutItem struct {
	ProductID string
	Quantity  int
}

// Checkout описывает созданную сессию оплаты.
type Checkout struct {
	SessionID string
	URL       string
}

// CreateCheckout создаёт сессию оплаты для корзины и сохраняет корзину со ссылками на файлы.
func (s *Service) CreateCheckout(ctx context.Context, items []CheckoutItem) (*Checkout, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	cart, err := s.buildCart(items)
	if err != nil {
		return nil, err
	}

	params := stripe.CreateSessionParams{
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
		Lines:      make([]stripe.CheckoutLine, 0, len(cart)),
	}

	entries := make([]metadataCartEntry, 0, len(cart))
	for _, c := range cart {
		photo, _ := s.catalog.Get(c.ProductID)
		params.Lines = append(params.Lines, stripe.CheckoutLine{
			Name:       c.Title,
			UnitAmount: photo.PriceCents,
			Currency:   photo.Currency,
			Quantity:   c.Quantity,
		})
		entries = append(entries, metadataCartEntry{ProductID: c.ProductID, Quantity: c.Quantity})
	}

	if raw, err := json.Marshal(entries); err == nil && len(raw) <= maxMetadataValue {
		params.Metadata = map[string]string{metadataCartKey: string(raw)}
	}

	session, err := s.payments.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := s.carts.Save(ctx, session.ID, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}

	s.logger.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("items", len(cart)),
	)

	return &Checkout{SessionID: session.ID, URL: session.URL}, nil
}

// buildCart объединяет повторяющиеся товары и проверяет их по каталогу.
// Названия позиций делаются уникальными, чтобы позиции провайдера однозначно сопоставлялись с корзиной.
func (s *Service) buildCart(items []CheckoutItem) ([]model.CartItem, error) {
	var cart []model.CartItem
	index := make(map[string]int, len(items))
	titles := make(map[string]string, len(items))

	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > maxItemQuantity {
			return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, it.Quantity)
		}

		photo, err := s.catalog.Get(it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPhoto, it.ProductID)
		}

		if i, ok := index[photo.ID]; ok {
			cart[i].Quantity += it.Quantity
			if cart[i].Quantity > maxItemQuantity {
				return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, cart[i].Quantity)
			}
			continue
		}

		c := cartItemFor(photo, it.Quantity)
		if owner, taken := titles[c.Title]; taken && owner != photo.ID {
			c.Title = fmt.Sprintf("%s (%s)", c.Title, photo.ID)
		}
		titles[c.Title] = photo.ID

		index[photo.ID] = len(cart)
		cart = append(cart, c)
	}

	return cart, nil
}

func cartItemFor(photo model.Photo, quantity int) model.CartItem {
	return model.CartItem{
		ProductID: photo.ID,
		Title:     photo.Title,
		FileName:  photo.FileName,
		AssetRef:  photo.AssetRef,
		Quantity:  quantity,
	}
}
