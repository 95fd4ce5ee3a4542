package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmeshcher/photomart/internal/kvstore"
	"github.com/mmeshcher/photomart/internal/model"
)

const cartKeyPrefix = "cart:"

// ErrCartNotFound возвращается, если корзина для сессии не сохранялась.
var ErrCartNotFound = errors.New("cart not found")

// CartKey возвращает ключ корзины сессии в хранилище.
func CartKey(sessionID string) string {
	return cartKeyPrefix + sessionID
}

// CartRepository хранит корзину, собранную до оплаты. Платёжный провайдер
// ограничивает размер metadata, поэтому ссылки на файлы живут здесь.
type CartRepository struct {
	store kvstore.Store
}

// NewCartRepository создаёт репозиторий корзин.
func NewCartRepository(store kvstore.Store) *CartRepository {
	return &CartRepository{store: store}
}

// Save сохраняет корзину сессии.
func (r *CartRepository) Save(ctx context.Context, sessionID string, items []model.CartItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := r.store.Set(ctx, CartKey(sessionID), data); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Get возвращает корзину сессии или ErrCartNotFound.
func (r *CartRepository) Get(ctx context.Context, sessionID string) ([]model.CartItem, error) {
	entry, err := r.store.Get(ctx, CartKey(sessionID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}

	var items []model.CartItem
	if err := json.Unmarshal(entry.Value, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return items, nil
}
