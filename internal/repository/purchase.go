// Package repository содержит доступ к записям о покупках поверх хранилища ключ-значение.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmeshcher/photomart/internal/kvstore"
	"github.com/mmeshcher/photomart/internal/model"
)

const (
	purchaseKeyPrefix = "purchase:"

	defaultUpdateAttempts = 8
)

var (
	// ErrPurchaseNotFound возвращается, если запись о покупке отсутствует.
	ErrPurchaseNotFound = errors.New("purchase not found")
	// ErrPurchaseExists возвращается, если запись о покупке уже создана.
	ErrPurchaseExists = errors.New("purchase already exists")
	// ErrUpdateContention возвращается, если обновление не удалось применить из-за конкурирующих записей.
	ErrUpdateContention = errors.New("purchase update contention")
	// ErrIllegalMutation возвращается, если обновление нарушает неизменяемость завершённой покупки.
	ErrIllegalMutation = errors.New("illegal purchase mutation")
)

// PurchaseKey возвращает ключ записи о покупке в хранилище.
func PurchaseKey(sessionID string) string {
	return purchaseKeyPrefix + sessionID
}

// PurchaseRepository хранит записи о покупках. Кэша в памяти нет, каждая операция обращается к хранилищу.
type PurchaseRepository struct {
	store       kvstore.Store
	maxAttempts int
}

// NewPurchaseRepository создаёт репозиторий поверх хранилища.
func NewPurchaseRepository(store kvstore.Store) *PurchaseRepository {
	return &PurchaseRepository{
		store:       store,
		maxAttempts: defaultUpdateAttempts,
	}
}

// Get возвращает запись о покупке или ErrPurchaseNotFound.
func (r *PurchaseRepository) Get(ctx context.Context, sessionID string) (model.PurchaseRecord, error) {
	rec, _, err := r.load(ctx, sessionID)
	return rec, err
}

// Create безусловно записывает покупку, перезаписывая существующую запись с тем же ключом.
func (r *PurchaseRepository) Create(ctx context.Context, sessionID string, rec model.PurchaseRecord) error {
	rec.SessionID = sessionID

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode purchase: %w", err)
	}

	if err := r.store.Set(ctx, PurchaseKey(sessionID), data); err != nil {
		return fmt.Errorf("save purchase: %w", err)
	}
	return nil
}

// CreateIfAbsent записывает покупку, только если записи с этим ключом ещё нет.
// Для существующей записи возвращает ErrPurchaseExists.
func (r *PurchaseRepository) CreateIfAbsent(ctx context.Context, sessionID string, rec model.PurchaseRecord) error {
	rec.SessionID = sessionID

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode purchase: %w", err)
	}

	err = r.store.CompareAndSwap(ctx, PurchaseKey(sessionID), 0, data)
	if errors.Is(err, kvstore.ErrVersionConflict) {
		return ErrPurchaseExists
	}
	if err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// Update читает запись, применяет mutate и записывает результат условной записью по версии.
// При конфликте версий чтение и mutate повторяются, поэтому mutate должна быть чистой функцией.
// Ошибка, возвращённая mutate, прерывает обновление и возвращается как есть.
func (r *PurchaseRepository) Update(
	ctx context.Context,
	sessionID string,
	mutate func(model.PurchaseRecord) (model.PurchaseRecord, error),
) (model.PurchaseRecord, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		current, version, err := r.load(ctx, sessionID)
		if err != nil {
			return model.PurchaseRecord{}, err
		}

		next, err := mutate(current.Clone())
		if err != nil {
			return model.PurchaseRecord{}, err
		}
		next.SessionID = sessionID

		if err := checkTransition(current, next); err != nil {
			return model.PurchaseRecord{}, err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return model.PurchaseRecord{}, fmt.Errorf("encode purchase: %w", err)
		}

		err = r.store.CompareAndSwap(ctx, PurchaseKey(sessionID), version, data)
		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, kvstore.ErrVersionConflict):
			continue
		case errors.Is(err, kvstore.ErrNotFound):
			return model.PurchaseRecord{}, ErrPurchaseNotFound
		default:
			return model.PurchaseRecord{}, fmt.Errorf("update purchase: %w", err)
		}
	}

	return model.PurchaseRecord{}, ErrUpdateContention
}

func (r *PurchaseRepository) load(ctx context.Context, sessionID string) (model.PurchaseRecord, int64, error) {
	entry, err := r.store.Get(ctx, PurchaseKey(sessionID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return model.PurchaseRecord{}, 0, ErrPurchaseNotFound
		}
		return model.PurchaseRecord{}, 0, fmt.Errorf("load purchase: %w", err)
	}

	rec, err := decodePurchase(entry.Value)
	if err != nil {
		return model.PurchaseRecord{}, 0, err
	}
	if rec.SessionID == "" {
		rec.SessionID = sessionID
	}

	return rec, entry.Version, nil
}

// checkTransition запрещает изменения завершённой покупки, кроме выставления признака скачивания.
func checkTransition(prev, next model.PurchaseRecord) error {
	if prev.CustomerEmail != next.CustomerEmail {
		return fmt.Errorf("%w: customer email changed", ErrIllegalMutation)
	}
	if !prev.IsFinal {
		return nil
	}
	if !next.IsFinal {
		return fmt.Errorf("%w: record unfinalized", ErrIllegalMutation)
	}
	if len(prev.Items) != len(next.Items) {
		return fmt.Errorf("%w: items changed", ErrIllegalMutation)
	}

	for i, p := range prev.Items {
		n := next.Items[i]
		if p.ProductID != n.ProductID || p.QuantityPurchased != n.QuantityPurchased {
			return fmt.Errorf("%w: item %s changed", ErrIllegalMutation, p.ProductID)
		}
		if p.Downloaded && !n.Downloaded {
			return fmt.Errorf("%w: item %s download reverted", ErrIllegalMutation, p.ProductID)
		}
	}

	return nil
}
