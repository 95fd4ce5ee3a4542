// Package entitlement решает, можно ли выдать купленный товар, не обращаясь к хранилищу.
//
// Позиция покупки выдаётся целиком один раз: после первого успешного скачивания
// повторная выдача запрещена независимо от купленного количества. Количество
// используется только для упаковки результата.
package entitlement

import (
	"path"
	"strconv"
	"strings"

	"github.com/mmeshcher/photomart/internal/model"
)

// Evaluation содержит результат оценки права на товар.
type Evaluation struct {
	State             model.EntitlementState
	QuantityPurchased int
}

// ConsumeResult содержит результат попытки выдачи товара.
type ConsumeResult struct {
	Admitted bool
	// Record заполнен только при Admitted и является новой копией записи.
	Record *model.PurchaseRecord
	Item   model.PurchasedItem
	Reason model.DenyReason
}

// Engine реализует автомат NOT_PURCHASED / AVAILABLE / CONSUMED.
type Engine struct{}

// NewEngine создаёт движок.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate возвращает состояние права на товар без изменения записи.
func (e *Engine) Evaluate(rec model.PurchaseRecord, productID string) Evaluation {
	item, _, ok := rec.Item(productID)
	if !ok {
		return Evaluation{State: model.StateNotPurchased}
	}
	if item.Downloaded {
		return Evaluation{State: model.StateConsumed, QuantityPurchased: item.QuantityPurchased}
	}
	return Evaluation{State: model.StateAvailable, QuantityPurchased: item.QuantityPurchased}
}

// TryConsume переводит позицию из AVAILABLE в CONSUMED на копии записи.
// Исходная запись не изменяется, сохранить результат должен вызывающий.
func (e *Engine) TryConsume(rec model.PurchaseRecord, productID string) ConsumeResult {
	item, i, ok := rec.Item(productID)
	if !ok {
		return ConsumeResult{Reason: model.ReasonNotPurchased}
	}
	if item.Downloaded {
		return ConsumeResult{Item: item, Reason: model.ReasonAlreadyDownloaded}
	}

	next := rec.Clone()
	next.Items[i].Downloaded = true

	return ConsumeResult{
		Admitted: true,
		Record:   &next,
		Item:     next.Items[i],
	}
}

// Entitlements строит проекцию записи для клиента.
func (e *Engine) Entitlements(rec model.PurchaseRecord) []model.Entitlement {
	res := make([]model.Entitlement, 0, len(rec.Items))
	for _, it := range rec.Items {
		res = append(res, model.Entitlement{
			ProductID:         it.ProductID,
			Title:             it.Title,
			QuantityPurchased: it.QuantityPurchased,
			Downloaded:        it.Downloaded,
			CanDownload:       !it.Downloaded,
		})
	}
	return res
}

// DownloadFor описывает, что должен упаковать слой выдачи файлов для позиции.
// Несколько купленных копий отдаются одним архивом.
func DownloadFor(item model.PurchasedItem) model.Download {
	count := item.QuantityPurchased
	if count < 1 {
		count = 1
	}

	name := item.FileName
	if name == "" {
		name = item.ProductID
	}
	name = path.Base(name)

	if count > 1 {
		stem := strings.TrimSuffix(name, path.Ext(name))
		name = stem + "_x" + strconv.Itoa(count) + ".zip"
	}

	return model.Download{
		AssetRef:          item.AssetRef,
		Count:             count,
		SuggestedFilename: name,
	}
}
