package repository

import (
	"encoding/json"
	"fmt"

	"github.com/mmeshcher/photomart/internal/model"
)

// storedPurchase описывает все формы записи о покупке, встречающиеся в хранилище.
// Ранние версии хранили позиции в line_items, а факт скачивания в отдельных словарях.
type storedPurchase struct {
	model.PurchaseRecord

	LineItems     []storedLineItem `json:"line_items,omitempty"`
	Downloaded    map[string]bool  `json:"downloaded,omitempty"`
	DownloadCount map[string]int   `json:"download_count,omitempty"`
}

type storedLineItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	FileName  string `json:"file_name"`
	AssetRef  string `json:"asset_ref"`
	Quantity  int    `json:"quantity"`
}

// decodePurchase приводит сохранённую запись к каноническому виду.
func decodePurchase(data []byte) (model.PurchaseRecord, error) {
	var s storedPurchase
	if err := json.Unmarshal(data, &s); err != nil {
		return model.PurchaseRecord{}, fmt.Errorf("decode purchase: %w", err)
	}

	rec := s.PurchaseRecord
	if len(rec.Items) == 0 && len(s.LineItems) > 0 {
		rec.Items = make([]model.PurchasedItem, 0, len(s.LineItems))
		for _, li := range s.LineItems {
			qty := li.Quantity
			if qty < 1 {
				qty = 1
			}
			rec.Items = append(rec.Items, model.PurchasedItem{
				ProductID:         li.ProductID,
				Title:             li.Title,
				FileName:          li.FileName,
				AssetRef:          li.AssetRef,
				QuantityPurchased: qty,
			})
		}
	}

	for i := range rec.Items {
		id := rec.Items[i].ProductID
		if s.Downloaded[id] || s.DownloadCount[id] > 0 {
			rec.Items[i].Downloaded = true
		}
	}

	if rec.Items == nil {
		rec.Items = []model.PurchasedItem{}
	}

	return rec, nil
}
