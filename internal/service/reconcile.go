package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/stripe"
)

// BuildRecord собирает запись о покупке из сессии оплаты, позиций провайдера и корзины.
// Результат зависит только от аргументов, поэтому повторная доставка события даёт ту же запись.
func BuildRecord(session stripe.CheckoutSession, eventCreated int64, lineItems []model.LineItem, cart []model.CartItem) model.PurchaseRecord {
	finalized := time.Unix(eventCreated, 0).UTC()
	created := finalized
	if session.Created > 0 {
		created = time.Unix(session.Created, 0).UTC()
	}

	return model.PurchaseRecord{
		SessionID:     session.ID,
		CustomerEmail: session.Email(),
		Items:         reconcileItems(lineItems, cart),
		PaymentStatus: session.PaymentStatus,
		IsFinal:       true,
		CreatedAt:     created,
		FinalizedAt:   finalized,
	}
}

// reconcileItems сопоставляет позиции провайдера с корзиной по названию товара.
// Позиция без однозначного совпадения становится отдельной позицией без ссылки на файл.
// Без позиций провайдера используется корзина.
func reconcileItems(lineItems []model.LineItem, cart []model.CartItem) []model.PurchasedItem {
	items := make([]model.PurchasedItem, 0, len(lineItems)+len(cart))

	if len(lineItems) == 0 {
		for _, c := range cart {
			if c.Quantity < 1 || c.ProductID == "" {
				continue
			}
			items = addItem(items, model.PurchasedItem{
				ProductID:         c.ProductID,
				Title:             c.Title,
				FileName:          c.FileName,
				AssetRef:          c.AssetRef,
				QuantityPurchased: c.Quantity,
			})
		}
		return items
	}

	used := make([]bool, len(cart))
	for i, li := range lineItems {
		if li.Quantity < 1 {
			continue
		}

		item := model.PurchasedItem{
			ProductID:         fallbackProductID(li, i),
			Title:             li.Description,
			QuantityPurchased: li.Quantity,
		}

		if j := matchCart(cart, used, li.Description); j >= 0 {
			used[j] = true
			c := cart[j]
			item.ProductID = c.ProductID
			if c.Title != "" {
				item.Title = c.Title
			}
			item.FileName = c.FileName
			item.AssetRef = c.AssetRef
		}

		items = addItem(items, item)
	}

	return items
}

// matchCart возвращает индекс единственной неиспользованной позиции корзины с тем же названием.
func matchCart(cart []model.CartItem, used []bool, title string) int {
	title = strings.TrimSpace(title)
	if title == "" {
		return -1
	}

	found := -1
	for j, c := range cart {
		if used[j] || strings.TrimSpace(c.Title) != title {
			continue
		}
		if found >= 0 && cart[found].ProductID != c.ProductID {
			return -1
		}
		if found < 0 {
			found = j
		}
	}
	return found
}

func fallbackProductID(li model.LineItem, index int) string {
	switch {
	case li.ProductID != "":
		return li.ProductID
	case li.ID != "":
		return li.ID
	default:
		return "line_" + strconv.Itoa(index)
	}
}

// addItem добавляет позицию, объединяя количества позиций с одним товаром.
func addItem(items []model.PurchasedItem, item model.PurchasedItem) []model.PurchasedItem {
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].QuantityPurchased += item.QuantityPurchased
			if items[i].AssetRef == "" {
				items[i].AssetRef = item.AssetRef
				items[i].FileName = item.FileName
			}
			return items
		}
	}
	return append(items, item)
}
