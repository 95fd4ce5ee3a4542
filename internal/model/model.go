// Package model содержит доменные сущности сервиса продажи фотографий.
package model

import "time"

// PurchasedItem описывает одну позицию покупки. Хранится только внутри PurchaseRecord.
type PurchasedItem struct {
	ProductID         string `json:"product_id"`
	Title             string `json:"title"`
	FileName          string `json:"file_name"`
	AssetRef          string `json:"asset_ref"`
	QuantityPurchased int    `json:"quantity_purchased"`
	Downloaded        bool   `json:"downloaded"`
}

// PurchaseRecord описывает завершённую сессию оплаты и купленные в ней позиции.
type PurchaseRecord struct {
	SessionID     string          `json:"session_id"`
	CustomerEmail string          `json:"customer_email"`
	Items         []PurchasedItem `json:"items"`
	PaymentStatus string          `json:"payment_status"`
	IsFinal       bool            `json:"is_final"`
	CreatedAt     time.Time       `json:"created_at"`
	FinalizedAt   time.Time       `json:"finalized_at"`
}

// Item возвращает позицию по идентификатору товара и её индекс.
func (r PurchaseRecord) Item(productID string) (PurchasedItem, int, bool) {
	for i, it := range r.Items {
		if it.ProductID == productID {
			return it, i, true
		}
	}
	return PurchasedItem{}, -1, false
}

// Clone возвращает копию записи, не разделяющую срез позиций с оригиналом.
func (r PurchaseRecord) Clone() PurchaseRecord {
	c := r
	if r.Items != nil {
		c.Items = make([]PurchasedItem, len(r.Items))
		copy(c.Items, r.Items)
	}
	return c
}

// CartItem описывает позицию корзины, сохранённую до оплаты.
// Несёт ссылку на файл, о которой платёжный провайдер не знает.
type CartItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	FileName  string `json:"file_name"`
	AssetRef  string `json:"asset_ref"`
	Quantity  int    `json:"quantity"`
}

// LineItem описывает позицию сессии оплаты со стороны платёжного провайдера.
type LineItem struct {
	ID          string
	ProductID   string
	Description string
	Quantity    int
}

// EntitlementState описывает состояние права на скачивание товара.
type EntitlementState string

const (
	StateNotPurchased EntitlementState = "NOT_PURCHASED"
	StateAvailable    EntitlementState = "AVAILABLE"
	StateConsumed     EntitlementState = "CONSUMED"
)

// DenyReason описывает причину отказа в скачивании.
type DenyReason string

const (
	ReasonNone              DenyReason = ""
	ReasonNotPurchased      DenyReason = "not_purchased"
	ReasonAlreadyDownloaded DenyReason = "already_downloaded"
	ReasonSessionNotFound   DenyReason = "session_not_found"
)

// Message возвращает описание причины отказа для пользователя.
func (r DenyReason) Message() string {
	switch r {
	case ReasonNotPurchased:
		return "this photo is not part of your purchase"
	case ReasonAlreadyDownloaded:
		return "this photo has already been downloaded for this purchase"
	case ReasonSessionNotFound:
		return "purchase not found"
	default:
		return ""
	}
}

// Download содержит данные, достаточные слою выдачи файлов для формирования результата.
type Download struct {
	AssetRef          string `json:"asset_ref"`
	Count             int    `json:"count"`
	SuggestedFilename string `json:"suggested_filename"`
}

// Authorization описывает результат запроса на скачивание.
type Authorization struct {
	Admitted bool
	Reason   DenyReason
	Download *Download
}

// Entitlement описывает позицию покупки для клиента, только для чтения.
type Entitlement struct {
	ProductID         string `json:"product_id"`
	Title             string `json:"title"`
	QuantityPurchased int    `json:"quantity_purchased"`
	Downloaded        bool   `json:"downloaded"`
	CanDownload       bool   `json:"can_download"`
}

// Photo описывает товар каталога.
type Photo struct {
	ID         string `yaml:"id" json:"id"`
	Title      string `yaml:"title" json:"title"`
	FileName   string `yaml:"file_name" json:"file_name"`
	AssetRef   string `yaml:"asset_ref" json:"-"`
	PriceCents int64  `yaml:"price_cents" json:"price_cents"`
	Currency   string `yaml:"currency" json:"currency"`
}
