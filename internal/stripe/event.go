package stripe

import (
	"encoding/json"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v82"

	"github.com/mmeshcher/photomart/internal/model"
)

// EventCheckoutSessionCompleted задаёт тип события завершения сессии оплаты.
const EventCheckoutSessionCompleted = string(stripego.EventTypeCheckoutSessionCompleted)

// ErrNoSession возвращается для события сессии оплаты без объекта сессии.
var ErrNoSession = errors.New("stripe: event carries no checkout session")

// Event описывает событие вебхука в том объёме, который нужен магазину.
// Session заполнена только для checkout.session.completed.
type Event struct {
	ID      string
	Type    string
	Created int64
	Session *CheckoutSession
}

// CustomerDetails содержит данные покупателя, введённые на странице оплаты.
type CustomerDetails struct {
	Email string
}

// CheckoutSession описывает сессию оплаты.
type CheckoutSession struct {
	ID              string
	URL             string
	Created         int64
	PaymentStatus   string
	CustomerEmail   string
	CustomerDetails *CustomerDetails
	Metadata        map[string]string
	// LineItems заполнены, только если Stripe вложил позиции в событие.
	LineItems []model.LineItem
}

// Email возвращает email покупателя из сессии.
func (s CheckoutSession) Email() string {
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	if s.CustomerDetails != nil {
		return s.CustomerDetails.Email
	}
	return ""
}

// ParseEvent разбирает тело вебхука. Подпись должна быть проверена заранее.
func ParseEvent(payload []byte) (Event, error) {
	var raw stripego.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	evt := Event{ID: raw.ID, Type: string(raw.Type), Created: raw.Created}
	if raw.Type != stripego.EventTypeCheckoutSessionCompleted {
		return evt, nil
	}

	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return Event{}, ErrNoSession
	}

	var cs stripego.CheckoutSession
	if err := json.Unmarshal(raw.Data.Raw, &cs); err != nil {
		return Event{}, fmt.Errorf("decode checkout session: %w", err)
	}

	session := sessionFromAPI(&cs)
	evt.Session = &session
	return evt, nil
}

func sessionFromAPI(cs *stripego.CheckoutSession) CheckoutSession {
	s := CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Created:       cs.Created,
		PaymentStatus: string(cs.PaymentStatus),
		CustomerEmail: cs.CustomerEmail,
		Metadata:      cs.Metadata,
	}
	if cs.CustomerDetails != nil {
		s.CustomerDetails = &CustomerDetails{Email: cs.CustomerDetails.Email}
	}
	if cs.LineItems != nil {
		for _, li := range cs.LineItems.Data {
			if li != nil {
				s.LineItems = append(s.LineItems, lineItemFromAPI(li))
			}
		}
	}
	return s
}

func lineItemFromAPI(li *stripego.LineItem) model.LineItem {
	item := model.LineItem{
		ID:          li.ID,
		Description: li.Description,
		Quantity:    int(li.Quantity),
	}
	if li.Price != nil && li.Price.Product != nil {
		item.ProductID = li.Price.Product.ID
	}
	return item
}
