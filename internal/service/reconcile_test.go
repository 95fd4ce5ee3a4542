package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/stripe"
)

func TestReconcileItems(t *testing.T) {
	cart := []model.CartItem{
		{ProductID: "p1", Title: "Sunset", FileName: "sunset.jpg", AssetRef: "a/sunset", Quantity: 1},
		{ProductID: "p2", Title: "Harbor", FileName: "harbor.jpg", AssetRef: "a/harbor", Quantity: 2},
	}

	tests := []struct {
		name      string
		lineItems []model.LineItem
		cart      []model.CartItem
		want      []model.PurchasedItem
	}{
		{
			name: "matched by title",
			lineItems: []model.LineItem{
				{ID: "li_1", ProductID: "prod_x", Description: "Harbor", Quantity: 2},
				{ID: "li_2", ProductID: "prod_y", Description: "Sunset", Quantity: 1},
			},
			cart: cart,
			want: []model.PurchasedItem{
				{ProductID: "p2", Title: "Harbor", FileName: "harbor.jpg", AssetRef: "a/harbor", QuantityPurchased: 2},
				{ProductID: "p1", Title: "Sunset", FileName: "sunset.jpg", AssetRef: "a/sunset", QuantityPurchased: 1},
			},
		},
		{
			name:      "provider quantity wins",
			lineItems: []model.LineItem{{ID: "li_1", Description: "Sunset", Quantity: 4}},
			cart:      cart,
			want: []model.PurchasedItem{
				{ProductID: "p1", Title: "Sunset", FileName: "sunset.jpg", AssetRef: "a/sunset", QuantityPurchased: 4},
			},
		},
		{
			name:      "unmatched line item keeps provider product",
			lineItems: []model.LineItem{{ID: "li_1", ProductID: "prod_x", Description: "Forest", Quantity: 1}},
			cart:      cart,
			want: []model.PurchasedItem{
				{ProductID: "prod_x", Title: "Forest", QuantityPurchased: 1},
			},
		},
		{
			name: "fallback product ids",
			lineItems: []model.LineItem{
				{ID: "li_1", Description: "Forest", Quantity: 1},
				{Description: "Lake", Quantity: 1},
			},
			want: []model.PurchasedItem{
				{ProductID: "li_1", Title: "Forest", QuantityPurchased: 1},
				{ProductID: "line_1", Title: "Lake", QuantityPurchased: 1},
			},
		},
		{
			name:      "non-positive quantities skipped",
			lineItems: []model.LineItem{{ID: "li_1", Description: "Sunset", Quantity: 0}},
			cart:      cart,
			want:      []model.PurchasedItem{},
		},
		{
			name: "ambiguous title is not matched",
			lineItems: []model.LineItem{
				{ID: "li_1", ProductID: "prod_x", Description: "Sunset", Quantity: 1},
			},
			cart: []model.CartItem{
				{ProductID: "p1", Title: "Sunset", AssetRef: "a/1", Quantity: 1},
				{ProductID: "p3", Title: "Sunset", AssetRef: "a/3", Quantity: 1},
			},
			want: []model.PurchasedItem{
				{ProductID: "prod_x", Title: "Sunset", QuantityPurchased: 1},
			},
		},
		{
			name: "duplicate products merged",
			lineItems: []model.LineItem{
				{ID: "li_1", ProductID: "prod_x", Description: "Forest", Quantity: 1},
				{ID: "li_2", ProductID: "prod_x", Description: "Forest", Quantity: 2},
			},
			want: []model.PurchasedItem{
				{ProductID: "prod_x", Title: "Forest", QuantityPurchased: 3},
			},
		},
		{
			name: "cart used without line items",
			cart: cart,
			want: []model.PurchasedItem{
				{ProductID: "p1", Title: "Sunset", FileName: "sunset.jpg", AssetRef: "a/sunset", QuantityPurchased: 1},
				{ProductID: "p2", Title: "Harbor", FileName: "harbor.jpg", AssetRef: "a/harbor", QuantityPurchased: 2},
			},
		},
		{
			name: "nothing to reconcile",
			want: []model.PurchasedItem{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcileItems(tt.lineItems, tt.cart))
		})
	}
}

func TestBuildRecord_Deterministic(t *testing.T) {
	session := stripe.CheckoutSession{
		ID:              "cs_test_1",
		Created:         1714564800,
		PaymentStatus:   "paid",
		CustomerDetails: &stripe.CustomerDetails{Email: "a@b.com"},
	}
	lineItems := []model.LineItem{{ID: "li_1", Description: "Sunset", Quantity: 3}}
	cart := sunsetCart(3)

	first := BuildRecord(session, 1714564860, lineItems, cart)
	time.Sleep(5 * time.Millisecond)
	second := BuildRecord(session, 1714564860, lineItems, cart)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	assert.True(t, first.IsFinal)
	assert.Equal(t, time.Unix(1714564800, 0).UTC(), first.CreatedAt)
	assert.Equal(t, time.Unix(1714564860, 0).UTC(), first.FinalizedAt)
	assert.Equal(t, "a@b.com", first.CustomerEmail)
}
