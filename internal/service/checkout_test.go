package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/photomart/internal/model"
	"github.com/mmeshcher/photomart/internal/stripe"
)

func TestCreateCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.payments.session = &stripe.CheckoutSession{ID: "cs_test_new", URL: "https://checkout.stripe.com/c/pay/cs_test_new"}

	co, err := env.svc.CreateCheckout(ctx, []CheckoutItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p3", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_new", co.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_new", co.URL)

	params := env.payments.params
	assert.Equal(t, "https://shop.example/cancel", params.CancelURL)
	assert.Equal(t, []stripe.CheckoutLine{
		{Name: "Sunset", UnitAmount: 1500, Currency: "usd", Quantity: 3},
		{Name: "Sunset (p3)", UnitAmount: 1200, Currency: "usd", Quantity: 1},
	}, params.Lines)

	var entries []metadataCartEntry
	require.NoError(t, json.Unmarshal([]byte(params.Metadata["cart"]), &entries))
	assert.Equal(t, []metadataCartEntry{{ProductID: "p1", Quantity: 3}, {ProductID: "p3", Quantity: 1}}, entries)

	cart, err := env.carts.Get(ctx, "cs_test_new")
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{
		{ProductID: "p1", Title: "Sunset", FileName: "sunset.jpg", AssetRef: "photos/sunset.jpg", Quantity: 3},
		{ProductID: "p3", Title: "Sunset (p3)", FileName: "sunset-2.jpg", AssetRef: "photos/sunset-2.jpg", Quantity: 1},
	}, cart)
}

func TestCreateCheckout_Errors(t *testing.T) {
	tests := []struct {
		name  string
		items []CheckoutItem
		want  error
	}{
		{name: "empty", items: nil, want: ErrEmptyCart},
		{name: "unknown photo", items: []CheckoutItem{{ProductID: "nope", Quantity: 1}}, want: ErrUnknownPhoto},
		{name: "zero quantity", items: []CheckoutItem{{ProductID: "p1", Quantity: 0}}, want: ErrInvalidQuantity},
		{name: "too many", items: []CheckoutItem{{ProductID: "p1", Quantity: 60}, {ProductID: "p1", Quantity: 60}}, want: ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.svc.CreateCheckout(context.Background(), tt.items)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateCheckout_ProviderFailureSavesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.payments.sessionErr = stripe.ErrNotConfigured

	_, err := env.svc.CreateCheckout(context.Background(), []CheckoutItem{{ProductID: "p1", Quantity: 1}})
	require.ErrorIs(t, err, stripe.ErrNotConfigured)
	assert.Len(t, env.payments.params.Lines, 1)
}

func TestCheckoutThenWebhookThenDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.payments.session = &stripe.CheckoutSession{ID: "cs_test_flow", URL: "https://checkout.stripe.com/x"}

	_, err := env.svc.CreateCheckout(ctx, []CheckoutItem{{ProductID: "p1", Quantity: 1}, {ProductID: "p3", Quantity: 2}})
	require.NoError(t, err)

	env.payments.lineItems = []model.LineItem{
		{ID: "li_1", ProductID: "prod_a", Description: "Sunset", Quantity: 1},
		{ID: "li_2", ProductID: "prod_b", Description: "Sunset (p3)", Quantity: 2},
	}
	require.Equal(t, OutcomeStored, env.ingest(t, checkoutEvent(t, "cs_test_flow", eventOptions{email: "a@b.com"})))

	auth, err := env.svc.AuthorizeDownload(ctx, "cs_test_flow", "p3")
	require.NoError(t, err)
	require.True(t, auth.Admitted)
	assert.Equal(t, "photos/sunset-2.jpg", auth.Download.AssetRef)
	assert.Equal(t, "sunset-2_x2.zip", auth.Download.SuggestedFilename)

	auth, err = env.svc.AuthorizeDownload(ctx, "cs_test_flow", "p1")
	require.NoError(t, err)
	require.True(t, auth.Admitted)
	assert.Equal(t, "sunset.jpg", auth.Download.SuggestedFilename)
}
