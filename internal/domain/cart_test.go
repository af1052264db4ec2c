package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProduct() *Product {
	return &Product{
		ID:       "prod-1",
		Name:     "Executor Key",
		Price:    10,
		Stock:    5,
		Image:    "https://cdn.example.com/executor.png",
		Duration: "30 days",
		Tiers: []Tier{
			{ID: "tier-1", Name: "Lifetime", Price: 25, Stock: 2, Duration: "lifetime"},
		},
	}
}

func TestLineID_Composite(t *testing.T) {
	assert.Equal(t, "prod-1", LineID("prod-1", ""))
	assert.Equal(t, "prod-1::tier-1", LineID("prod-1", "tier-1"))
}

func TestNewCartItem_ProductSnapshot(t *testing.T) {
	item := NewCartItem(sampleProduct(), "", 3)

	assert.Equal(t, "prod-1", item.LineID)
	assert.Equal(t, "Executor Key", item.Name)
	assert.Equal(t, 10.0, item.Price)
	assert.Equal(t, 5, item.Stock)
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, "30 days", item.Duration)
}

func TestNewCartItem_TierOverridesSnapshot(t *testing.T) {
	item := NewCartItem(sampleProduct(), "tier-1", 1)

	assert.Equal(t, "prod-1::tier-1", item.LineID)
	assert.Equal(t, "Executor Key - Lifetime", item.Name)
	assert.Equal(t, 25.0, item.Price)
	assert.Equal(t, 2, item.Stock)
	assert.Equal(t, "lifetime", item.Duration)
}

func TestNewCartItem_QuantityClampedToTierStock(t *testing.T) {
	item := NewCartItem(sampleProduct(), "tier-1", 10)

	assert.Equal(t, 2, item.Quantity)
}

func TestClampQuantity(t *testing.T) {
	assert.Equal(t, 1, ClampQuantity(0, 5))
	assert.Equal(t, 1, ClampQuantity(-3, 5))
	assert.Equal(t, 5, ClampQuantity(9, 5))
	assert.Equal(t, 3, ClampQuantity(3, 5))
	// Zero stock keeps already-carted lines representable.
	assert.Equal(t, 1, ClampQuantity(1, 0))
	assert.Equal(t, 4, ClampQuantity(4, 0))
}

func TestCart_Total(t *testing.T) {
	cart := &Cart{
		UserID: "user-1",
		Items: []CartItem{
			{LineID: "a", Price: 10, Quantity: 1},
			{LineID: "b", Price: 15, Quantity: 2},
		},
	}

	assert.Equal(t, 40.0, cart.Total())
}

func TestCart_Upsert_AccumulatesAndClamps(t *testing.T) {
	cart := &Cart{UserID: "user-1"}
	p := sampleProduct()

	cart.Upsert(NewCartItem(p, "", 2))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	cart.Upsert(NewCartItem(p, "", 2))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	// Accumulating past the stock ceiling clamps.
	cart.Upsert(NewCartItem(p, "", 4))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestCart_Upsert_TierIsSeparateLine(t *testing.T) {
	cart := &Cart{UserID: "user-1"}
	p := sampleProduct()

	cart.Upsert(NewCartItem(p, "", 1))
	cart.Upsert(NewCartItem(p, "tier-1", 1))

	require.Len(t, cart.Items, 2)
	assert.Equal(t, "prod-1", cart.Items[0].LineID)
	assert.Equal(t, "prod-1::tier-1", cart.Items[1].LineID)
}

func TestCart_SetQuantity(t *testing.T) {
	cart := &Cart{UserID: "user-1"}
	cart.Upsert(NewCartItem(sampleProduct(), "", 1))

	require.True(t, cart.SetQuantity("prod-1", 99))
	assert.Equal(t, 5, cart.Items[0].Quantity)

	assert.False(t, cart.SetQuantity("missing", 1))
}

func TestCart_Remove(t *testing.T) {
	cart := &Cart{UserID: "user-1"}
	cart.Upsert(NewCartItem(sampleProduct(), "", 1))

	assert.False(t, cart.Remove("missing"))
	assert.True(t, cart.Remove("prod-1"))
	assert.Empty(t, cart.Items)
}
