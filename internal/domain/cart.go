package domain

import "time"

// Cart holds a user's shopping cart. Items carry a denormalized snapshot of
// the product (and tier) taken at add time, so later catalog edits do not
// change what the user agreed to pay.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem is a single cart line. LineID is the composite identity:
// "productId" for base products, "productId::tierId" when a tier is selected.
type CartItem struct {
	LineID    string  `json:"line_id"`
	ProductID string  `json:"product_id"`
	TierID    string  `json:"tier_id,omitempty"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Stock     int     `json:"stock"`
	Image     string  `json:"image,omitempty"`
	Duration  string  `json:"duration,omitempty"`
}

// LineID builds the composite line identity for a product/tier pair.
func LineID(productID, tierID string) string {
	if tierID == "" {
		return productID
	}
	return productID + "::" + tierID
}

// NewCartItem snapshots a product (and optional tier) into a cart line with
// the quantity clamped to [1, stock].
func NewCartItem(p *Product, tierID string, quantity int) CartItem {
	item := CartItem{
		LineID:    LineID(p.ID, tierID),
		ProductID: p.ID,
		TierID:    tierID,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		Image:     p.Image,
		Duration:  p.Duration,
	}

	if t := p.FindTier(tierID); t != nil {
		item.Name = p.Name + " - " + t.Name
		item.Price = t.Price
		item.Stock = t.Stock
		if t.Duration != "" {
			item.Duration = t.Duration
		}
	}

	item.Quantity = ClampQuantity(quantity, item.Stock)
	return item
}

// ClampQuantity bounds a requested quantity to [1, stock]. A zero or negative
// stock still yields 1 so lines already in the cart stay representable.
func ClampQuantity(requested, stock int) int {
	if requested < 1 {
		requested = 1
	}
	if stock > 0 && requested > stock {
		return stock
	}
	return requested
}

// Total is the cart total, the sum of price times quantity over all lines.
func (c *Cart) Total() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// FindItemIndex returns the index of the line with the given line ID, or -1.
func (c *Cart) FindItemIndex(lineID string) int {
	for i := range c.Items {
		if c.Items[i].LineID == lineID {
			return i
		}
	}
	return -1
}

// Upsert adds the item or, when the line already exists, accumulates its
// quantity, re-clamping against the snapshot's stock ceiling.
func (c *Cart) Upsert(item CartItem) {
	if i := c.FindItemIndex(item.LineID); i >= 0 {
		c.Items[i].Quantity = ClampQuantity(c.Items[i].Quantity+item.Quantity, c.Items[i].Stock)
		return
	}
	c.Items = append(c.Items, item)
}

// SetQuantity updates a line's quantity, clamped to its stock ceiling.
// Returns false when the line does not exist.
func (c *Cart) SetQuantity(lineID string, quantity int) bool {
	i := c.FindItemIndex(lineID)
	if i < 0 {
		return false
	}
	c.Items[i].Quantity = ClampQuantity(quantity, c.Items[i].Stock)
	return true
}

// Remove deletes a line from the cart. Returns false when the line does not
// exist.
func (c *Cart) Remove(lineID string) bool {
	i := c.FindItemIndex(lineID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}
