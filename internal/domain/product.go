package domain

// Product is a catalog entry as reported by the commerce gateway. Prices are
// gateway-denominated decimal amounts, carried as float64 to stay
// wire-compatible with the gateway's JSON.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Image    string  `json:"image,omitempty"`
	Duration string  `json:"duration,omitempty"`
	Tiers    []Tier  `json:"tiers,omitempty"`
}

// Tier is a purchasable variant of a product with its own price and stock.
type Tier struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Duration string  `json:"duration,omitempty"`
}

// FindTier returns the tier with the given ID, or nil.
func (p *Product) FindTier(tierID string) *Tier {
	for i := range p.Tiers {
		if p.Tiers[i].ID == tierID {
			return &p.Tiers[i]
		}
	}
	return nil
}
