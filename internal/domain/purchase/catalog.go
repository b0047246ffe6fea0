package purchase

import "github.com/shopspring/decimal"

// Item is a sellable SKU.
type Item struct {
	SKU          string
	Price        decimal.Decimal
	InitialStock int
}

// Catalog maps SKU to item.
type Catalog map[string]Item

// DefaultCatalog is the demo storefront.
func DefaultCatalog() Catalog {
	return Catalog{
		"hoodie": {SKU: "hoodie", Price: decimal.NewFromInt(50), InitialStock: 100},
		"tshirt": {SKU: "tshirt", Price: decimal.NewFromInt(25), InitialStock: 200},
		"cap":    {SKU: "cap", Price: decimal.NewFromInt(15), InitialStock: 150},
	}
}

// Stock returns the initial stock per SKU.
func (c Catalog) Stock() map[string]int {
	out := make(map[string]int, len(c))
	for sku, item := range c {
		out[sku] = item.InitialStock
	}
	return out
}
