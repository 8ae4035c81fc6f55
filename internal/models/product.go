package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Inventory tracks per-product or per-variant stock. Available is stored
// redundantly (quantity - reserved) so conditional Mongo updates can filter
// on it; every $inc that touches quantity or reserved must touch available
// by the same delta.
type Inventory struct {
	Quantity          int  `bson:"quantity" json:"quantity"`
	Reserved          int  `bson:"reserved" json:"reserved"`
	Available         int  `bson:"available" json:"available"`
	LowStockThreshold int  `bson:"lowStockThreshold" json:"lowStockThreshold"`
	LowStock          bool `bson:"-" json:"lowStock"`
	OutOfStock        bool `bson:"-" json:"outOfStock"`
}

// Variant is a purchasable variation of a product with its own price and stock.
type Variant struct {
	ID        primitive.ObjectID `bson:"id" json:"id"`
	SKU       string             `bson:"sku" json:"sku"`
	Name      string             `bson:"name" json:"name"`
	Price     float64            `bson:"price" json:"price"`
	Inventory Inventory          `bson:"inventory" json:"inventory"`
}

type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	SKU         string             `bson:"sku,omitempty" json:"sku,omitempty"`
	Price       float64            `bson:"price" json:"price"`
	SaleEnabled bool               `bson:"saleEnabled" json:"saleEnabled"`
	SalePrice   float64            `bson:"salePrice" json:"salePrice"`
	IsOnSale    bool               `bson:"-" json:"isOnSale"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Brand       string             `bson:"brand,omitempty" json:"brand,omitempty"`
	ImagePath   string             `bson:"imagePath,omitempty" json:"imagePath,omitempty"`
	Inventory   Inventory          `bson:"inventory" json:"inventory"`
	Variants    []Variant          `bson:"variants,omitempty" json:"variants,omitempty"`
	InStock     bool               `bson:"-" json:"inStock"`
	IsActive    bool               `bson:"isActive" json:"isActive"`
	IsDeleted   bool               `bson:"isDeleted" json:"isDeleted,omitempty"`
	DeletedAt   *time.Time         `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// ComputeDerived fills the JSON-only flags after a document load.
func (p *Product) ComputeDerived() {
	p.IsOnSale = p.SaleEnabled && p.SalePrice > 0 && p.SalePrice < p.Price
	p.Inventory.computeDerived()
	for i := range p.Variants {
		p.Variants[i].Inventory.computeDerived()
	}
	p.InStock = p.AvailableQuantity(nil) > 0
}

func (inv *Inventory) computeDerived() {
	inv.OutOfStock = inv.Available <= 0
	inv.LowStock = !inv.OutOfStock && inv.Available <= inv.LowStockThreshold
}

// Variant returns the embedded variant with the given id, or nil.
func (p *Product) Variant(id primitive.ObjectID) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}

// AvailableQuantity reports sellable stock: variant-level when a variant is
// named, summed across variants otherwise, falling back to the product-level
// inventory for products without variants.
func (p *Product) AvailableQuantity(variantID *primitive.ObjectID) int {
	if variantID != nil {
		if v := p.Variant(*variantID); v != nil {
			return v.Inventory.Available
		}
		return 0
	}
	if len(p.Variants) > 0 {
		sum := 0
		for i := range p.Variants {
			sum += p.Variants[i].Inventory.Available
		}
		return sum
	}
	return p.Inventory.Available
}

// UnitPrice returns the effective price for a (product, variant) selection,
// honoring an active sale on the base product price.
func (p *Product) UnitPrice(variantID *primitive.ObjectID) float64 {
	if variantID != nil {
		if v := p.Variant(*variantID); v != nil {
			return v.Price
		}
	}
	if p.SaleEnabled && p.SalePrice > 0 && p.SalePrice < p.Price {
		return p.SalePrice
	}
	return p.Price
}

// DisplaySKU resolves the sku for a selection, preferring the variant's.
func (p *Product) DisplaySKU(variantID *primitive.ObjectID) string {
	if variantID != nil {
		if v := p.Variant(*variantID); v != nil && v.SKU != "" {
			return v.SKU
		}
	}
	return p.SKU
}
