package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:255;not null;index" json:"name"`
	Description *string         `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	Stock       int             `gorm:"not null;default:0" json:"stock"`
	CategoryId  *int            `gorm:"index" json:"category_id"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string { return "cbd_products" }

type NewProduct struct {
	Name        string          `json:"name" binding:"required,max=255"`
	Description *string         `json:"description"`
	Price       decimal.Decimal `json:"price" binding:"gte=0"`
	Stock       int             `json:"stock" binding:"gte=0"`
	CategoryId  *int            `json:"category_id" binding:"omitempty,gt=0"`
}

// UpdateProduct changes only the fields that are set. Stock applied by
// validated arrivals survives edits that leave stock out.
type UpdateProduct struct {
	Name        *string          `json:"name" binding:"omitempty,max=255"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price" binding:"omitempty,gte=0"`
	Stock       *int             `json:"stock" binding:"omitempty,gte=0"`
	CategoryId  *int             `json:"category_id" binding:"omitempty,gt=0"`
}

// ProductFilter narrows the products listing. Its JSON form is hashed into
// the cache identifier, so keep field order stable.
type ProductFilter struct {
	CategoryId *int             `json:"category_id,omitempty" binding:"omitempty,gt=0"`
	MinPrice   *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice   *decimal.Decimal `json:"max_price,omitempty"`
	InStock    *bool            `json:"in_stock,omitempty"`
	Name       *string          `json:"name,omitempty"`
	Limit      *int             `json:"limit,omitempty" binding:"omitempty,gt=0,lte=500"`
}

func (f ProductFilter) IsEmpty() bool {
	return f.CategoryId == nil && f.MinPrice == nil && f.MaxPrice == nil && f.InStock == nil && f.Name == nil && f.Limit == nil
}

// ProductSupplier is the many-to-many link between products and suppliers.
type ProductSupplier struct {
	ProductId  int       `gorm:"primaryKey;autoIncrement:false" json:"product_id"`
	SupplierId int       `gorm:"primaryKey;autoIncrement:false;index" json:"supplier_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ProductSupplier) TableName() string { return "product_supplier" }
