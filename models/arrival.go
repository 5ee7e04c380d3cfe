package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ArrivalStatus string

const (
	ArrivalStatusPending   ArrivalStatus = "pending"
	ArrivalStatusValidated ArrivalStatus = "validated"
)

func (s ArrivalStatus) IsValid() bool {
	return s == ArrivalStatusPending || s == ArrivalStatusValidated
}

// CbdArrival is a goods receipt. Its only transition is pending -> validated,
// performed by ApplyArrivalValidation; once validated it is frozen.
type CbdArrival struct {
	ID          int               `gorm:"primary_key" json:"id"`
	Amount      decimal.Decimal   `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Status      ArrivalStatus     `gorm:"type:enum('pending','validated');not null;default:'pending';index" json:"status"`
	CreatedBy   *int              `gorm:"index" json:"created_by"`
	ValidatedAt *time.Time        `json:"validated_at"`
	Items       []*ArrivalProduct `gorm:"foreignKey:ArrivalId;constraint:OnDelete:CASCADE" json:"products"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CbdArrival) TableName() string { return "cbd_arrivals" }

// ArrivalProduct is one line item of an arrival.
type ArrivalProduct struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ArrivalId int             `gorm:"not null;index;uniqueIndex:idx_arrival_product" json:"arrival_id"`
	ProductId int             `gorm:"not null;index;uniqueIndex:idx_arrival_product" json:"product_id"`
	Product   *Product        `gorm:"foreignKey:ProductId;constraint:OnDelete:CASCADE" json:"-"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ArrivalProduct) TableName() string { return "arrival_product_cbd" }

func (a *CbdArrival) IsPending() bool {
	return a.Status == ArrivalStatusPending
}

// quantitiesByProduct sums line item quantities per product.
func (a *CbdArrival) quantitiesByProduct() map[int]int {
	out := make(map[int]int, len(a.Items))
	for _, item := range a.Items {
		out[item.ProductId] += item.Quantity
	}
	return out
}

func (a *CbdArrival) itemFor(productId int) *ArrivalProduct {
	for _, item := range a.Items {
		if item.ProductId == productId {
			return item
		}
	}
	return nil
}

type NewArrivalProduct struct {
	ProductId int             `json:"product_id" binding:"required,gt=0"`
	Quantity  int             `json:"quantity" binding:"required,gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"gte=0"`
}

type NewArrival struct {
	Amount   decimal.Decimal      `json:"amount" binding:"gte=0"`
	Status   ArrivalStatus        `json:"status" binding:"required,oneof=pending validated"`
	Products []*NewArrivalProduct `json:"products" binding:"required,min=1,dive,required"`
}

// UpdateArrivalProduct targets the line item for ProductId. When the product
// is not on the arrival yet, Quantity and UnitPrice are both required.
type UpdateArrivalProduct struct {
	ProductId int              `json:"product_id" binding:"required,gt=0"`
	Quantity  *int             `json:"quantity" binding:"omitempty,gte=1"`
	UnitPrice *decimal.Decimal `json:"unit_price" binding:"omitempty,gte=0"`
}

type UpdateArrival struct {
	Amount   *decimal.Decimal        `json:"amount" binding:"omitempty,gte=0"`
	Status   *ArrivalStatus          `json:"status" binding:"omitempty,oneof=pending validated"`
	Products []*UpdateArrivalProduct `json:"products" binding:"omitempty,dive,required"`
}
