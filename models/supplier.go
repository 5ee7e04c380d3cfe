package models

import "time"

type Supplier struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"size:255;not null;index" json:"name"`
	Email         *string   `gorm:"size:255" json:"email"`
	Phone         *string   `gorm:"size:32" json:"phone"`
	Address       *string   `gorm:"type:text" json:"address"`
	Website       *string   `gorm:"size:255" json:"website"`
	ContactPerson *string   `gorm:"size:255" json:"contact_person"`
	Description   *string   `gorm:"type:text" json:"description"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Supplier) TableName() string { return "suppliers" }

type NewSupplier struct {
	Name          string  `json:"name" binding:"required,max=255"`
	Email         *string `json:"email" binding:"omitempty,email"`
	Phone         *string `json:"phone"`
	Address       *string `json:"address"`
	Website       *string `json:"website" binding:"omitempty,url"`
	ContactPerson *string `json:"contact_person" binding:"omitempty,max=255"`
	Description   *string `json:"description"`
}
