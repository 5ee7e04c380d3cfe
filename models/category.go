package models

import "time"

type Category struct {
	ID          int        `gorm:"primary_key" json:"id"`
	Name        string     `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Description *string    `gorm:"type:text" json:"description"`
	Products    []*Product `gorm:"foreignKey:CategoryId;constraint:OnDelete:SET NULL" json:"products,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Category) TableName() string { return "categories" }

type NewCategory struct {
	Name        string  `json:"name" binding:"required,max=255"`
	Description *string `json:"description"`
}
