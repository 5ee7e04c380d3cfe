package models

import "time"

// User is read-only here; accounts are managed by the auth service.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	IsAdmin   bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Permission string

const (
	PermissionCatalogRead  Permission = "catalog:read"
	PermissionCatalogWrite Permission = "catalog:write"
	PermissionArrivalRead  Permission = "arrival:read"
	PermissionArrivalWrite Permission = "arrival:write"
	PermissionCacheAdmin   Permission = "cache:admin"
)

// PermissionsFor lists what a user may do. Every authenticated user reads;
// admins also write and manage the cache.
func PermissionsFor(u *User) []Permission {
	perms := []Permission{PermissionCatalogRead, PermissionArrivalRead}
	if u != nil && u.IsAdmin {
		perms = append(perms, PermissionCatalogWrite, PermissionArrivalWrite, PermissionCacheAdmin)
	}
	return perms
}

func HasPermission(perms []Permission, want Permission) bool {
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}
