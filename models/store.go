package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the relational store the services run against. Transaction runs
// fn atomically: any returned error rolls back everything fn wrote. View runs
// read-only work without the transactional overhead.
type Store interface {
	Transaction(ctx context.Context, fn func(tx StoreTx) error) error
	View(ctx context.Context, fn func(tx StoreTx) error) error
}

// StoreTx is the set of record operations available inside Transaction / View.
// Missing rows surface as utils.ErrNotFound.
type StoreTx interface {
	// arrivals
	GetArrival(id int, forUpdate bool) (*CbdArrival, error)
	ListArrivals() ([]*CbdArrival, error)
	ListArrivalItems(arrivalIds []int) ([]*ArrivalProduct, error)
	CreateArrival(arrival *CbdArrival) error
	UpdateArrivalAmount(id int, amount decimal.Decimal) error
	// TransitionArrivalStatus is a conditional update; it reports false when
	// the arrival was no longer in status from.
	TransitionArrivalStatus(id int, from ArrivalStatus, to ArrivalStatus, at time.Time) (bool, error)
	AddArrivalItem(item *ArrivalProduct) error
	UpdateArrivalItem(item *ArrivalProduct) error
	DeleteArrival(id int) error

	// products
	GetProduct(id int, forUpdate bool) (*Product, error)
	// LockProducts row-locks the given products in ascending id order and
	// returns the ones that exist.
	LockProducts(ids []int) ([]*Product, error)
	ListProducts(filter ProductFilter) ([]*Product, error)
	ListProductsByIds(ids []int) ([]*Product, error)
	ListProductsByCategory(categoryIds []int) ([]*Product, error)
	MissingProductIds(ids []int) ([]int, error)
	CreateProduct(product *Product) error
	SaveProduct(product *Product) error
	DeleteProduct(id int) error
	// IncrementStock adds delta to the product's stock. The row must exist
	// and the result must not go negative.
	IncrementStock(productId int, delta int) (int, error)

	// categories
	GetCategory(id int) (*Category, error)
	ListCategories() ([]*Category, error)
	ListCategoriesByIds(ids []int) ([]*Category, error)
	CategoryNameTaken(name string, exceptId int) (bool, error)
	CreateCategory(category *Category) error
	SaveCategory(category *Category) error
	DeleteCategory(id int) error

	// suppliers
	GetSupplier(id int) (*Supplier, error)
	ListSuppliers() ([]*Supplier, error)
	ListSuppliersByIds(ids []int) ([]*Supplier, error)
	CreateSupplier(supplier *Supplier) error
	SaveSupplier(supplier *Supplier) error
	DeleteSupplier(id int) error
	AttachSupplierProduct(supplierId int, productId int) error
	DetachSupplierProduct(supplierId int, productId int) error
	ListProductSuppliers(productIds []int) ([]*ProductSupplier, error)
	ListSupplierProducts(supplierIds []int) ([]*ProductSupplier, error)

	// users
	GetUser(id int) (*User, error)

	// outbox
	CreateStockEvent(event *StockEvent) error
}
