package models

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore runs on MySQL through gorm. Row locks use SELECT ... FOR UPDATE.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx StoreTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) View(ctx context.Context, fn func(tx StoreTx) error) error {
	return fn(&gormTx{db: s.db.WithContext(ctx)})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) locking(forUpdate bool) *gorm.DB {
	if forUpdate {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func notFoundOr(err error, resource string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewNotFound(resource, id)
	}
	return classifyMySQLError(err)
}

// classifyMySQLError maps constraint violations to client errors.
func classifyMySQLError(err error) error {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return &utils.AppError{Kind: utils.ErrValidation, Message: "duplicate record", Reason: "a record with the same unique value already exists", Err: err}
		case 1452:
			return &utils.AppError{Kind: utils.ErrNotFound, Message: "referenced record not found", Reason: "a referenced record does not exist", Err: err}
		}
	}
	return err
}

func rowsOrNotFound(res *gorm.DB, resource string, id any) error {
	if res.Error != nil {
		return classifyMySQLError(res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.NewNotFound(resource, id)
	}
	return nil
}

/* arrivals */

func (t *gormTx) GetArrival(id int, forUpdate bool) (*CbdArrival, error) {
	var arrival CbdArrival
	if err := t.locking(forUpdate).First(&arrival, id).Error; err != nil {
		return nil, notFoundOr(err, "arrival", id)
	}
	if err := t.db.Where("arrival_id = ?", id).Order("id").Find(&arrival.Items).Error; err != nil {
		return nil, err
	}
	return &arrival, nil
}

func (t *gormTx) ListArrivals() ([]*CbdArrival, error) {
	var arrivals []*CbdArrival
	err := t.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Order("id DESC").Find(&arrivals).Error
	return arrivals, err
}

func (t *gormTx) ListArrivalItems(arrivalIds []int) ([]*ArrivalProduct, error) {
	var items []*ArrivalProduct
	if len(arrivalIds) == 0 {
		return items, nil
	}
	err := t.db.Where("arrival_id IN ?", arrivalIds).Order("id").Find(&items).Error
	return items, err
}

func (t *gormTx) CreateArrival(arrival *CbdArrival) error {
	return classifyMySQLError(t.db.Create(arrival).Error)
}

func (t *gormTx) UpdateArrivalAmount(id int, amount decimal.Decimal) error {
	return t.db.Model(&CbdArrival{}).Where("id = ?", id).Update("amount", amount).Error
}

func (t *gormTx) TransitionArrivalStatus(id int, from ArrivalStatus, to ArrivalStatus, at time.Time) (bool, error) {
	res := t.db.Model(&CbdArrival{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":       to,
			"validated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) AddArrivalItem(item *ArrivalProduct) error {
	return classifyMySQLError(t.db.Create(item).Error)
}

func (t *gormTx) UpdateArrivalItem(item *ArrivalProduct) error {
	return t.db.Model(&ArrivalProduct{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"quantity":   item.Quantity,
		"unit_price": item.UnitPrice,
	}).Error
}

func (t *gormTx) DeleteArrival(id int) error {
	if err := t.db.Where("arrival_id = ?", id).Delete(&ArrivalProduct{}).Error; err != nil {
		return err
	}
	return rowsOrNotFound(t.db.Delete(&CbdArrival{}, id), "arrival", id)
}

/* products */

func (t *gormTx) GetProduct(id int, forUpdate bool) (*Product, error) {
	var product Product
	if err := t.locking(forUpdate).First(&product, id).Error; err != nil {
		return nil, notFoundOr(err, "product", id)
	}
	return &product, nil
}

func (t *gormTx) LockProducts(ids []int) ([]*Product, error) {
	var products []*Product
	if len(ids) == 0 {
		return products, nil
	}
	sorted := utils.UniqueSlice(ids)
	sort.Ints(sorted)
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id").
		Find(&products).Error
	return products, err
}

func (t *gormTx) ListProducts(filter ProductFilter) ([]*Product, error) {
	q := t.db.Model(&Product{})
	if filter.CategoryId != nil {
		q = q.Where("category_id = ?", *filter.CategoryId)
	}
	if filter.MinPrice != nil {
		q = q.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		q = q.Where("price <= ?", *filter.MaxPrice)
	}
	if filter.InStock != nil {
		if *filter.InStock {
			q = q.Where("stock > 0")
		} else {
			q = q.Where("stock <= 0")
		}
	}
	if filter.Name != nil && strings.TrimSpace(*filter.Name) != "" {
		q = q.Where("name LIKE ?", "%"+escapeLike(strings.TrimSpace(*filter.Name))+"%")
	}
	if filter.Limit != nil {
		q = q.Limit(*filter.Limit)
	}
	var products []*Product
	err := q.Order("name").Order("id").Find(&products).Error
	return products, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (t *gormTx) ListProductsByIds(ids []int) ([]*Product, error) {
	var products []*Product
	if len(ids) == 0 {
		return products, nil
	}
	err := t.db.Where("id IN ?", ids).Order("id").Find(&products).Error
	return products, err
}

func (t *gormTx) ListProductsByCategory(categoryIds []int) ([]*Product, error) {
	var products []*Product
	if len(categoryIds) == 0 {
		return products, nil
	}
	err := t.db.Where("category_id IN ?", categoryIds).Order("name").Order("id").Find(&products).Error
	return products, err
}

func (t *gormTx) MissingProductIds(ids []int) ([]int, error) {
	unique := utils.UniqueSlice(ids)
	if len(unique) == 0 {
		return nil, nil
	}
	var found []int
	if err := t.db.Model(&Product{}).Where("id IN ?", unique).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	return missingIds(unique, found), nil
}

func missingIds(want []int, found []int) []int {
	seen := make(map[int]bool, len(found))
	for _, id := range found {
		seen[id] = true
	}
	var missing []int
	for _, id := range want {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Ints(missing)
	return missing
}

func (t *gormTx) CreateProduct(product *Product) error {
	return classifyMySQLError(t.db.Create(product).Error)
}

func (t *gormTx) SaveProduct(product *Product) error {
	return classifyMySQLError(t.db.Save(product).Error)
}

func (t *gormTx) DeleteProduct(id int) error {
	if err := t.db.Where("product_id = ?", id).Delete(&ProductSupplier{}).Error; err != nil {
		return err
	}
	return rowsOrNotFound(t.db.Delete(&Product{}, id), "product", id)
}

func (t *gormTx) IncrementStock(productId int, delta int) (int, error) {
	if delta != 0 {
		res := t.db.Model(&Product{}).
			Where("id = ? AND stock + ? >= 0", productId, delta).
			Update("stock", gorm.Expr("stock + ?", delta))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := t.db.Model(&Product{}).Where("id = ?", productId).Count(&count).Error; err != nil {
				return 0, err
			}
			if count == 0 {
				return 0, utils.NewNotFound("product", productId)
			}
			return 0, utils.NewValidationError("stock cannot go below zero", map[string]string{"stock": "gte"})
		}
	}
	var product Product
	if err := t.db.Select("id", "stock").First(&product, productId).Error; err != nil {
		return 0, notFoundOr(err, "product", productId)
	}
	return product.Stock, nil
}

/* categories */

func (t *gormTx) GetCategory(id int) (*Category, error) {
	var category Category
	if err := t.db.First(&category, id).Error; err != nil {
		return nil, notFoundOr(err, "category", id)
	}
	return &category, nil
}

func (t *gormTx) ListCategories() ([]*Category, error) {
	var categories []*Category
	err := t.db.Order("name").Order("id").Find(&categories).Error
	return categories, err
}

func (t *gormTx) ListCategoriesByIds(ids []int) ([]*Category, error) {
	var categories []*Category
	if len(ids) == 0 {
		return categories, nil
	}
	err := t.db.Where("id IN ?", ids).Order("id").Find(&categories).Error
	return categories, err
}

func (t *gormTx) CategoryNameTaken(name string, exceptId int) (bool, error) {
	var count int64
	err := t.db.Model(&Category{}).Where("name = ? AND id <> ?", name, exceptId).Count(&count).Error
	return count > 0, err
}

func (t *gormTx) CreateCategory(category *Category) error {
	return classifyMySQLError(t.db.Omit(clause.Associations).Create(category).Error)
}

func (t *gormTx) SaveCategory(category *Category) error {
	return classifyMySQLError(t.db.Omit(clause.Associations).Save(category).Error)
}

func (t *gormTx) DeleteCategory(id int) error {
	if err := t.db.Model(&Product{}).Where("category_id = ?", id).Update("category_id", nil).Error; err != nil {
		return err
	}
	return rowsOrNotFound(t.db.Delete(&Category{}, id), "category", id)
}

/* suppliers */

func (t *gormTx) GetSupplier(id int) (*Supplier, error) {
	var supplier Supplier
	if err := t.db.First(&supplier, id).Error; err != nil {
		return nil, notFoundOr(err, "supplier", id)
	}
	return &supplier, nil
}

func (t *gormTx) ListSuppliers() ([]*Supplier, error) {
	var suppliers []*Supplier
	err := t.db.Order("name").Order("id").Find(&suppliers).Error
	return suppliers, err
}

func (t *gormTx) ListSuppliersByIds(ids []int) ([]*Supplier, error) {
	var suppliers []*Supplier
	if len(ids) == 0 {
		return suppliers, nil
	}
	err := t.db.Where("id IN ?", ids).Order("id").Find(&suppliers).Error
	return suppliers, err
}

func (t *gormTx) CreateSupplier(supplier *Supplier) error {
	return classifyMySQLError(t.db.Create(supplier).Error)
}

func (t *gormTx) SaveSupplier(supplier *Supplier) error {
	return classifyMySQLError(t.db.Save(supplier).Error)
}

func (t *gormTx) DeleteSupplier(id int) error {
	if err := t.db.Where("supplier_id = ?", id).Delete(&ProductSupplier{}).Error; err != nil {
		return err
	}
	return rowsOrNotFound(t.db.Delete(&Supplier{}, id), "supplier", id)
}

func (t *gormTx) AttachSupplierProduct(supplierId int, productId int) error {
	link := ProductSupplier{ProductId: productId, SupplierId: supplierId}
	return classifyMySQLError(t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error)
}

func (t *gormTx) DetachSupplierProduct(supplierId int, productId int) error {
	return t.db.Where("supplier_id = ? AND product_id = ?", supplierId, productId).Delete(&ProductSupplier{}).Error
}

func (t *gormTx) ListProductSuppliers(productIds []int) ([]*ProductSupplier, error) {
	var links []*ProductSupplier
	if len(productIds) == 0 {
		return links, nil
	}
	err := t.db.Where("product_id IN ?", productIds).Order("product_id").Order("supplier_id").Find(&links).Error
	return links, err
}

func (t *gormTx) ListSupplierProducts(supplierIds []int) ([]*ProductSupplier, error) {
	var links []*ProductSupplier
	if len(supplierIds) == 0 {
		return links, nil
	}
	err := t.db.Where("supplier_id IN ?", supplierIds).Order("supplier_id").Order("product_id").Find(&links).Error
	return links, err
}

/* users */

func (t *gormTx) GetUser(id int) (*User, error) {
	var user User
	if err := t.db.First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return &user, nil
}

/* outbox */

func (t *gormTx) CreateStockEvent(event *StockEvent) error {
	return classifyMySQLError(t.db.Create(event).Error)
}
