package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/sirupsen/logrus"
)

// CatalogService serves categories, products, suppliers and user profiles.
// Reads go through the GraphQL cache; every write invalidates the resource
// types it touched after the store commits.
type CatalogService struct {
	store       Store
	cache       *cache.GraphQLCache
	logger      *logrus.Logger
	phoneRegion string
}

func NewCatalogService(store Store, c *cache.GraphQLCache, logger *logrus.Logger) *CatalogService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CatalogService{
		store:       store,
		cache:       c,
		logger:      logger,
		phoneRegion: config.PhoneRegion(),
	}
}

func (s *CatalogService) Cache() *cache.GraphQLCache { return s.cache }

func (s *CatalogService) view(ctx context.Context, op string, fn func(tx StoreTx) error) error {
	if err := s.store.View(ctx, fn); err != nil {
		err = utils.WrapInternal(op, err)
		if errors.Is(err, utils.ErrInternal) {
			config.LogError(s.logger, "CatalogService", op, "store read failed", nil, err)
		}
		return err
	}
	return nil
}

func (s *CatalogService) write(ctx context.Context, op string, data any, fn func(tx StoreTx) error, touched ...cache.ResourceType) error {
	if err := s.store.Transaction(ctx, fn); err != nil {
		err = utils.WrapTransaction(op, err)
		if errors.Is(err, utils.ErrTransaction) {
			config.LogError(s.logger, "CatalogService", op, "store write failed", data, err)
		}
		return err
	}
	for _, r := range touched {
		if err := s.cache.InvalidateFor(ctx, r); err != nil {
			config.LogError(s.logger, "CatalogService", op, "invalidating "+string(r), data, err)
		}
	}
	return nil
}

// nilIfNotFound turns a missing row into a cacheable null result.
func nilIfNotFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

/* categories */

func (s *CatalogService) loadCategories(ctx context.Context) ([]*Category, error) {
	var categories []*Category
	err := s.view(ctx, "loadCategories", func(tx StoreTx) error {
		var err error
		categories, err = tx.ListCategories()
		if err != nil {
			return err
		}
		return attachProducts(tx, categories)
	})
	return categories, err
}

func attachProducts(tx StoreTx, categories []*Category) error {
	ids := make([]int, 0, len(categories))
	byId := make(map[int]*Category, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
		byId[c.ID] = c
		c.Products = []*Product{}
	}
	products, err := tx.ListProductsByCategory(ids)
	if err != nil {
		return err
	}
	for _, p := range products {
		if c := byId[*p.CategoryId]; c != nil {
			c.Products = append(c.Products, p)
		}
	}
	return nil
}

// ListCategories returns every category with its products.
func (s *CatalogService) ListCategories(ctx context.Context) ([]*Category, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourceCategories, cache.IdentifierAll, s.loadCategories)
}

// GetCategory returns nil when the category does not exist.
func (s *CatalogService) GetCategory(ctx context.Context, id int) (*Category, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourceCategories, cache.ID(id), func(ctx context.Context) (*Category, error) {
		var category *Category
		err := s.view(ctx, "GetCategory", func(tx StoreTx) error {
			c, err := nilIfNotFound(tx.GetCategory(id))
			if err != nil || c == nil {
				return err
			}
			category = c
			return attachProducts(tx, []*Category{c})
		})
		return category, err
	})
}

// CategoriesByIds reads straight from the store; used by batch loaders.
// Products are not attached.
func (s *CatalogService) CategoriesByIds(ctx context.Context, ids []int) (map[int]*Category, error) {
	out := make(map[int]*Category, len(ids))
	err := s.view(ctx, "CategoriesByIds", func(tx StoreTx) error {
		categories, err := tx.ListCategoriesByIds(ids)
		for _, c := range categories {
			out[c.ID] = c
		}
		return err
	})
	return out, err
}

func (s *CatalogService) CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	category := &Category{Name: strings.TrimSpace(input.Name), Description: input.Description}
	err := s.write(ctx, "CreateCategory", input, func(tx StoreTx) error {
		if err := ensureCategoryNameFree(tx, category.Name, 0); err != nil {
			return err
		}
		return tx.CreateCategory(category)
	}, cache.ResourceCategories)
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id int, input *NewCategory) (*Category, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	var category *Category
	err := s.write(ctx, "UpdateCategory", input, func(tx StoreTx) error {
		var err error
		category, err = tx.GetCategory(id)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(input.Name)
		if err := ensureCategoryNameFree(tx, name, id); err != nil {
			return err
		}
		category.Name = name
		category.Description = input.Description
		return tx.SaveCategory(category)
	}, cache.ResourceCategories)
	if err != nil {
		return nil, err
	}
	return category, nil
}

func ensureCategoryNameFree(tx StoreTx, name string, exceptId int) error {
	taken, err := tx.CategoryNameTaken(name, exceptId)
	if err != nil {
		return err
	}
	if taken {
		return utils.NewValidationError("duplicate name", map[string]string{"name": "unique"})
	}
	return nil
}

// DeleteCategory detaches its products, so product reads go stale too.
func (s *CatalogService) DeleteCategory(ctx context.Context, id int) (*Category, error) {
	var category *Category
	err := s.write(ctx, "DeleteCategory", id, func(tx StoreTx) error {
		var err error
		category, err = tx.GetCategory(id)
		if err != nil {
			return err
		}
		return tx.DeleteCategory(id)
	}, cache.ResourceCategories, cache.ResourceProducts)
	if err != nil {
		return nil, err
	}
	return category, nil
}

/* products */

func (s *CatalogService) ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	if err := utils.ValidateInput(filter); err != nil {
		return nil, err
	}
	identifier := cache.IdentifierAll
	if !filter.IsEmpty() {
		var err error
		identifier, err = cache.FilterIdentifier(filter)
		if err != nil {
			return nil, utils.WrapInternal("hash product filter", err)
		}
	}
	return cache.GetCached(ctx, s.cache, cache.ResourceProducts, identifier, func(ctx context.Context) ([]*Product, error) {
		var products []*Product
		err := s.view(ctx, "ListProducts", func(tx StoreTx) error {
			var err error
			products, err = tx.ListProducts(filter)
			return err
		})
		if products == nil && err == nil {
			products = []*Product{}
		}
		return products, err
	})
}

// GetProduct returns nil when the product does not exist.
func (s *CatalogService) GetProduct(ctx context.Context, id int) (*Product, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourceProducts, cache.ID(id), func(ctx context.Context) (*Product, error) {
		var product *Product
		err := s.view(ctx, "GetProduct", func(tx StoreTx) error {
			var err error
			product, err = nilIfNotFound(tx.GetProduct(id, false))
			return err
		})
		return product, err
	})
}

// ProductsByIds reads straight from the store; used by batch loaders.
func (s *CatalogService) ProductsByIds(ctx context.Context, ids []int) (map[int]*Product, error) {
	out := make(map[int]*Product, len(ids))
	err := s.view(ctx, "ProductsByIds", func(tx StoreTx) error {
		products, err := tx.ListProductsByIds(ids)
		for _, p := range products {
			out[p.ID] = p
		}
		return err
	})
	return out, err
}

func (s *CatalogService) CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	product := &Product{
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Price:       input.Price,
		Stock:       input.Stock,
		CategoryId:  input.CategoryId,
	}
	err := s.write(ctx, "CreateProduct", input, func(tx StoreTx) error {
		if product.CategoryId != nil {
			if _, err := tx.GetCategory(*product.CategoryId); err != nil {
				return err
			}
		}
		return tx.CreateProduct(product)
	}, cache.ResourceProducts)
	if err != nil {
		return nil, err
	}
	return product, nil
}

// UpdateProduct applies the fields set on input. The row is locked so a
// manual stock edit cannot interleave with an arrival validation.
func (s *CatalogService) UpdateProduct(ctx context.Context, id int, input *UpdateProduct) (*Product, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return nil, utils.NewValidationError("name must not be blank", map[string]string{"name": "required"})
	}
	var product *Product
	err := s.write(ctx, "UpdateProduct", input, func(tx StoreTx) error {
		var err error
		product, err = tx.GetProduct(id, true)
		if err != nil {
			return err
		}
		if input.CategoryId != nil {
			if _, err := tx.GetCategory(*input.CategoryId); err != nil {
				return err
			}
			product.CategoryId = input.CategoryId
		}
		if input.Name != nil {
			product.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			product.Description = input.Description
		}
		if input.Price != nil {
			product.Price = *input.Price
		}
		if input.Stock != nil {
			product.Stock = *input.Stock
		}
		return tx.SaveProduct(product)
	}, cache.ResourceProducts)
	if err != nil {
		return nil, err
	}
	return product, nil
}

// AdjustProductStock adds delta (which may be negative) under a row lock.
func (s *CatalogService) AdjustProductStock(ctx context.Context, id int, delta int) (*Product, error) {
	if delta == 0 {
		return nil, utils.NewValidationError("delta must not be zero", map[string]string{"delta": "ne"})
	}
	var product *Product
	err := s.write(ctx, "AdjustProductStock", map[string]int{"product_id": id, "delta": delta}, func(tx StoreTx) error {
		var err error
		product, err = tx.GetProduct(id, true)
		if err != nil {
			return err
		}
		product.Stock, err = tx.IncrementStock(id, delta)
		return err
	}, cache.ResourceProducts)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int) (*Product, error) {
	var product *Product
	err := s.write(ctx, "DeleteProduct", id, func(tx StoreTx) error {
		var err error
		product, err = tx.GetProduct(id, true)
		if err != nil {
			return err
		}
		return tx.DeleteProduct(id)
	}, cache.ResourceProducts)
	if err != nil {
		return nil, err
	}
	return product, nil
}

/* suppliers */

func (s *CatalogService) ListSuppliers(ctx context.Context) ([]*Supplier, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourceSuppliers, cache.IdentifierAll, s.loadSuppliers)
}

func (s *CatalogService) loadSuppliers(ctx context.Context) ([]*Supplier, error) {
	suppliers := []*Supplier{}
	err := s.view(ctx, "ListSuppliers", func(tx StoreTx) error {
		rows, err := tx.ListSuppliers()
		suppliers = append(suppliers, rows...)
		return err
	})
	return suppliers, err
}

// GetSupplier returns nil when the supplier does not exist.
func (s *CatalogService) GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourceSuppliers, cache.ID(id), func(ctx context.Context) (*Supplier, error) {
		var supplier *Supplier
		err := s.view(ctx, "GetSupplier", func(tx StoreTx) error {
			var err error
			supplier, err = nilIfNotFound(tx.GetSupplier(id))
			return err
		})
		return supplier, err
	})
}

func (s *CatalogService) normalizeSupplier(input *NewSupplier) (*NewSupplier, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	out := *input
	out.Name = strings.TrimSpace(input.Name)
	if input.Phone != nil && strings.TrimSpace(*input.Phone) != "" {
		phone, err := utils.NormalizePhoneNumber(strings.TrimSpace(*input.Phone), s.phoneRegion)
		if err != nil {
			return nil, utils.NewValidationError(fmt.Sprintf("invalid phone number: %v", err), map[string]string{"phone": "e164"})
		}
		out.Phone = &phone
	} else {
		out.Phone = nil
	}
	return &out, nil
}

func applySupplierInput(supplier *Supplier, input *NewSupplier) {
	supplier.Name = input.Name
	supplier.Email = input.Email
	supplier.Phone = input.Phone
	supplier.Address = input.Address
	supplier.Website = input.Website
	supplier.ContactPerson = input.ContactPerson
	supplier.Description = input.Description
}

func (s *CatalogService) CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {
	normalized, err := s.normalizeSupplier(input)
	if err != nil {
		return nil, err
	}
	supplier := &Supplier{}
	applySupplierInput(supplier, normalized)
	err = s.write(ctx, "CreateSupplier", normalized, func(tx StoreTx) error {
		return tx.CreateSupplier(supplier)
	}, cache.ResourceSuppliers)
	if err != nil {
		return nil, err
	}
	return supplier, nil
}

func (s *CatalogService) UpdateSupplier(ctx context.Context, id int, input *NewSupplier) (*Supplier, error) {
	normalized, err := s.normalizeSupplier(input)
	if err != nil {
		return nil, err
	}
	var supplier *Supplier
	err = s.write(ctx, "UpdateSupplier", normalized, func(tx StoreTx) error {
		var err error
		supplier, err = tx.GetSupplier(id)
		if err != nil {
			return err
		}
		applySupplierInput(supplier, normalized)
		return tx.SaveSupplier(supplier)
	}, cache.ResourceSuppliers)
	if err != nil {
		return nil, err
	}
	return supplier, nil
}

func (s *CatalogService) DeleteSupplier(ctx context.Context, id int) (*Supplier, error) {
	var supplier *Supplier
	err := s.write(ctx, "DeleteSupplier", id, func(tx StoreTx) error {
		var err error
		supplier, err = tx.GetSupplier(id)
		if err != nil {
			return err
		}
		return tx.DeleteSupplier(id)
	}, cache.ResourceSuppliers)
	if err != nil {
		return nil, err
	}
	return supplier, nil
}

func (s *CatalogService) AttachSupplierToProduct(ctx context.Context, supplierId int, productId int) (*Supplier, error) {
	return s.linkSupplier(ctx, "AttachSupplierToProduct", supplierId, productId, StoreTx.AttachSupplierProduct)
}

func (s *CatalogService) DetachSupplierFromProduct(ctx context.Context, supplierId int, productId int) (*Supplier, error) {
	return s.linkSupplier(ctx, "DetachSupplierFromProduct", supplierId, productId, StoreTx.DetachSupplierProduct)
}

func (s *CatalogService) linkSupplier(ctx context.Context, op string, supplierId int, productId int, apply func(StoreTx, int, int) error) (*Supplier, error) {
	var supplier *Supplier
	err := s.write(ctx, op, map[string]int{"supplier_id": supplierId, "product_id": productId}, func(tx StoreTx) error {
		var err error
		supplier, err = tx.GetSupplier(supplierId)
		if err != nil {
			return err
		}
		if _, err := tx.GetProduct(productId, false); err != nil {
			return err
		}
		return apply(tx, supplierId, productId)
	}, cache.ResourceSuppliers)
	if err != nil {
		return nil, err
	}
	return supplier, nil
}

// SuppliersForProducts groups suppliers by product id; used by batch loaders.
func (s *CatalogService) SuppliersForProducts(ctx context.Context, productIds []int) (map[int][]*Supplier, error) {
	out := make(map[int][]*Supplier, len(productIds))
	err := s.view(ctx, "SuppliersForProducts", func(tx StoreTx) error {
		links, err := tx.ListProductSuppliers(productIds)
		if err != nil {
			return err
		}
		supplierIds := make([]int, 0, len(links))
		for _, l := range links {
			supplierIds = append(supplierIds, l.SupplierId)
		}
		suppliers, err := tx.ListSuppliersByIds(utils.UniqueSlice(supplierIds))
		if err != nil {
			return err
		}
		byId := make(map[int]*Supplier, len(suppliers))
		for _, sp := range suppliers {
			byId[sp.ID] = sp
		}
		for _, l := range links {
			if sp := byId[l.SupplierId]; sp != nil {
				out[l.ProductId] = append(out[l.ProductId], sp)
			}
		}
		return nil
	})
	return out, err
}

// ProductsForSuppliers groups products by supplier id; used by batch loaders.
func (s *CatalogService) ProductsForSuppliers(ctx context.Context, supplierIds []int) (map[int][]*Product, error) {
	out := make(map[int][]*Product, len(supplierIds))
	err := s.view(ctx, "ProductsForSuppliers", func(tx StoreTx) error {
		links, err := tx.ListSupplierProducts(supplierIds)
		if err != nil {
			return err
		}
		productIds := make([]int, 0, len(links))
		for _, l := range links {
			productIds = append(productIds, l.ProductId)
		}
		products, err := tx.ListProductsByIds(utils.UniqueSlice(productIds))
		if err != nil {
			return err
		}
		byId := make(map[int]*Product, len(products))
		for _, p := range products {
			byId[p.ID] = p
		}
		for _, l := range links {
			if p := byId[l.ProductId]; p != nil {
				out[l.SupplierId] = append(out[l.SupplierId], p)
			}
		}
		return nil
	})
	return out, err
}

/* users */

// GetUserProfile returns nil when the user does not exist.
func (s *CatalogService) GetUserProfile(ctx context.Context, id int) (*User, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourceUserProfile, cache.ID(id), func(ctx context.Context) (*User, error) {
		var user *User
		err := s.view(ctx, "GetUserProfile", func(tx StoreTx) error {
			var err error
			user, err = nilIfNotFound(tx.GetUser(id))
			return err
		})
		return user, err
	})
}

func (s *CatalogService) GetUserPermissions(ctx context.Context, id int) ([]Permission, error) {
	return cache.GetCached(ctx, s.cache, cache.ResourcePermissions, cache.ID(id), func(ctx context.Context) ([]Permission, error) {
		user, err := s.GetUserProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			// a token outliving its account grants nothing
			return []Permission{}, nil
		}
		return PermissionsFor(user), nil
	})
}

/* cache administration */

// WarmUp preloads categories with their products, and suppliers. Each one is
// attempted even if the other fails.
func (s *CatalogService) WarmUp(ctx context.Context) (cache.WarmUpReport, error) {
	return s.cache.WarmUp(ctx,
		cache.WarmUpTask{
			Resource:   cache.ResourceCategories,
			Identifier: cache.IdentifierAll,
			Load: func(ctx context.Context) (any, error) {
				return s.loadCategories(ctx)
			},
		},
		cache.WarmUpTask{
			Resource:   cache.ResourceSuppliers,
			Identifier: cache.IdentifierAll,
			Load: func(ctx context.Context) (any, error) {
				return s.loadSuppliers(ctx)
			},
		},
	)
}
