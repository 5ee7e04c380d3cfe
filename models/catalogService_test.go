package models

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/shopspring/decimal"
)

func newCatalogFixture(t *testing.T) (*CatalogService, *MemoryStore, *cache.GraphQLCache) {
	t.Helper()
	store := NewMemoryStore()
	c := cache.New(cache.NewMemoryStore(), cache.WithLogger(quietLogger()))
	return NewCatalogService(store, c, quietLogger()), store, c
}

func strPtr(s string) *string { return &s }

func TestCatalog_CategoriesAreCachedWithProducts(t *testing.T) {
	svc, _, c := newCatalogFixture(t)
	ctx := context.Background()

	drinks, err := svc.CreateCategory(ctx, &NewCategory{Name: "Drinks"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if _, err := svc.CreateProduct(ctx, &NewProduct{Name: "Tea", Price: decimal.NewFromInt(3), Stock: 4, CategoryId: &drinks.ID}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	first, err := svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(first) != 1 || len(first[0].Products) != 1 || first[0].Products[0].Name != "Tea" {
		t.Fatalf("categories = %+v, want Drinks with Tea", first)
	}
	if _, err := svc.ListCategories(ctx); err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	stats, _ := c.Stats(ctx)
	if stats.Hits != 1 {
		t.Fatalf("hits = %d, want 1", stats.Hits)
	}

	if _, err := svc.CreateCategory(ctx, &NewCategory{Name: "Oils"}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	after, err := svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("categories after create = %d, want 2", len(after))
	}
}

func TestCatalog_CategoryNameMustBeUnique(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()
	if _, err := svc.CreateCategory(ctx, &NewCategory{Name: "Flowers"}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	_, err := svc.CreateCategory(ctx, &NewCategory{Name: "flowers"})
	if !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("err = %v, want ValidationFailure", err)
	}
	if utils.FieldsOf(err)["name"] != "unique" {
		t.Fatalf("fields = %v", utils.FieldsOf(err))
	}
}

func TestCatalog_MissingRowsAreNil(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()

	if c, err := svc.GetCategory(ctx, 42); err != nil || c != nil {
		t.Fatalf("GetCategory = %v, %v; want nil, nil", c, err)
	}
	if p, err := svc.GetProduct(ctx, 42); err != nil || p != nil {
		t.Fatalf("GetProduct = %v, %v; want nil, nil", p, err)
	}
	if s, err := svc.GetSupplier(ctx, 42); err != nil || s != nil {
		t.Fatalf("GetSupplier = %v, %v; want nil, nil", s, err)
	}
}

func TestCatalog_DeleteCategoryDetachesProducts(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()
	cat, _ := svc.CreateCategory(ctx, &NewCategory{Name: "Edibles"})
	product, err := svc.CreateProduct(ctx, &NewProduct{Name: "Gummies", Price: decimal.NewFromInt(12), CategoryId: &cat.ID})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if cached, _ := svc.GetProduct(ctx, product.ID); cached == nil || cached.CategoryId == nil {
		t.Fatalf("product before delete = %+v", cached)
	}

	if _, err := svc.DeleteCategory(ctx, cat.ID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	got, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.CategoryId != nil {
		t.Fatalf("category_id = %d, want nil", *got.CategoryId)
	}
}

func TestCatalog_ProductFiltersUseSeparateKeys(t *testing.T) {
	svc, _, c := newCatalogFixture(t)
	ctx := context.Background()
	for _, p := range []NewProduct{
		{Name: "Oil 10%", Price: decimal.NewFromInt(30), Stock: 0},
		{Name: "Oil 20%", Price: decimal.NewFromInt(50), Stock: 3},
		{Name: "Balm", Price: decimal.NewFromInt(15), Stock: 9},
	} {
		p := p
		if _, err := svc.CreateProduct(ctx, &p); err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
	}

	all, err := svc.ListProducts(ctx, ProductFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListProducts() = %d, %v; want 3", len(all), err)
	}
	inStock := true
	name := "oil"
	filtered, err := svc.ListProducts(ctx, ProductFilter{InStock: &inStock, Name: &name})
	if err != nil {
		t.Fatalf("ListProducts(filter): %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "Oil 20%" {
		t.Fatalf("filtered = %+v, want Oil 20%%", filtered)
	}
	stats, _ := c.Stats(ctx)
	if stats.Keys != 2 {
		t.Fatalf("cached keys = %d, want 2", stats.Keys)
	}

	limit := 0
	if _, err := svc.ListProducts(ctx, ProductFilter{Limit: &limit}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("zero limit err = %v, want ValidationFailure", err)
	}
}

func TestCatalog_AdjustProductStock(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()
	product, _ := svc.CreateProduct(ctx, &NewProduct{Name: "Seeds", Price: decimal.NewFromInt(8), Stock: 5})

	if _, err := svc.GetProduct(ctx, product.ID); err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	adjusted, err := svc.AdjustProductStock(ctx, product.ID, -2)
	if err != nil {
		t.Fatalf("AdjustProductStock: %v", err)
	}
	if adjusted.Stock != 3 {
		t.Fatalf("stock = %d, want 3", adjusted.Stock)
	}
	if cached, _ := svc.GetProduct(ctx, product.ID); cached.Stock != 3 {
		t.Fatalf("cached stock = %d, want 3", cached.Stock)
	}

	cases := []struct {
		name  string
		id    int
		delta int
		kind  error
	}{
		{"zero delta", product.ID, 0, utils.ErrValidation},
		{"below zero", product.ID, -4, utils.ErrValidation},
		{"missing product", 999, 1, utils.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AdjustProductStock(ctx, tc.id, tc.delta); !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestCatalog_CreateProductWithUnknownCategory(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	missing := 7
	_, err := svc.CreateProduct(context.Background(), &NewProduct{Name: "Hash", Price: decimal.NewFromInt(1), CategoryId: &missing})
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestCatalog_SupplierPhoneIsNormalized(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	svc.phoneRegion = "FR"
	ctx := context.Background()

	supplier, err := svc.CreateSupplier(ctx, &NewSupplier{Name: "Green Farm", Phone: strPtr("06 12 34 56 78"), Email: strPtr("sales@greenfarm.fr")})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	if supplier.Phone == nil || *supplier.Phone != "+33612345678" {
		t.Fatalf("phone = %v, want +33612345678", supplier.Phone)
	}

	cases := []struct {
		name  string
		input NewSupplier
		field string
	}{
		{"bad phone", NewSupplier{Name: "X", Phone: strPtr("12")}, "phone"},
		{"bad email", NewSupplier{Name: "X", Email: strPtr("not-an-email")}, "email"},
		{"missing name", NewSupplier{}, "name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := tc.input
			_, err := svc.CreateSupplier(ctx, &input)
			if !errors.Is(err, utils.ErrValidation) {
				t.Fatalf("err = %v, want ValidationFailure", err)
			}
			if _, ok := utils.FieldsOf(err)[tc.field]; !ok {
				t.Fatalf("fields = %v, want %s", utils.FieldsOf(err), tc.field)
			}
		})
	}
}

func TestCatalog_AttachAndDetachSupplier(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()
	supplier, _ := svc.CreateSupplier(ctx, &NewSupplier{Name: "Hemp Co"})
	p1, _ := svc.CreateProduct(ctx, &NewProduct{Name: "A", Price: decimal.NewFromInt(1)})
	p2, _ := svc.CreateProduct(ctx, &NewProduct{Name: "B", Price: decimal.NewFromInt(1)})

	for _, p := range []*Product{p1, p2} {
		if _, err := svc.AttachSupplierToProduct(ctx, supplier.ID, p.ID); err != nil {
			t.Fatalf("AttachSupplierToProduct: %v", err)
		}
	}
	// attaching twice is a no-op
	if _, err := svc.AttachSupplierToProduct(ctx, supplier.ID, p1.ID); err != nil {
		t.Fatalf("second attach: %v", err)
	}

	bySupplier, err := svc.ProductsForSuppliers(ctx, []int{supplier.ID})
	if err != nil {
		t.Fatalf("ProductsForSuppliers: %v", err)
	}
	var ids []int
	for _, p := range bySupplier[supplier.ID] {
		ids = append(ids, p.ID)
	}
	sort.Ints(ids)
	if len(ids) != 2 || ids[0] != p1.ID || ids[1] != p2.ID {
		t.Fatalf("supplier products = %v", ids)
	}

	if _, err := svc.DetachSupplierFromProduct(ctx, supplier.ID, p1.ID); err != nil {
		t.Fatalf("DetachSupplierFromProduct: %v", err)
	}
	byProduct, err := svc.SuppliersForProducts(ctx, []int{p1.ID, p2.ID})
	if err != nil {
		t.Fatalf("SuppliersForProducts: %v", err)
	}
	if len(byProduct[p1.ID]) != 0 || len(byProduct[p2.ID]) != 1 {
		t.Fatalf("suppliers by product = %v", byProduct)
	}

	if _, err := svc.AttachSupplierToProduct(ctx, supplier.ID, 999); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("attach missing product err = %v, want NotFound", err)
	}
}

func TestCatalog_UserPermissions(t *testing.T) {
	svc, store, _ := newCatalogFixture(t)
	store.PutUser(User{ID: 1, Name: "Admin", Email: "admin@example.com", IsAdmin: true})
	store.PutUser(User{ID: 2, Name: "Clerk", Email: "clerk@example.com"})
	ctx := context.Background()

	admin, err := svc.GetUserPermissions(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserPermissions: %v", err)
	}
	if !HasPermission(admin, PermissionCacheAdmin) || !HasPermission(admin, PermissionArrivalWrite) {
		t.Fatalf("admin permissions = %v", admin)
	}
	clerk, _ := svc.GetUserPermissions(ctx, 2)
	if HasPermission(clerk, PermissionArrivalWrite) || !HasPermission(clerk, PermissionArrivalRead) {
		t.Fatalf("clerk permissions = %v", clerk)
	}
	if profile, err := svc.GetUserProfile(ctx, 3); err != nil || profile != nil {
		t.Fatalf("unknown user profile = %v, %v", profile, err)
	}
}

func TestCatalog_WarmUp(t *testing.T) {
	svc, _, c := newCatalogFixture(t)
	ctx := context.Background()
	svc.CreateCategory(ctx, &NewCategory{Name: "Drinks"})
	svc.CreateSupplier(ctx, &NewSupplier{Name: "Hemp Co"})

	report, err := svc.WarmUp(ctx)
	if err != nil {
		t.Fatalf("WarmUp: %v", err)
	}
	if report.Skipped || len(report.Warmed) != 2 {
		t.Fatalf("report = %+v", report)
	}
	want := map[string]bool{
		c.Key(cache.ResourceCategories, cache.IdentifierAll): true,
		c.Key(cache.ResourceSuppliers, cache.IdentifierAll):  true,
	}
	for _, k := range report.Warmed {
		if !want[k] {
			t.Fatalf("unexpected warmed key %q", k)
		}
	}

	if _, err := svc.ListSuppliers(ctx); err != nil {
		t.Fatalf("ListSuppliers: %v", err)
	}
	stats, _ := c.Stats(ctx)
	if stats.Hits != 1 {
		t.Fatalf("hits after warm-up = %d, want 1", stats.Hits)
	}
}
