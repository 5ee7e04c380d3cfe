package models

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type arrivalFixture struct {
	store    *MemoryStore
	cache    *cache.GraphQLCache
	service  *ArrivalService
	catalog  *CatalogService
	products []*Product
}

// newArrivalFixture seeds one product per given stock level.
func newArrivalFixture(t *testing.T, stocks ...int) *arrivalFixture {
	t.Helper()
	store := NewMemoryStore()
	c := cache.New(cache.NewMemoryStore(), cache.WithLogger(quietLogger()))
	f := &arrivalFixture{
		store:   store,
		cache:   c,
		service: NewArrivalService(store, c, quietLogger()),
		catalog: NewCatalogService(store, c, quietLogger()),
	}
	err := store.Transaction(context.Background(), func(tx StoreTx) error {
		for i, stock := range stocks {
			p := &Product{Name: "product " + string(rune('A'+i)), Price: decimal.NewFromInt(10), Stock: stock}
			if err := tx.CreateProduct(p); err != nil {
				return err
			}
			f.products = append(f.products, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed products: %v", err)
	}
	return f
}

func (f *arrivalFixture) stock(t *testing.T, productId int) int {
	t.Helper()
	var stock int
	err := f.store.View(context.Background(), func(tx StoreTx) error {
		p, err := tx.GetProduct(productId, false)
		if err != nil {
			return err
		}
		stock = p.Stock
		return nil
	})
	if err != nil {
		t.Fatalf("read stock of product %d: %v", productId, err)
	}
	return stock
}

func (f *arrivalFixture) createPending(t *testing.T, lines map[int]int) *CbdArrival {
	t.Helper()
	input := &NewArrival{Amount: decimal.NewFromInt(500), Status: ArrivalStatusPending}
	for _, p := range f.products {
		if qty, ok := lines[p.ID]; ok {
			input.Products = append(input.Products, &NewArrivalProduct{ProductId: p.ID, Quantity: qty, UnitPrice: decimal.NewFromInt(5)})
		}
	}
	arrival, err := f.service.CreateArrival(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("CreateArrival: %v", err)
	}
	return arrival
}

func TestValidateArrival_AppliesStockOnce(t *testing.T) {
	f := newArrivalFixture(t, 100, 50)
	a, b := f.products[0].ID, f.products[1].ID
	arrival := f.createPending(t, map[int]int{a: 30, b: 25})

	if arrival.Status != ArrivalStatusPending {
		t.Fatalf("new arrival status = %q, want pending", arrival.Status)
	}
	if got := f.stock(t, a); got != 100 {
		t.Fatalf("stock before validate = %d, want 100", got)
	}

	validated, err := f.service.ValidateArrival(context.Background(), arrival.ID)
	if err != nil {
		t.Fatalf("ValidateArrival: %v", err)
	}
	if validated.Status != ArrivalStatusValidated || validated.ValidatedAt == nil {
		t.Fatalf("validated arrival = %+v", validated)
	}
	if got := f.stock(t, a); got != 130 {
		t.Fatalf("stock of A = %d, want 130", got)
	}
	if got := f.stock(t, b); got != 75 {
		t.Fatalf("stock of B = %d, want 75", got)
	}

	_, err = f.service.ValidateArrival(context.Background(), arrival.ID)
	if !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("second validate err = %v, want InvalidState", err)
	}
	if got := f.stock(t, a); got != 130 {
		t.Fatalf("stock of A after second validate = %d, want 130", got)
	}
	if got := f.stock(t, b); got != 75 {
		t.Fatalf("stock of B after second validate = %d, want 75", got)
	}

	events := f.store.StockEvents()
	if len(events) != 1 || events[0].ArrivalId != arrival.ID {
		t.Fatalf("stock events = %+v, want one for arrival %d", events, arrival.ID)
	}
}

func TestUpdateProduct_KeepsStockFromValidatedArrival(t *testing.T) {
	f := newArrivalFixture(t, 100)
	ctx := context.Background()
	category, err := f.catalog.CreateCategory(ctx, &NewCategory{Name: "Oils"})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	id := f.products[0].ID
	if _, err := f.catalog.UpdateProduct(ctx, id, &UpdateProduct{CategoryId: &category.ID, Description: strPtr("cold pressed")}); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}

	arrival := f.createPending(t, map[int]int{id: 30})
	if _, err := f.service.ValidateArrival(ctx, arrival.ID); err != nil {
		t.Fatalf("ValidateArrival: %v", err)
	}

	price := decimal.NewFromInt(12)
	updated, err := f.catalog.UpdateProduct(ctx, id, &UpdateProduct{Name: strPtr("renamed"), Price: &price})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Stock != 130 {
		t.Fatalf("stock after rename = %d, want 130", updated.Stock)
	}
	if got := f.stock(t, id); got != 130 {
		t.Fatalf("stored stock = %d, want 130", got)
	}
	if updated.Name != "renamed" || !updated.Price.Equal(price) {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.CategoryId == nil || *updated.CategoryId != category.ID {
		t.Fatalf("category = %v, want %d", updated.CategoryId, category.ID)
	}
	if updated.Description == nil || *updated.Description != "cold pressed" {
		t.Fatalf("description = %v", updated.Description)
	}

	cached, err := f.catalog.GetProduct(ctx, id)
	if err != nil || cached.Stock != 130 || cached.Name != "renamed" {
		t.Fatalf("cached product = %+v, err %v", cached, err)
	}

	if _, err := f.catalog.UpdateProduct(ctx, id, &UpdateProduct{Name: strPtr("  ")}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("blank name err = %v, want ValidationFailure", err)
	}
}

func TestValidateArrival_NotFound(t *testing.T) {
	f := newArrivalFixture(t, 1)
	_, err := f.service.ValidateArrival(context.Background(), 999)
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestValidateArrival_ConcurrentCallsApplyStockOnce(t *testing.T) {
	f := newArrivalFixture(t, 10)
	a := f.products[0].ID
	arrival := f.createPending(t, map[int]int{a: 5})

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.ValidateArrival(context.Background(), arrival.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, utils.ErrInvalidState):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("successful validations = %d, want 1", succeeded)
	}
	if got := f.stock(t, a); got != 15 {
		t.Fatalf("stock = %d, want 15", got)
	}
}

func TestValidateArrival_FailureRollsBackEverything(t *testing.T) {
	f := newArrivalFixture(t, 100, 50)
	a, b := f.products[0].ID, f.products[1].ID
	arrival := f.createPending(t, map[int]int{a: 30, b: 25})

	boom := errors.New("disk full")
	f.store.BeforeIncrementStock = func(_ StoreTx, productId int) error {
		if productId == b {
			return boom
		}
		return nil
	}

	_, err := f.service.ValidateArrival(context.Background(), arrival.ID)
	if !errors.Is(err, utils.ErrTransaction) {
		t.Fatalf("err = %v, want TransactionFailure", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want it to wrap the cause", err)
	}
	if got := f.stock(t, a); got != 100 {
		t.Fatalf("stock of A = %d, want 100 after rollback", got)
	}
	reloaded, err := f.service.GetArrival(context.Background(), arrival.ID)
	if err != nil {
		t.Fatalf("GetArrival: %v", err)
	}
	if reloaded.Status != ArrivalStatusPending || reloaded.ValidatedAt != nil {
		t.Fatalf("arrival after rollback = %+v, want pending", reloaded)
	}
	if n := len(f.store.StockEvents()); n != 0 {
		t.Fatalf("stock events = %d, want 0", n)
	}

	f.store.BeforeIncrementStock = nil
	if _, err := f.service.ValidateArrival(context.Background(), arrival.ID); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
	if got := f.stock(t, b); got != 75 {
		t.Fatalf("stock of B = %d, want 75", got)
	}
}

func TestValidateArrival_CancelledContextDoesNotCommit(t *testing.T) {
	f := newArrivalFixture(t, 10)
	a := f.products[0].ID
	arrival := f.createPending(t, map[int]int{a: 5})

	ctx, cancel := context.WithCancel(context.Background())
	f.store.BeforeIncrementStock = func(StoreTx, int) error {
		cancel()
		return nil
	}
	if _, err := f.service.ValidateArrival(ctx, arrival.ID); !errors.Is(err, utils.ErrTransaction) {
		t.Fatalf("err = %v, want TransactionFailure", err)
	}
	if got := f.stock(t, a); got != 10 {
		t.Fatalf("stock = %d, want 10", got)
	}
}

func TestValidateArrival_InvalidatesProductAndCategoryCache(t *testing.T) {
	f := newArrivalFixture(t, 100)
	a := f.products[0].ID
	arrival := f.createPending(t, map[int]int{a: 1})
	ctx := context.Background()

	before, err := f.catalog.GetProduct(ctx, a)
	if err != nil || before.Stock != 100 {
		t.Fatalf("GetProduct = %+v, %v", before, err)
	}
	if _, err := f.catalog.ListCategories(ctx); err != nil {
		t.Fatalf("ListCategories: %v", err)
	}

	if _, err := f.service.ValidateArrival(ctx, arrival.ID); err != nil {
		t.Fatalf("ValidateArrival: %v", err)
	}

	after, err := f.catalog.GetProduct(ctx, a)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Stock != 101 {
		t.Fatalf("cached stock = %d, want 101 after invalidation", after.Stock)
	}
	stats, err := f.cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Keys != 1 {
		t.Fatalf("cached keys = %d, want only the reloaded product", stats.Keys)
	}
}

func TestCreateArrival_ValidatedAppliesStock(t *testing.T) {
	f := newArrivalFixture(t, 7)
	a := f.products[0].ID
	input := &NewArrival{
		Amount:   decimal.NewFromInt(20),
		Status:   ArrivalStatusValidated,
		Products: []*NewArrivalProduct{{ProductId: a, Quantity: 3, UnitPrice: decimal.NewFromInt(2)}},
	}
	arrival, err := f.service.CreateArrival(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("CreateArrival: %v", err)
	}
	if arrival.Status != ArrivalStatusValidated {
		t.Fatalf("status = %q, want validated", arrival.Status)
	}
	if got := f.stock(t, a); got != 10 {
		t.Fatalf("stock = %d, want 10", got)
	}
}

func TestCreateArrival_Rejects(t *testing.T) {
	f := newArrivalFixture(t, 1)
	a := f.products[0].ID
	line := func(productId, qty int, price int64) *NewArrivalProduct {
		return &NewArrivalProduct{ProductId: productId, Quantity: qty, UnitPrice: decimal.NewFromInt(price)}
	}

	cases := []struct {
		name  string
		input *NewArrival
		kind  error
	}{
		{"nil input", nil, utils.ErrValidation},
		{"negative amount", &NewArrival{Amount: decimal.NewFromInt(-1), Status: ArrivalStatusPending, Products: []*NewArrivalProduct{line(a, 1, 1)}}, utils.ErrValidation},
		{"unknown status", &NewArrival{Status: "shipped", Products: []*NewArrivalProduct{line(a, 1, 1)}}, utils.ErrValidation},
		{"no products", &NewArrival{Status: ArrivalStatusPending}, utils.ErrValidation},
		{"zero quantity", &NewArrival{Status: ArrivalStatusPending, Products: []*NewArrivalProduct{line(a, 0, 1)}}, utils.ErrValidation},
		{"negative unit price", &NewArrival{Status: ArrivalStatusPending, Products: []*NewArrivalProduct{line(a, 1, -1)}}, utils.ErrValidation},
		{"duplicate product", &NewArrival{Status: ArrivalStatusPending, Products: []*NewArrivalProduct{line(a, 1, 1), line(a, 2, 1)}}, utils.ErrValidation},
		{"missing product", &NewArrival{Status: ArrivalStatusPending, Products: []*NewArrivalProduct{line(404, 1, 1)}}, utils.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CreateArrival(context.Background(), tc.input, nil)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want %v", err, tc.kind)
			}
		})
	}

	arrivals, err := f.service.ListArrivals(context.Background())
	if err != nil {
		t.Fatalf("ListArrivals: %v", err)
	}
	if len(arrivals) != 0 {
		t.Fatalf("arrivals = %d, want none created", len(arrivals))
	}
}

func TestUpdateArrival_ModifiesAndAddsLineItems(t *testing.T) {
	f := newArrivalFixture(t, 10, 20)
	a, b := f.products[0].ID, f.products[1].ID
	arrival := f.createPending(t, map[int]int{a: 1})

	amount := decimal.NewFromInt(99)
	qtyA, qtyB := 4, 6
	price := decimal.NewFromInt(3)
	updated, err := f.service.UpdateArrival(context.Background(), arrival.ID, &UpdateArrival{
		Amount: &amount,
		Products: []*UpdateArrivalProduct{
			{ProductId: a, Quantity: &qtyA},
			{ProductId: b, Quantity: &qtyB, UnitPrice: &price},
		},
	})
	if err != nil {
		t.Fatalf("UpdateArrival: %v", err)
	}
	if !updated.Amount.Equal(amount) {
		t.Fatalf("amount = %s, want 99", updated.Amount)
	}
	if updated.Status != ArrivalStatusPending {
		t.Fatalf("status = %q, want pending", updated.Status)
	}
	got := updated.quantitiesByProduct()
	if len(got) != 2 || got[a] != 4 || got[b] != 6 {
		t.Fatalf("quantities = %v, want {%d:4 %d:6}", got, a, b)
	}
	if f.stock(t, a) != 10 || f.stock(t, b) != 20 {
		t.Fatalf("pending update must not touch stock")
	}

	validated := ArrivalStatusValidated
	if _, err := f.service.UpdateArrival(context.Background(), arrival.ID, &UpdateArrival{Status: &validated}); err != nil {
		t.Fatalf("UpdateArrival to validated: %v", err)
	}
	if f.stock(t, a) != 14 || f.stock(t, b) != 26 {
		t.Fatalf("stock = %d/%d, want 14/26", f.stock(t, a), f.stock(t, b))
	}
}

func TestUpdateArrival_NewProductNeedsQuantityAndPrice(t *testing.T) {
	f := newArrivalFixture(t, 10, 20)
	a, b := f.products[0].ID, f.products[1].ID
	arrival := f.createPending(t, map[int]int{a: 1})

	qty := 2
	_, err := f.service.UpdateArrival(context.Background(), arrival.ID, &UpdateArrival{
		Products: []*UpdateArrivalProduct{{ProductId: b, Quantity: &qty}},
	})
	if !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("err = %v, want ValidationFailure", err)
	}
	if fields := utils.FieldsOf(err); fields["unit_price"] == "" {
		t.Fatalf("fields = %v, want unit_price flagged", fields)
	}
}

func TestValidatedArrivalIsFrozen(t *testing.T) {
	f := newArrivalFixture(t, 10)
	a := f.products[0].ID
	arrival := f.createPending(t, map[int]int{a: 1})
	if _, err := f.service.ValidateArrival(context.Background(), arrival.ID); err != nil {
		t.Fatalf("ValidateArrival: %v", err)
	}

	amount := decimal.NewFromInt(1)
	if _, err := f.service.UpdateArrival(context.Background(), arrival.ID, &UpdateArrival{Amount: &amount}); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("update err = %v, want InvalidState", err)
	}
	if _, err := f.service.DeleteArrival(context.Background(), arrival.ID); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("delete err = %v, want InvalidState", err)
	}
	if got := f.stock(t, a); got != 11 {
		t.Fatalf("stock = %d, want 11", got)
	}
}

func TestDeleteArrival_Pending(t *testing.T) {
	f := newArrivalFixture(t, 10)
	a := f.products[0].ID
	arrival := f.createPending(t, map[int]int{a: 1})

	deleted, err := f.service.DeleteArrival(context.Background(), arrival.ID)
	if err != nil {
		t.Fatalf("DeleteArrival: %v", err)
	}
	if deleted.ID != arrival.ID {
		t.Fatalf("deleted id = %d, want %d", deleted.ID, arrival.ID)
	}
	if _, err := f.service.GetArrival(context.Background(), arrival.ID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("get after delete err = %v, want NotFound", err)
	}
	items, err := f.service.ArrivalItems(context.Background(), []int{arrival.ID})
	if err != nil {
		t.Fatalf("ArrivalItems: %v", err)
	}
	if len(items[arrival.ID]) != 0 {
		t.Fatalf("line items survived delete: %v", items)
	}
	if got := f.stock(t, a); got != 10 {
		t.Fatalf("stock = %d, want 10", got)
	}
}
