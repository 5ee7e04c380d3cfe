package models

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/intrafmc/cbd_backend/utils"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps every table in process. Transactions are serialized by
// one mutex and run against a copy that replaces the live data only on
// commit, so a failed transaction leaves no trace. Used by tests and by the
// dev server when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
	now  func() time.Time

	// BeforeIncrementStock, when set, runs inside the transaction right before
	// each stock increment. A returned error aborts the transaction.
	BeforeIncrementStock func(tx StoreTx, productId int) error
}

type linkKey struct {
	productId  int
	supplierId int
}

type memoryData struct {
	arrivals   map[int]CbdArrival
	items      map[int]ArrivalProduct
	products   map[int]Product
	categories map[int]Category
	suppliers  map[int]Supplier
	links      map[linkKey]ProductSupplier
	users      map[int]User
	events     map[int]StockEvent
	seq        map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memoryData{
			arrivals:   map[int]CbdArrival{},
			items:      map[int]ArrivalProduct{},
			products:   map[int]Product{},
			categories: map[int]Category{},
			suppliers:  map[int]Supplier{},
			links:      map[linkKey]ProductSupplier{},
			users:      map[int]User{},
			events:     map[int]StockEvent{},
			seq:        map[string]int{},
		},
		now: time.Now,
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memoryData) clone() *memoryData {
	return &memoryData{
		arrivals:   cloneMap(d.arrivals),
		items:      cloneMap(d.items),
		products:   cloneMap(d.products),
		categories: cloneMap(d.categories),
		suppliers:  cloneMap(d.suppliers),
		links:      cloneMap(d.links),
		users:      cloneMap(d.users),
		events:     cloneMap(d.events),
		seq:        cloneMap(d.seq),
	}
}

func (d *memoryData) nextId(table string) int {
	d.seq[table]++
	return d.seq[table]
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&memoryTx{d: work, store: s}); err != nil {
		return err
	}
	// a cancelled request must not commit
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memoryTx{d: s.data.clone(), store: s})
}

// StockEvents returns the outbox rows written so far.
func (s *MemoryStore) StockEvents() []StockEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StockEvent, 0, len(s.data.events))
	for _, e := range s.data.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryTx struct {
	d     *memoryData
	store *MemoryStore
}

func (t *memoryTx) now() time.Time {
	return t.store.now()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

/* arrivals */

func (t *memoryTx) arrivalItems(arrivalId int) []*ArrivalProduct {
	var items []*ArrivalProduct
	for _, id := range sortedKeys(t.d.items) {
		item := t.d.items[id]
		if item.ArrivalId == arrivalId {
			items = append(items, &item)
		}
	}
	return items
}

func (t *memoryTx) GetArrival(id int, _ bool) (*CbdArrival, error) {
	arrival, ok := t.d.arrivals[id]
	if !ok {
		return nil, utils.NewNotFound("arrival", id)
	}
	arrival.Items = t.arrivalItems(id)
	return &arrival, nil
}

func (t *memoryTx) ListArrivals() ([]*CbdArrival, error) {
	ids := sortedKeys(t.d.arrivals)
	out := make([]*CbdArrival, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		arrival := t.d.arrivals[ids[i]]
		arrival.Items = t.arrivalItems(arrival.ID)
		out = append(out, &arrival)
	}
	return out, nil
}

func (t *memoryTx) ListArrivalItems(arrivalIds []int) ([]*ArrivalProduct, error) {
	want := make(map[int]bool, len(arrivalIds))
	for _, id := range arrivalIds {
		want[id] = true
	}
	var out []*ArrivalProduct
	for _, id := range sortedKeys(t.d.items) {
		item := t.d.items[id]
		if want[item.ArrivalId] {
			out = append(out, &item)
		}
	}
	return out, nil
}

func (t *memoryTx) CreateArrival(arrival *CbdArrival) error {
	for _, item := range arrival.Items {
		if _, ok := t.d.products[item.ProductId]; !ok {
			return utils.NewNotFound("product", item.ProductId)
		}
	}
	now := t.now()
	arrival.ID = t.d.nextId("arrivals")
	arrival.CreatedAt, arrival.UpdatedAt = now, now
	row := *arrival
	row.Items = nil
	t.d.arrivals[arrival.ID] = row
	for _, item := range arrival.Items {
		item.ArrivalId = arrival.ID
		if err := t.AddArrivalItem(item); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) UpdateArrivalAmount(id int, amount decimal.Decimal) error {
	arrival, ok := t.d.arrivals[id]
	if !ok {
		return utils.NewNotFound("arrival", id)
	}
	arrival.Amount = amount
	arrival.UpdatedAt = t.now()
	t.d.arrivals[id] = arrival
	return nil
}

func (t *memoryTx) TransitionArrivalStatus(id int, from ArrivalStatus, to ArrivalStatus, at time.Time) (bool, error) {
	arrival, ok := t.d.arrivals[id]
	if !ok || arrival.Status != from {
		return false, nil
	}
	arrival.Status = to
	arrival.ValidatedAt = &at
	arrival.UpdatedAt = t.now()
	t.d.arrivals[id] = arrival
	return true, nil
}

func (t *memoryTx) AddArrivalItem(item *ArrivalProduct) error {
	if _, ok := t.d.arrivals[item.ArrivalId]; !ok {
		return utils.NewNotFound("arrival", item.ArrivalId)
	}
	if _, ok := t.d.products[item.ProductId]; !ok {
		return utils.NewNotFound("product", item.ProductId)
	}
	for _, existing := range t.d.items {
		if existing.ArrivalId == item.ArrivalId && existing.ProductId == item.ProductId {
			return &utils.AppError{Kind: utils.ErrValidation, Message: "duplicate record", Reason: "a record with the same unique value already exists"}
		}
	}
	now := t.now()
	item.ID = t.d.nextId("items")
	item.CreatedAt, item.UpdatedAt = now, now
	row := *item
	row.Product = nil
	t.d.items[item.ID] = row
	return nil
}

func (t *memoryTx) UpdateArrivalItem(item *ArrivalProduct) error {
	row, ok := t.d.items[item.ID]
	if !ok {
		return utils.NewNotFound("arrival item", item.ID)
	}
	row.Quantity = item.Quantity
	row.UnitPrice = item.UnitPrice
	row.UpdatedAt = t.now()
	t.d.items[item.ID] = row
	return nil
}

func (t *memoryTx) DeleteArrival(id int) error {
	if _, ok := t.d.arrivals[id]; !ok {
		return utils.NewNotFound("arrival", id)
	}
	for itemId, item := range t.d.items {
		if item.ArrivalId == id {
			delete(t.d.items, itemId)
		}
	}
	delete(t.d.arrivals, id)
	return nil
}

/* products */

func (t *memoryTx) GetProduct(id int, _ bool) (*Product, error) {
	product, ok := t.d.products[id]
	if !ok {
		return nil, utils.NewNotFound("product", id)
	}
	return &product, nil
}

func (t *memoryTx) LockProducts(ids []int) ([]*Product, error) {
	sorted := utils.UniqueSlice(ids)
	sort.Ints(sorted)
	var out []*Product
	for _, id := range sorted {
		if product, ok := t.d.products[id]; ok {
			out = append(out, &product)
		}
	}
	return out, nil
}

func (t *memoryTx) ListProducts(filter ProductFilter) ([]*Product, error) {
	var out []*Product
	name := ""
	if filter.Name != nil {
		name = strings.ToLower(strings.TrimSpace(*filter.Name))
	}
	for _, id := range sortedKeys(t.d.products) {
		p := t.d.products[id]
		if filter.CategoryId != nil && (p.CategoryId == nil || *p.CategoryId != *filter.CategoryId) {
			continue
		}
		if filter.MinPrice != nil && p.Price.LessThan(*filter.MinPrice) {
			continue
		}
		if filter.MaxPrice != nil && p.Price.GreaterThan(*filter.MaxPrice) {
			continue
		}
		if filter.InStock != nil && (p.Stock > 0) != *filter.InStock {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		out = append(out, &p)
	}
	sortProductsByName(out)
	if filter.Limit != nil && len(out) > *filter.Limit {
		out = out[:*filter.Limit]
	}
	return out, nil
}

func sortProductsByName(products []*Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
}

func (t *memoryTx) ListProductsByIds(ids []int) ([]*Product, error) {
	return t.LockProducts(ids)
}

func (t *memoryTx) ListProductsByCategory(categoryIds []int) ([]*Product, error) {
	want := make(map[int]bool, len(categoryIds))
	for _, id := range categoryIds {
		want[id] = true
	}
	var out []*Product
	for _, id := range sortedKeys(t.d.products) {
		p := t.d.products[id]
		if p.CategoryId != nil && want[*p.CategoryId] {
			out = append(out, &p)
		}
	}
	sortProductsByName(out)
	return out, nil
}

func (t *memoryTx) MissingProductIds(ids []int) ([]int, error) {
	var found []int
	for _, id := range ids {
		if _, ok := t.d.products[id]; ok {
			found = append(found, id)
		}
	}
	return missingIds(utils.UniqueSlice(ids), found), nil
}

func (t *memoryTx) checkCategoryRef(categoryId *int) error {
	if categoryId == nil {
		return nil
	}
	if _, ok := t.d.categories[*categoryId]; !ok {
		return utils.NewNotFound("category", *categoryId)
	}
	return nil
}

func (t *memoryTx) CreateProduct(product *Product) error {
	if err := t.checkCategoryRef(product.CategoryId); err != nil {
		return err
	}
	now := t.now()
	product.ID = t.d.nextId("products")
	product.CreatedAt, product.UpdatedAt = now, now
	t.d.products[product.ID] = *product
	return nil
}

func (t *memoryTx) SaveProduct(product *Product) error {
	if _, ok := t.d.products[product.ID]; !ok {
		return utils.NewNotFound("product", product.ID)
	}
	if err := t.checkCategoryRef(product.CategoryId); err != nil {
		return err
	}
	product.UpdatedAt = t.now()
	t.d.products[product.ID] = *product
	return nil
}

// DeleteProduct cascades to line items and supplier links like the MySQL
// foreign keys do.
func (t *memoryTx) DeleteProduct(id int) error {
	if _, ok := t.d.products[id]; !ok {
		return utils.NewNotFound("product", id)
	}
	for itemId, item := range t.d.items {
		if item.ProductId == id {
			delete(t.d.items, itemId)
		}
	}
	for k := range t.d.links {
		if k.productId == id {
			delete(t.d.links, k)
		}
	}
	delete(t.d.products, id)
	return nil
}

func (t *memoryTx) IncrementStock(productId int, delta int) (int, error) {
	if hook := t.store.BeforeIncrementStock; hook != nil {
		if err := hook(t, productId); err != nil {
			return 0, err
		}
	}
	product, ok := t.d.products[productId]
	if !ok {
		return 0, utils.NewNotFound("product", productId)
	}
	if product.Stock+delta < 0 {
		return 0, utils.NewValidationError("stock cannot go below zero", map[string]string{"stock": "gte"})
	}
	product.Stock += delta
	product.UpdatedAt = t.now()
	t.d.products[productId] = product
	return product.Stock, nil
}

/* categories */

func (t *memoryTx) GetCategory(id int) (*Category, error) {
	category, ok := t.d.categories[id]
	if !ok {
		return nil, utils.NewNotFound("category", id)
	}
	return &category, nil
}

func (t *memoryTx) ListCategories() ([]*Category, error) {
	var out []*Category
	for _, id := range sortedKeys(t.d.categories) {
		c := t.d.categories[id]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memoryTx) ListCategoriesByIds(ids []int) ([]*Category, error) {
	var out []*Category
	for _, id := range ids {
		if c, ok := t.d.categories[id]; ok {
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *memoryTx) CategoryNameTaken(name string, exceptId int) (bool, error) {
	for id, c := range t.d.categories {
		if id != exceptId && strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) CreateCategory(category *Category) error {
	now := t.now()
	category.ID = t.d.nextId("categories")
	category.CreatedAt, category.UpdatedAt = now, now
	row := *category
	row.Products = nil
	t.d.categories[category.ID] = row
	return nil
}

func (t *memoryTx) SaveCategory(category *Category) error {
	if _, ok := t.d.categories[category.ID]; !ok {
		return utils.NewNotFound("category", category.ID)
	}
	category.UpdatedAt = t.now()
	row := *category
	row.Products = nil
	t.d.categories[category.ID] = row
	return nil
}

func (t *memoryTx) DeleteCategory(id int) error {
	if _, ok := t.d.categories[id]; !ok {
		return utils.NewNotFound("category", id)
	}
	for pid, p := range t.d.products {
		if p.CategoryId != nil && *p.CategoryId == id {
			p.CategoryId = nil
			t.d.products[pid] = p
		}
	}
	delete(t.d.categories, id)
	return nil
}

/* suppliers */

func (t *memoryTx) GetSupplier(id int) (*Supplier, error) {
	supplier, ok := t.d.suppliers[id]
	if !ok {
		return nil, utils.NewNotFound("supplier", id)
	}
	return &supplier, nil
}

func (t *memoryTx) ListSuppliers() ([]*Supplier, error) {
	var out []*Supplier
	for _, id := range sortedKeys(t.d.suppliers) {
		s := t.d.suppliers[id]
		out = append(out, &s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memoryTx) ListSuppliersByIds(ids []int) ([]*Supplier, error) {
	sorted := utils.UniqueSlice(ids)
	sort.Ints(sorted)
	var out []*Supplier
	for _, id := range sorted {
		if s, ok := t.d.suppliers[id]; ok {
			out = append(out, &s)
		}
	}
	return out, nil
}

func (t *memoryTx) CreateSupplier(supplier *Supplier) error {
	now := t.now()
	supplier.ID = t.d.nextId("suppliers")
	supplier.CreatedAt, supplier.UpdatedAt = now, now
	t.d.suppliers[supplier.ID] = *supplier
	return nil
}

func (t *memoryTx) SaveSupplier(supplier *Supplier) error {
	if _, ok := t.d.suppliers[supplier.ID]; !ok {
		return utils.NewNotFound("supplier", supplier.ID)
	}
	supplier.UpdatedAt = t.now()
	t.d.suppliers[supplier.ID] = *supplier
	return nil
}

func (t *memoryTx) DeleteSupplier(id int) error {
	if _, ok := t.d.suppliers[id]; !ok {
		return utils.NewNotFound("supplier", id)
	}
	for k := range t.d.links {
		if k.supplierId == id {
			delete(t.d.links, k)
		}
	}
	delete(t.d.suppliers, id)
	return nil
}

func (t *memoryTx) AttachSupplierProduct(supplierId int, productId int) error {
	if _, ok := t.d.suppliers[supplierId]; !ok {
		return utils.NewNotFound("supplier", supplierId)
	}
	if _, ok := t.d.products[productId]; !ok {
		return utils.NewNotFound("product", productId)
	}
	k := linkKey{productId: productId, supplierId: supplierId}
	if _, ok := t.d.links[k]; !ok {
		t.d.links[k] = ProductSupplier{ProductId: productId, SupplierId: supplierId, CreatedAt: t.now()}
	}
	return nil
}

func (t *memoryTx) DetachSupplierProduct(supplierId int, productId int) error {
	delete(t.d.links, linkKey{productId: productId, supplierId: supplierId})
	return nil
}

func (t *memoryTx) listLinks(match func(ProductSupplier) bool) []*ProductSupplier {
	var out []*ProductSupplier
	for _, l := range t.d.links {
		if match(l) {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductId != out[j].ProductId {
			return out[i].ProductId < out[j].ProductId
		}
		return out[i].SupplierId < out[j].SupplierId
	})
	return out
}

func (t *memoryTx) ListProductSuppliers(productIds []int) ([]*ProductSupplier, error) {
	want := make(map[int]bool, len(productIds))
	for _, id := range productIds {
		want[id] = true
	}
	return t.listLinks(func(l ProductSupplier) bool { return want[l.ProductId] }), nil
}

func (t *memoryTx) ListSupplierProducts(supplierIds []int) ([]*ProductSupplier, error) {
	want := make(map[int]bool, len(supplierIds))
	for _, id := range supplierIds {
		want[id] = true
	}
	return t.listLinks(func(l ProductSupplier) bool { return want[l.SupplierId] }), nil
}

/* users */

func (t *memoryTx) GetUser(id int) (*User, error) {
	user, ok := t.d.users[id]
	if !ok {
		return nil, utils.NewNotFound("user", id)
	}
	return &user, nil
}

// PutUser seeds a user; accounts are owned by the auth service.
func (s *MemoryStore) PutUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[user.ID] = user
}

/* outbox */

func (t *memoryTx) CreateStockEvent(event *StockEvent) error {
	for _, e := range t.d.events {
		if e.ArrivalId == event.ArrivalId {
			return &utils.AppError{Kind: utils.ErrValidation, Message: "duplicate record", Reason: "a stock event already exists for this arrival"}
		}
	}
	now := t.now()
	event.ID = t.d.nextId("events")
	event.CreatedAt, event.UpdatedAt = now, now
	t.d.events[event.ID] = *event
	return nil
}
