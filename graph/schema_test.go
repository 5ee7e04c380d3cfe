package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/directives"
	"github.com/intrafmc/cbd_backend/middlewares"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	adminId = 1
	clerkId = 2
)

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Path       []interface{}          `json:"path"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
}

// countingStore counts read-only store round trips.
type countingStore struct {
	models.Store
	views atomic.Int32
}

func (s *countingStore) View(ctx context.Context, fn func(tx models.StoreTx) error) error {
	s.views.Add(1)
	return s.Store.View(ctx, fn)
}

type testServer struct {
	t        *testing.T
	handler  http.Handler
	arrivals *models.ArrivalService
	catalog  *models.CatalogService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, _ := newCountingTestServer(t)
	return s
}

func newCountingTestServer(t *testing.T) (*testServer, *countingStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mem := models.NewMemoryStore()
	mem.PutUser(models.User{ID: adminId, Name: "Admin", Email: "admin@example.com", IsAdmin: true})
	mem.PutUser(models.User{ID: clerkId, Name: "Clerk", Email: "clerk@example.com"})
	store := &countingStore{Store: mem}
	c := cache.New(cache.NewMemoryStore(), cache.WithLogger(logger))
	catalog := models.NewCatalogService(store, c, logger)
	arrivals := models.NewArrivalService(store, c, logger)

	cfg := Config{Resolvers: &Resolver{Arrivals: arrivals, Catalog: catalog}}
	cfg.Directives.Auth = directives.Auth(catalog)
	h := handler.New(NewExecutableSchema(cfg))
	h.AddTransport(transport.POST{})
	h.Use(extension.Introspection{})
	h.SetErrorPresenter(ErrorPresenter)
	h.SetRecoverFunc(RecoverFunc)

	return &testServer{t: t, handler: h, arrivals: arrivals, catalog: catalog}, store
}

// do runs one operation as userId; 0 means anonymous.
func (s *testServer) do(userId int, query string, variables map[string]interface{}) gqlResponse {
	s.t.Helper()
	body, _ := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	ctx := middlewares.WithLoaders(req.Context(), middlewares.NewLoaders(s.arrivals, s.catalog))
	if userId > 0 {
		ctx = utils.SetUserIdInContext(ctx, userId)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req.WithContext(ctx))

	var resp gqlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		s.t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func (s *testServer) mustDo(userId int, query string, variables map[string]interface{}, field string, out interface{}) {
	s.t.Helper()
	resp := s.do(userId, query, variables)
	if len(resp.Errors) > 0 {
		s.t.Fatalf("unexpected errors: %+v", resp.Errors)
	}
	if err := json.Unmarshal(resp.Data[field], out); err != nil {
		s.t.Fatalf("decode %s from %s: %v", field, resp.Data[field], err)
	}
}

type productOut struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Stock int     `json:"stock"`
	Price float64 `json:"price"`
}

func (s *testServer) createProduct(name string, stock int) productOut {
	s.t.Helper()
	return s.createProductIn(name, stock, "")
}

func (s *testServer) createProductIn(name string, stock int, categoryId string) productOut {
	s.t.Helper()
	input := map[string]interface{}{"name": name, "price": "12.50", "stock": stock}
	if categoryId != "" {
		input["category_id"] = categoryId
	}
	var p productOut
	s.mustDo(adminId, `mutation($input: NewProduct!) { createProduct(input: $input) { id name stock price } }`,
		map[string]interface{}{"input": input}, "createProduct", &p)
	return p
}

// warmPermissions caches the admin's permissions so later read counts only
// cover the query under test.
func (s *testServer) warmPermissions() {
	s.t.Helper()
	if _, err := s.catalog.GetUserPermissions(context.Background(), adminId); err != nil {
		s.t.Fatalf("GetUserPermissions: %v", err)
	}
}

func TestGraphQL_ArrivalScenario(t *testing.T) {
	s := newTestServer(t)
	a := s.createProduct("Oil 10%", 100)
	b := s.createProduct("Oil 20%", 50)

	var created struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Products []struct {
			Quantity int        `json:"quantity"`
			Product  productOut `json:"product"`
		} `json:"products"`
	}
	s.mustDo(adminId, `mutation($input: NewArrival!) {
		createArrival(input: $input) { id status products { quantity product { id name } } }
	}`, map[string]interface{}{"input": map[string]interface{}{
		"amount": 1500,
		"status": "pending",
		"products": []interface{}{
			map[string]interface{}{"product_id": a.ID, "quantity": 30, "unit_price": "10"},
			map[string]interface{}{"product_id": b.ID, "quantity": 25, "unit_price": 20.5},
		},
	}}, "createArrival", &created)

	if created.Status != "pending" || len(created.Products) != 2 {
		t.Fatalf("created = %+v", created)
	}
	if created.Products[0].Product.Name == "" {
		t.Fatalf("line item product not resolved: %+v", created.Products[0])
	}

	validate := `mutation($id: ID!) { validateArrival(id: $id) { id status validated_at } }`
	var validated struct {
		Status      string  `json:"status"`
		ValidatedAt *string `json:"validated_at"`
	}
	s.mustDo(adminId, validate, map[string]interface{}{"id": created.ID}, "validateArrival", &validated)
	if validated.Status != "validated" || validated.ValidatedAt == nil {
		t.Fatalf("validated = %+v", validated)
	}

	var products []productOut
	s.mustDo(adminId, `{ products { id stock } }`, nil, "products", &products)
	stocks := map[string]int{}
	for _, p := range products {
		stocks[p.ID] = p.Stock
	}
	if stocks[a.ID] != 130 || stocks[b.ID] != 75 {
		t.Fatalf("stocks = %v, want 130 and 75", stocks)
	}

	resp := s.do(adminId, validate, map[string]interface{}{"id": created.ID})
	if len(resp.Errors) != 1 {
		t.Fatalf("second validate errors = %+v", resp.Errors)
	}
	if got := resp.Errors[0].Extensions["category"]; got != "invalid_state" {
		t.Fatalf("category = %v, want invalid_state", got)
	}
	if resp.Errors[0].Extensions["reason"] == "" {
		t.Fatalf("reason missing: %+v", resp.Errors[0])
	}

	s.mustDo(adminId, `{ products { id stock } }`, nil, "products", &products)
	for _, p := range products {
		if p.ID == a.ID && p.Stock != 130 {
			t.Fatalf("stock changed after failed validate: %d", p.Stock)
		}
	}
}

func TestGraphQL_Authorization(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(0, `{ categories { id } }`, nil)
	if len(resp.Errors) != 1 || resp.Errors[0].Extensions["category"] != "unauthorized" {
		t.Fatalf("anonymous errors = %+v", resp.Errors)
	}

	resp = s.do(clerkId, `mutation { createCategory(input: {name: "Drinks"}) { id } }`, nil)
	if len(resp.Errors) != 1 || resp.Errors[0].Extensions["category"] != "forbidden" {
		t.Fatalf("clerk errors = %+v", resp.Errors)
	}

	var me struct {
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
	}
	s.mustDo(clerkId, `{ me { name permissions } }`, nil, "me", &me)
	if me.Name != "Clerk" || len(me.Permissions) != 2 {
		t.Fatalf("me = %+v", me)
	}
}

func TestGraphQL_ValidationErrorsCarryFields(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(adminId, `mutation { createSupplier(input: {name: "Farm", email: "nope"}) { id } }`, nil)
	if len(resp.Errors) != 1 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	ext := resp.Errors[0].Extensions
	if ext["category"] != "validation" {
		t.Fatalf("category = %v", ext["category"])
	}
	fields, _ := ext["validation"].(map[string]interface{})
	if fields["email"] != "email" {
		t.Fatalf("validation fields = %v", ext["validation"])
	}
}

func TestGraphQL_MissingRowsAreNull(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(adminId, `{ product(id: 404) { id } arrival(id: "404") { id } }`, nil)
	if len(resp.Errors) != 0 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if string(resp.Data["product"]) != "null" || string(resp.Data["arrival"]) != "null" {
		t.Fatalf("data = %s / %s", resp.Data["product"], resp.Data["arrival"])
	}
}

func TestGraphQL_CacheAdministration(t *testing.T) {
	s := newTestServer(t)
	s.createProduct("Balm", 3)

	var warm struct {
		Warmed  []string `json:"warmed"`
		Failed  []string `json:"failed"`
		Skipped bool     `json:"skipped"`
	}
	s.mustDo(adminId, `mutation { warmUpCache { warmed failed skipped } }`, nil, "warmUpCache", &warm)
	if len(warm.Warmed) != 2 || len(warm.Failed) != 0 || warm.Skipped {
		t.Fatalf("warm-up = %+v", warm)
	}

	var stats struct {
		Keys    int  `json:"keys"`
		Healthy bool `json:"healthy"`
	}
	// permissions for the admin are cached too
	s.mustDo(adminId, `{ cacheStats { keys healthy } }`, nil, "cacheStats", &stats)
	if !stats.Healthy || stats.Keys < 2 {
		t.Fatalf("stats = %+v", stats)
	}

	var cleared int
	s.mustDo(adminId, `mutation { clearCache }`, nil, "clearCache", &cleared)
	if cleared < 2 {
		t.Fatalf("cleared = %d", cleared)
	}
}

func TestSchemaParses(t *testing.T) {
	schema := Schema()
	for _, name := range []string{"Category", "Product", "Supplier", "CbdArrival", "ArrivalProduct", "Decimal"} {
		if schema.Types[name] == nil {
			t.Fatalf("type %s missing from schema", name)
		}
	}
	if schema.Mutation.Fields.ForName("validateArrival") == nil {
		t.Fatalf("validateArrival missing")
	}
	if SDL() == "" {
		t.Fatalf("embedded SDL is empty")
	}
}

func TestGraphQL_ArrivalLineItemsBatchProductReads(t *testing.T) {
	s, store := newCountingTestServer(t)
	var lines []interface{}
	for i := 0; i < 5; i++ {
		p := s.createProduct(fmt.Sprintf("Oil %d", i), 10)
		lines = append(lines, map[string]interface{}{"product_id": p.ID, "quantity": 1, "unit_price": "2"})
	}
	var created struct {
		ID string `json:"id"`
	}
	s.mustDo(adminId, `mutation($input: NewArrival!) { createArrival(input: $input) { id } }`,
		map[string]interface{}{"input": map[string]interface{}{"amount": 10, "status": "pending", "products": lines}},
		"createArrival", &created)
	s.warmPermissions()

	store.views.Store(0)
	var arrivals []struct {
		Products []struct {
			Product productOut `json:"product"`
		} `json:"products"`
	}
	s.mustDo(adminId, `{ arrivals { products { product { id } } } }`, nil, "arrivals", &arrivals)
	if len(arrivals) != 1 || len(arrivals[0].Products) != 5 {
		t.Fatalf("arrivals = %+v", arrivals)
	}
	for _, line := range arrivals[0].Products {
		if line.Product.ID == "" {
			t.Fatalf("line item product not resolved: %+v", arrivals[0].Products)
		}
	}
	// one read for the arrival list, one batched read for the products
	if got := store.views.Load(); got != 2 {
		t.Fatalf("store reads = %d, want 2", got)
	}
}

func TestGraphQL_ProductCategoriesBatchReads(t *testing.T) {
	s, store := newCountingTestServer(t)
	var oils, soaps struct {
		ID string `json:"id"`
	}
	s.mustDo(adminId, `mutation { createCategory(input: {name: "Oils"}) { id } }`, nil, "createCategory", &oils)
	s.mustDo(adminId, `mutation { createCategory(input: {name: "Soaps"}) { id } }`, nil, "createCategory", &soaps)
	s.createProductIn("Oil 10%", 1, oils.ID)
	s.createProductIn("Oil 20%", 1, oils.ID)
	s.createProductIn("Bar", 1, soaps.ID)
	s.createProduct("Loose", 1)
	s.warmPermissions()

	store.views.Store(0)
	var products []struct {
		Name     string `json:"name"`
		Category *struct {
			Name string `json:"name"`
		} `json:"category"`
	}
	s.mustDo(adminId, `{ products { name category { name } } }`, nil, "products", &products)
	if len(products) != 4 {
		t.Fatalf("products = %+v", products)
	}
	names := map[string]string{}
	for _, p := range products {
		if p.Category == nil {
			names[p.Name] = ""
			continue
		}
		names[p.Name] = p.Category.Name
	}
	if names["Oil 10%"] != "Oils" || names["Oil 20%"] != "Oils" || names["Bar"] != "Soaps" || names["Loose"] != "" {
		t.Fatalf("categories = %v", names)
	}
	// one read for the listing, one batched read for both categories
	if got := store.views.Load(); got != 2 {
		t.Fatalf("store reads = %d, want 2", got)
	}
}

func TestGraphQL_UpdateProductKeepsStock(t *testing.T) {
	s := newTestServer(t)
	p := s.createProduct("Oil 10%", 100)

	var created struct {
		ID string `json:"id"`
	}
	s.mustDo(adminId, `mutation($input: NewArrival!) { createArrival(input: $input) { id } }`,
		map[string]interface{}{"input": map[string]interface{}{
			"amount":   300,
			"status":   "pending",
			"products": []interface{}{map[string]interface{}{"product_id": p.ID, "quantity": 30, "unit_price": "10"}},
		}}, "createArrival", &created)
	var validated struct {
		Status string `json:"status"`
	}
	s.mustDo(adminId, `mutation($id: ID!) { validateArrival(id: $id) { status } }`,
		map[string]interface{}{"id": created.ID}, "validateArrival", &validated)

	var updated productOut
	s.mustDo(adminId, `mutation($id: ID!) { updateProduct(id: $id, input: {name: "Oil 10% EU"}) { id name stock price } }`,
		map[string]interface{}{"id": p.ID}, "updateProduct", &updated)
	if updated.Name != "Oil 10% EU" || updated.Stock != 130 || updated.Price != 12.5 {
		t.Fatalf("updated = %+v, want stock 130", updated)
	}

	var read productOut
	s.mustDo(adminId, `query($id: ID!) { product(id: $id) { id stock } }`, map[string]interface{}{"id": p.ID}, "product", &read)
	if read.Stock != 130 {
		t.Fatalf("stock after update = %d, want 130", read.Stock)
	}
}

func TestGraphQL_IntrospectionListsSchemaTypes(t *testing.T) {
	s := newTestServer(t)
	var schema struct {
		Types []struct {
			Name string `json:"name"`
		} `json:"types"`
	}
	s.mustDo(adminId, `{ __schema { types { name } } }`, nil, "__schema", &schema)
	seen := map[string]bool{}
	for _, typ := range schema.Types {
		seen[typ.Name] = true
	}
	for _, name := range []string{"CbdArrival", "ArrivalStatus", "Decimal", "CacheStats"} {
		if !seen[name] {
			t.Fatalf("type %s missing from introspection", name)
		}
	}
}
