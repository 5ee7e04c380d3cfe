// seed-dev fills an empty development database with users, a small CBD
// catalog and two arrivals (one pending, one validated), then prints a token
// for the admin user.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

var users = []models.User{
	{ID: 1, Name: "Administrateur Principal", Email: "admin@admin.com", IsAdmin: true},
	{ID: 2, Name: "Manager CBD", Email: "manager@cbdstore.com", IsAdmin: true},
	{ID: 3, Name: "Marie Dubois", Email: "marie.dubois@email.com"},
	{ID: 4, Name: "Pierre Martin", Email: "pierre.martin@email.com"},
}

type seedProduct struct {
	name     string
	category string
	price    string
	stock    int
}

var categories = []string{"Huiles CBD", "Fleurs CBD", "Résines CBD", "Cosmétiques CBD"}

var products = []seedProduct{
	{"Huile CBD 10%", "Huiles CBD", "39.90", 100},
	{"Huile CBD 20%", "Huiles CBD", "69.90", 50},
	{"Amnesia Haze", "Fleurs CBD", "8.50", 200},
	{"Orange Bud", "Fleurs CBD", "7.90", 150},
	{"Pollen Marocain", "Résines CBD", "9.90", 80},
	{"Baume apaisant", "Cosmétiques CBD", "24.90", 40},
}

var suppliers = []models.NewSupplier{
	{Name: "Green Valley Farms", Email: strPtr("contact@greenvalley.fr"), Phone: strPtr("06 12 34 56 78")},
	{Name: "Swiss Hemp Lab", Email: strPtr("sales@swisshemp.ch"), Phone: strPtr("+41 44 668 18 00")},
}

func strPtr(s string) *string { return &s }

func main() {
	force := flag.Bool("force", false, "Seed even when categories already exist")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable(db)

	// Users are owned by the auth service; upsert the dev accounts directly.
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&users).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed users: %v\n", err)
		os.Exit(1)
	}

	logger := config.GetLogger()
	c := cache.New(cache.NewMemoryStore(), cache.WithLogger(logger))
	store := models.NewGormStore(db)
	catalog := models.NewCatalogService(store, c, logger)
	arrivals := models.NewArrivalService(store, c, logger)

	existing, err := catalog.ListCategories(ctx)
	if err != nil {
		fail("list categories", err)
	}
	if len(existing) > 0 && !*force {
		fmt.Println("Catalog already seeded; pass --force to add another copy")
		printToken()
		return
	}

	categoryIds := map[string]int{}
	for _, name := range categories {
		cat, err := catalog.CreateCategory(ctx, &models.NewCategory{Name: name})
		if err != nil {
			fail("create category "+name, err)
		}
		categoryIds[name] = cat.ID
	}

	var productIds []int
	for _, p := range products {
		categoryId := categoryIds[p.category]
		created, err := catalog.CreateProduct(ctx, &models.NewProduct{
			Name:       p.name,
			Price:      decimal.RequireFromString(p.price),
			Stock:      p.stock,
			CategoryId: &categoryId,
		})
		if err != nil {
			fail("create product "+p.name, err)
		}
		productIds = append(productIds, created.ID)
	}

	for i := range suppliers {
		s, err := catalog.CreateSupplier(ctx, &suppliers[i])
		if err != nil {
			fail("create supplier "+suppliers[i].Name, err)
		}
		for _, productId := range productIds[i*2 : i*2+2] {
			if _, err := catalog.AttachSupplierToProduct(ctx, s.ID, productId); err != nil {
				fail("attach supplier", err)
			}
		}
	}

	adminId := users[0].ID
	pending, err := arrivals.CreateArrival(ctx, &models.NewArrival{
		Amount: decimal.RequireFromString("1512.50"),
		Status: models.ArrivalStatusPending,
		Products: []*models.NewArrivalProduct{
			{ProductId: productIds[0], Quantity: 30, UnitPrice: decimal.RequireFromString("20.00")},
			{ProductId: productIds[1], Quantity: 25, UnitPrice: decimal.RequireFromString("36.50")},
		},
	}, &adminId)
	if err != nil {
		fail("create pending arrival", err)
	}
	validated, err := arrivals.CreateArrival(ctx, &models.NewArrival{
		Amount: decimal.RequireFromString("400.00"),
		Status: models.ArrivalStatusValidated,
		Products: []*models.NewArrivalProduct{
			{ProductId: productIds[2], Quantity: 100, UnitPrice: decimal.RequireFromString("4.00")},
		},
	}, &adminId)
	if err != nil {
		fail("create validated arrival", err)
	}

	fmt.Printf("Seeded %d categories, %d products, %d suppliers, arrivals #%d (pending) and #%d (validated)\n",
		len(categories), len(productIds), len(suppliers), pending.ID, validated.ID)
	printToken()
}

func printToken() {
	token, err := utils.JwtGenerate(users[0].ID, utils.RoleAdmin)
	if err != nil {
		fail("sign token", err)
	}
	fmt.Printf("Admin token (%s):\n%s\n", users[0].Email, token)
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
