package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/intrafmc/cbd_backend/models"
)

type productReader struct {
	catalog *models.CatalogService
}

func (r *productReader) getProducts(ctx context.Context, ids []int) []*dataloader.Result[*models.Product] {
	products, err := r.catalog.ProductsByIds(ctx, ids)
	if err != nil {
		return handleError[*models.Product](len(ids), err)
	}
	return generateLoaderResults(products, ids)
}

// GetProduct returns nil for a product that no longer exists.
func GetProduct(ctx context.Context, catalog *models.CatalogService, id int) (*models.Product, error) {
	loaders := For(ctx)
	if loaders == nil {
		products, err := catalog.ProductsByIds(ctx, []int{id})
		return products[id], err
	}
	return loaders.productLoader.Load(ctx, id)()
}
