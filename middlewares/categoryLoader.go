package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/intrafmc/cbd_backend/models"
)

type categoryReader struct {
	catalog *models.CatalogService
}

func (r *categoryReader) getCategories(ctx context.Context, ids []int) []*dataloader.Result[*models.Category] {
	categories, err := r.catalog.CategoriesByIds(ctx, ids)
	if err != nil {
		return handleError[*models.Category](len(ids), err)
	}
	return generateLoaderResults(categories, ids)
}

// GetCategory returns nil for a category that no longer exists.
func GetCategory(ctx context.Context, catalog *models.CatalogService, id int) (*models.Category, error) {
	loaders := For(ctx)
	if loaders == nil {
		categories, err := catalog.CategoriesByIds(ctx, []int{id})
		return categories[id], err
	}
	return loaders.categoryLoader.Load(ctx, id)()
}
