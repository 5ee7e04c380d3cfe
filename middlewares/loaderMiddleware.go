package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/intrafmc/cbd_backend/models"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch the relation reads of one request. They read the store
// directly; the GraphQL cache only holds top-level reads.
type Loaders struct {
	arrivalItemLoader      *dataloader.Loader[int, []*models.ArrivalProduct]
	categoryLoader         *dataloader.Loader[int, *models.Category]
	productLoader          *dataloader.Loader[int, *models.Product]
	productSupplierLoader  *dataloader.Loader[int, []*models.Supplier]
	supplierProductsLoader *dataloader.Loader[int, []*models.Product]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(arrivals *models.ArrivalService, catalog *models.CatalogService) *Loaders {
	arrivalItemReader := &arrivalItemReader{arrivals: arrivals}
	categoryReader := &categoryReader{catalog: catalog}
	productReader := &productReader{catalog: catalog}
	productSupplierReader := &productSupplierReader{catalog: catalog}
	supplierProductReader := &supplierProductReader{catalog: catalog}

	return &Loaders{
		arrivalItemLoader:      dataloader.NewBatchedLoader(arrivalItemReader.getArrivalItems, dataloader.WithWait[int, []*models.ArrivalProduct](time.Millisecond)),
		categoryLoader:         dataloader.NewBatchedLoader(categoryReader.getCategories, dataloader.WithWait[int, *models.Category](time.Millisecond)),
		productLoader:          dataloader.NewBatchedLoader(productReader.getProducts, dataloader.WithWait[int, *models.Product](time.Millisecond)),
		productSupplierLoader:  dataloader.NewBatchedLoader(productSupplierReader.getProductSuppliers, dataloader.WithWait[int, []*models.Supplier](time.Millisecond)),
		supplierProductsLoader: dataloader.NewBatchedLoader(supplierProductReader.getSupplierProducts, dataloader.WithWait[int, []*models.Product](time.Millisecond)),
	}
}

// LoaderMiddleware gives each request a fresh set of loaders. newLoaders is
// called per request so a hot-swapped backend is picked up.
func LoaderMiddleware(newLoaders func() *Loaders) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := newLoaders()
		c.Request = c.Request.WithContext(WithLoaders(c.Request.Context(), loader))
		c.Next()
	}
}

func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// For returns the request's loaders, or nil outside an HTTP request.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults orders results by the requested keys; missing keys get
// the zero value.
func generateLoaderResults[T any](results map[int]T, ids []int) []*dataloader.Result[T] {
	loaderResults := make([]*dataloader.Result[T], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[T]{Data: results[id]})
	}
	return loaderResults
}
