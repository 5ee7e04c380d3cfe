package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/intrafmc/cbd_backend/models"
)

type productSupplierReader struct {
	catalog *models.CatalogService
}

func (r *productSupplierReader) getProductSuppliers(ctx context.Context, productIds []int) []*dataloader.Result[[]*models.Supplier] {
	suppliers, err := r.catalog.SuppliersForProducts(ctx, productIds)
	if err != nil {
		return handleError[[]*models.Supplier](len(productIds), err)
	}
	return generateLoaderResults(suppliers, productIds)
}

type supplierProductReader struct {
	catalog *models.CatalogService
}

func (r *supplierProductReader) getSupplierProducts(ctx context.Context, supplierIds []int) []*dataloader.Result[[]*models.Product] {
	products, err := r.catalog.ProductsForSuppliers(ctx, supplierIds)
	if err != nil {
		return handleError[[]*models.Product](len(supplierIds), err)
	}
	return generateLoaderResults(products, supplierIds)
}

func GetProductSuppliers(ctx context.Context, catalog *models.CatalogService, productId int) ([]*models.Supplier, error) {
	loaders := For(ctx)
	if loaders == nil {
		suppliers, err := catalog.SuppliersForProducts(ctx, []int{productId})
		return suppliers[productId], err
	}
	return loaders.productSupplierLoader.Load(ctx, productId)()
}

func GetSupplierProducts(ctx context.Context, catalog *models.CatalogService, supplierId int) ([]*models.Product, error) {
	loaders := For(ctx)
	if loaders == nil {
		products, err := catalog.ProductsForSuppliers(ctx, []int{supplierId})
		return products[supplierId], err
	}
	return loaders.supplierProductsLoader.Load(ctx, supplierId)()
}
