package graph

// This file will be automatically regenerated based on the schema, any resolver implementations
// will be copied through when generating and any unknown code will be moved to the end.
// Code generated by github.com/99designs/gqlgen version v0.17.41

import (
	"context"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/graph/model"
	"github.com/intrafmc/cbd_backend/middlewares"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Product is the resolver for the product field.
func (r *arrivalProductResolver) Product(ctx context.Context, obj *models.ArrivalProduct) (*models.Product, error) {
	if obj.Product != nil {
		return obj.Product, nil
	}
	return middlewares.GetProduct(ctx, r.Catalog, obj.ProductId)
}

// Products is the resolver for the products field.
func (r *categoryResolver) Products(ctx context.Context, obj *models.Category) ([]*models.Product, error) {
	if obj.Products != nil {
		return obj.Products, nil
	}
	return r.Catalog.ListProducts(ctx, models.ProductFilter{CategoryId: &obj.ID})
}

// Products is the resolver for the products field.
func (r *cbdArrivalResolver) Products(ctx context.Context, obj *models.CbdArrival) ([]*models.ArrivalProduct, error) {
	if obj.Items != nil {
		return obj.Items, nil
	}
	return middlewares.GetArrivalItems(ctx, r.Arrivals, obj.ID)
}

// CreateCategory is the resolver for the createCategory field.
func (r *mutationResolver) CreateCategory(ctx context.Context, input models.NewCategory) (*models.Category, error) {
	return r.Catalog.CreateCategory(ctx, &input)
}

// UpdateCategory is the resolver for the updateCategory field.
func (r *mutationResolver) UpdateCategory(ctx context.Context, id int, input models.NewCategory) (*models.Category, error) {
	return r.Catalog.UpdateCategory(ctx, id, &input)
}

// DeleteCategory is the resolver for the deleteCategory field.
func (r *mutationResolver) DeleteCategory(ctx context.Context, id int) (*models.Category, error) {
	return r.Catalog.DeleteCategory(ctx, id)
}

// CreateProduct is the resolver for the createProduct field.
func (r *mutationResolver) CreateProduct(ctx context.Context, input models.NewProduct) (*models.Product, error) {
	return r.Catalog.CreateProduct(ctx, &input)
}

// UpdateProduct is the resolver for the updateProduct field.
func (r *mutationResolver) UpdateProduct(ctx context.Context, id int, input models.UpdateProduct) (*models.Product, error) {
	return r.Catalog.UpdateProduct(ctx, id, &input)
}

// DeleteProduct is the resolver for the deleteProduct field.
func (r *mutationResolver) DeleteProduct(ctx context.Context, id int) (*models.Product, error) {
	return r.Catalog.DeleteProduct(ctx, id)
}

// AdjustProductStock is the resolver for the adjustProductStock field.
func (r *mutationResolver) AdjustProductStock(ctx context.Context, id int, delta int) (*models.Product, error) {
	return r.Catalog.AdjustProductStock(ctx, id, delta)
}

// CreateSupplier is the resolver for the createSupplier field.
func (r *mutationResolver) CreateSupplier(ctx context.Context, input models.NewSupplier) (*models.Supplier, error) {
	return r.Catalog.CreateSupplier(ctx, &input)
}

// UpdateSupplier is the resolver for the updateSupplier field.
func (r *mutationResolver) UpdateSupplier(ctx context.Context, id int, input models.NewSupplier) (*models.Supplier, error) {
	return r.Catalog.UpdateSupplier(ctx, id, &input)
}

// DeleteSupplier is the resolver for the deleteSupplier field.
func (r *mutationResolver) DeleteSupplier(ctx context.Context, id int) (*models.Supplier, error) {
	return r.Catalog.DeleteSupplier(ctx, id)
}

// AttachSupplierToProduct is the resolver for the attachSupplierToProduct field.
func (r *mutationResolver) AttachSupplierToProduct(ctx context.Context, supplierID int, productID int) (*models.Supplier, error) {
	return r.Catalog.AttachSupplierToProduct(ctx, supplierID, productID)
}

// DetachSupplierFromProduct is the resolver for the detachSupplierFromProduct field.
func (r *mutationResolver) DetachSupplierFromProduct(ctx context.Context, supplierID int, productID int) (*models.Supplier, error) {
	return r.Catalog.DetachSupplierFromProduct(ctx, supplierID, productID)
}

// CreateArrival is the resolver for the createArrival field.
func (r *mutationResolver) CreateArrival(ctx context.Context, input models.NewArrival) (*models.CbdArrival, error) {
	var createdBy *int
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		createdBy = &userId
	}
	return r.Arrivals.CreateArrival(ctx, &input, createdBy)
}

// UpdateArrival is the resolver for the updateArrival field.
func (r *mutationResolver) UpdateArrival(ctx context.Context, id int, input models.UpdateArrival) (*models.CbdArrival, error) {
	return r.Arrivals.UpdateArrival(ctx, id, &input)
}

// DeleteArrival is the resolver for the deleteArrival field.
func (r *mutationResolver) DeleteArrival(ctx context.Context, id int) (*models.CbdArrival, error) {
	return r.Arrivals.DeleteArrival(ctx, id)
}

// ValidateArrival is the resolver for the validateArrival field.
func (r *mutationResolver) ValidateArrival(ctx context.Context, id int) (*models.CbdArrival, error) {
	ctx, span := r.tracer().Start(ctx, "validateArrival", trace.WithAttributes(attribute.Int("arrival.id", id)))
	defer span.End()
	arrival, err := r.Arrivals.ValidateArrival(ctx, id)
	if err != nil {
		span.SetAttributes(attribute.String("error.category", Category(err)))
	}
	return arrival, err
}

// ClearCache is the resolver for the clearCache field.
func (r *mutationResolver) ClearCache(ctx context.Context) (int, error) {
	n, err := r.Catalog.Cache().ClearAll(ctx)
	if err != nil {
		return 0, utils.WrapInternal("clear cache", err)
	}
	return n, nil
}

// WarmUpCache is the resolver for the warmUpCache field.
func (r *mutationResolver) WarmUpCache(ctx context.Context) (*model.CacheWarmUpResult, error) {
	report, _ := r.Catalog.WarmUp(ctx)
	return newWarmUpResult(report), nil
}

// Category is the resolver for the category field.
func (r *productResolver) Category(ctx context.Context, obj *models.Product) (*models.Category, error) {
	if obj.CategoryId == nil {
		return nil, nil
	}
	return middlewares.GetCategory(ctx, r.Catalog, *obj.CategoryId)
}

// Suppliers is the resolver for the suppliers field.
func (r *productResolver) Suppliers(ctx context.Context, obj *models.Product) ([]*models.Supplier, error) {
	return middlewares.GetProductSuppliers(ctx, r.Catalog, obj.ID)
}

// Categories is the resolver for the categories field.
func (r *queryResolver) Categories(ctx context.Context) ([]*models.Category, error) {
	return r.Catalog.ListCategories(ctx)
}

// Category is the resolver for the category field.
func (r *queryResolver) Category(ctx context.Context, id int) (*models.Category, error) {
	return r.Catalog.GetCategory(ctx, id)
}

// Products is the resolver for the products field.
func (r *queryResolver) Products(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error) {
	var f models.ProductFilter
	if filter != nil {
		f = *filter
	}
	return r.Catalog.ListProducts(ctx, f)
}

// Product is the resolver for the product field.
func (r *queryResolver) Product(ctx context.Context, id int) (*models.Product, error) {
	return r.Catalog.GetProduct(ctx, id)
}

// Suppliers is the resolver for the suppliers field.
func (r *queryResolver) Suppliers(ctx context.Context) ([]*models.Supplier, error) {
	return r.Catalog.ListSuppliers(ctx)
}

// Supplier is the resolver for the supplier field.
func (r *queryResolver) Supplier(ctx context.Context, id int) (*models.Supplier, error) {
	return r.Catalog.GetSupplier(ctx, id)
}

// Me is the resolver for the me field.
func (r *queryResolver) Me(ctx context.Context) (*models.User, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, utils.NewUnauthorized("authentication is required to access this resource")
	}
	return r.Catalog.GetUserProfile(ctx, userId)
}

// Arrivals is the resolver for the arrivals field.
func (r *queryResolver) Arrivals(ctx context.Context) ([]*models.CbdArrival, error) {
	return r.Resolver.Arrivals.ListArrivals(ctx)
}

// Arrival is the resolver for the arrival field.
func (r *queryResolver) Arrival(ctx context.Context, id int) (*models.CbdArrival, error) {
	return nilIfNotFound(r.Resolver.Arrivals.GetArrival(ctx, id))
}

// CacheStats is the resolver for the cacheStats field.
func (r *queryResolver) CacheStats(ctx context.Context) (*cache.Stats, error) {
	stats, err := r.Catalog.Cache().Stats(ctx)
	if err != nil {
		return nil, utils.WrapInternal("read cache stats", err)
	}
	return &stats, nil
}

// Products is the resolver for the products field.
func (r *supplierResolver) Products(ctx context.Context, obj *models.Supplier) ([]*models.Product, error) {
	return middlewares.GetSupplierProducts(ctx, r.Catalog, obj.ID)
}

// Permissions is the resolver for the permissions field.
func (r *userResolver) Permissions(ctx context.Context, obj *models.User) ([]string, error) {
	perms, err := r.Catalog.GetUserPermissions(ctx, obj.ID)
	if err != nil {
		return nil, err
	}
	return permissionNames(perms), nil
}

// ArrivalProduct returns ArrivalProductResolver implementation.
func (r *Resolver) ArrivalProduct() ArrivalProductResolver { return &arrivalProductResolver{r} }

// Category returns CategoryResolver implementation.
func (r *Resolver) Category() CategoryResolver { return &categoryResolver{r} }

// CbdArrival returns CbdArrivalResolver implementation.
func (r *Resolver) CbdArrival() CbdArrivalResolver { return &cbdArrivalResolver{r} }

// Mutation returns MutationResolver implementation.
func (r *Resolver) Mutation() MutationResolver { return &mutationResolver{r} }

// Product returns ProductResolver implementation.
func (r *Resolver) Product() ProductResolver { return &productResolver{r} }

// Query returns QueryResolver implementation.
func (r *Resolver) Query() QueryResolver { return &queryResolver{r} }

// Supplier returns SupplierResolver implementation.
func (r *Resolver) Supplier() SupplierResolver { return &supplierResolver{r} }

// User returns UserResolver implementation.
func (r *Resolver) User() UserResolver { return &userResolver{r} }

type arrivalProductResolver struct{ *Resolver }
type categoryResolver struct{ *Resolver }
type cbdArrivalResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }
type productResolver struct{ *Resolver }
type queryResolver struct{ *Resolver }
type supplierResolver struct{ *Resolver }
type userResolver struct{ *Resolver }
