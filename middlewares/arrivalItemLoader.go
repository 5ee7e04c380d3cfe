package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/intrafmc/cbd_backend/models"
)

type arrivalItemReader struct {
	arrivals *models.ArrivalService
}

func (r *arrivalItemReader) getArrivalItems(ctx context.Context, arrivalIds []int) []*dataloader.Result[[]*models.ArrivalProduct] {
	items, err := r.arrivals.ArrivalItems(ctx, arrivalIds)
	if err != nil {
		return handleError[[]*models.ArrivalProduct](len(arrivalIds), err)
	}
	return generateLoaderResults(items, arrivalIds)
}

// GetArrivalItems returns the line items of one arrival.
func GetArrivalItems(ctx context.Context, arrivals *models.ArrivalService, arrivalId int) ([]*models.ArrivalProduct, error) {
	loaders := For(ctx)
	if loaders == nil {
		items, err := arrivals.ArrivalItems(ctx, []int{arrivalId})
		return items[arrivalId], err
	}
	return loaders.arrivalItemLoader.Load(ctx, arrivalId)()
}
