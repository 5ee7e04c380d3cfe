package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/intrafmc/cbd_backend/utils"
)

// ApplyArrivalValidation performs the arrival transition pending -> validated
// and adds every line item's quantity to its product's stock.
//
// It is the only code path that sets status=validated; create, update and
// validate all route through it. It must run inside tx: the arrival row is
// locked, the status change is a conditional update checked by affected rows,
// products are locked in ascending id order, and a stock event is written to
// the outbox. Any error leaves the caller to roll back.
func ApplyArrivalValidation(ctx context.Context, tx StoreTx, arrivalId int, at time.Time) (*CbdArrival, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx is nil")
	}
	arrival, err := tx.GetArrival(arrivalId, true)
	if err != nil {
		return nil, err
	}
	if !arrival.IsPending() {
		return nil, errAlreadyValidated(arrivalId)
	}

	ok, err := tx.TransitionArrivalStatus(arrivalId, ArrivalStatusPending, ArrivalStatusValidated, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		// another transaction validated it between our read and write
		return nil, errAlreadyValidated(arrivalId)
	}

	quantities := arrival.quantitiesByProduct()
	productIds := make([]int, 0, len(quantities))
	for id := range quantities {
		productIds = append(productIds, id)
	}
	sort.Ints(productIds)

	locked, err := tx.LockProducts(productIds)
	if err != nil {
		return nil, err
	}
	if len(locked) != len(productIds) {
		found := make([]int, 0, len(locked))
		for _, p := range locked {
			found = append(found, p.ID)
		}
		missing := missingIds(productIds, found)
		return nil, utils.NewNotFound("product", missing[0])
	}

	lines := make([]StockEventLine, 0, len(productIds))
	for _, productId := range productIds {
		newStock, err := tx.IncrementStock(productId, quantities[productId])
		if err != nil {
			return nil, err
		}
		lines = append(lines, StockEventLine{ProductId: productId, Quantity: quantities[productId], NewStock: newStock})
	}

	event, err := newArrivalValidatedEvent(ctx, arrivalId, at, lines)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateStockEvent(event); err != nil {
		return nil, err
	}

	arrival.Status = ArrivalStatusValidated
	arrival.ValidatedAt = &at
	return arrival, nil
}

func errAlreadyValidated(arrivalId int) error {
	return utils.NewInvalidState("arrival already validated", fmt.Sprintf("arrival %d is already validated", arrivalId))
}
