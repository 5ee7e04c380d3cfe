package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/sirupsen/logrus"
)

// CacheInvalidator drops cached reads made stale by a write.
type CacheInvalidator interface {
	InvalidateFor(ctx context.Context, resource cache.ResourceType) error
}

// ArrivalService owns the arrival lifecycle. Every operation runs in one
// store transaction; stock is applied only through ApplyArrivalValidation.
type ArrivalService struct {
	store  Store
	cache  CacheInvalidator
	logger *logrus.Logger
	now    func() time.Time
}

func NewArrivalService(store Store, invalidator CacheInvalidator, logger *logrus.Logger) *ArrivalService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ArrivalService{
		store:  store,
		cache:  invalidator,
		logger: logger,
		now:    time.Now,
	}
}

func (s *ArrivalService) GetArrival(ctx context.Context, id int) (*CbdArrival, error) {
	var arrival *CbdArrival
	err := s.store.View(ctx, func(tx StoreTx) error {
		var err error
		arrival, err = tx.GetArrival(id, false)
		return err
	})
	if err != nil {
		return nil, s.fail("GetArrival", id, utils.WrapInternal("get arrival", err))
	}
	return arrival, nil
}

func (s *ArrivalService) ListArrivals(ctx context.Context) ([]*CbdArrival, error) {
	var arrivals []*CbdArrival
	err := s.store.View(ctx, func(tx StoreTx) error {
		var err error
		arrivals, err = tx.ListArrivals()
		return err
	})
	if err != nil {
		return nil, s.fail("ListArrivals", nil, utils.WrapInternal("list arrivals", err))
	}
	return arrivals, nil
}

// ArrivalItems returns line items grouped by arrival id.
func (s *ArrivalService) ArrivalItems(ctx context.Context, arrivalIds []int) (map[int][]*ArrivalProduct, error) {
	out := make(map[int][]*ArrivalProduct, len(arrivalIds))
	err := s.store.View(ctx, func(tx StoreTx) error {
		items, err := tx.ListArrivalItems(arrivalIds)
		if err != nil {
			return err
		}
		for _, item := range items {
			out[item.ArrivalId] = append(out[item.ArrivalId], item)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("ArrivalItems", arrivalIds, utils.WrapInternal("list arrival items", err))
	}
	return out, nil
}

// ValidateArrival moves a pending arrival to validated and applies its stock.
// A second call fails with InvalidState and changes nothing.
func (s *ArrivalService) ValidateArrival(ctx context.Context, id int) (*CbdArrival, error) {
	var validated *CbdArrival
	err := s.store.Transaction(ctx, func(tx StoreTx) error {
		arrival, err := ApplyArrivalValidation(ctx, tx, id, s.now())
		validated = arrival
		return err
	})
	if err != nil {
		return nil, s.fail("ValidateArrival", id, utils.WrapTransaction("validate arrival", err))
	}
	s.invalidateStock(ctx)
	return validated, nil
}

// CreateArrival inserts the arrival with its line items. Creating directly as
// validated applies stock in the same transaction.
func (s *ArrivalService) CreateArrival(ctx context.Context, input *NewArrival, createdBy *int) (*CbdArrival, error) {
	if input == nil {
		return nil, utils.NewValidationError("input is required", nil)
	}
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	productIds := make([]int, 0, len(input.Products))
	for _, p := range input.Products {
		productIds = append(productIds, p.ProductId)
	}
	if err := rejectDuplicateProducts(productIds); err != nil {
		return nil, err
	}

	var created *CbdArrival
	err := s.store.Transaction(ctx, func(tx StoreTx) error {
		missing, err := tx.MissingProductIds(productIds)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return utils.NewNotFound("product", missing[0])
		}

		arrival := &CbdArrival{
			Amount:    input.Amount,
			Status:    ArrivalStatusPending,
			CreatedBy: createdBy,
		}
		for _, p := range input.Products {
			arrival.Items = append(arrival.Items, &ArrivalProduct{
				ProductId: p.ProductId,
				Quantity:  p.Quantity,
				UnitPrice: p.UnitPrice,
			})
		}
		if err := tx.CreateArrival(arrival); err != nil {
			return err
		}
		created = arrival

		if input.Status == ArrivalStatusValidated {
			validated, err := ApplyArrivalValidation(ctx, tx, arrival.ID, s.now())
			if err != nil {
				return err
			}
			created = validated
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("CreateArrival", input, utils.WrapTransaction("create arrival", err))
	}
	if created.Status == ArrivalStatusValidated {
		s.invalidateStock(ctx)
	}
	return created, nil
}

// UpdateArrival applies a partial update to a pending arrival. Line items for
// products already on the arrival are updated in place; new products are
// added. Setting status to validated applies stock after the other changes.
func (s *ArrivalService) UpdateArrival(ctx context.Context, id int, input *UpdateArrival) (*CbdArrival, error) {
	if input == nil {
		return nil, utils.NewValidationError("input is required", nil)
	}
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	productIds := make([]int, 0, len(input.Products))
	for _, p := range input.Products {
		productIds = append(productIds, p.ProductId)
	}
	if err := rejectDuplicateProducts(productIds); err != nil {
		return nil, err
	}

	var updated *CbdArrival
	err := s.store.Transaction(ctx, func(tx StoreTx) error {
		arrival, err := tx.GetArrival(id, true)
		if err != nil {
			return err
		}
		if !arrival.IsPending() {
			return utils.NewInvalidState("arrival is frozen", fmt.Sprintf("arrival %d is validated and can no longer be modified", id))
		}

		if input.Amount != nil {
			if err := tx.UpdateArrivalAmount(id, *input.Amount); err != nil {
				return err
			}
		}

		for _, p := range input.Products {
			if err := applyLineItemUpdate(tx, arrival, p); err != nil {
				return err
			}
		}

		if input.Status != nil && *input.Status == ArrivalStatusValidated {
			updated, err = ApplyArrivalValidation(ctx, tx, id, s.now())
			return err
		}
		updated, err = tx.GetArrival(id, false)
		return err
	})
	if err != nil {
		return nil, s.fail("UpdateArrival", id, utils.WrapTransaction("update arrival", err))
	}
	if updated.Status == ArrivalStatusValidated {
		s.invalidateStock(ctx)
	}
	return updated, nil
}

func applyLineItemUpdate(tx StoreTx, arrival *CbdArrival, p *UpdateArrivalProduct) error {
	if existing := arrival.itemFor(p.ProductId); existing != nil {
		if p.Quantity != nil {
			existing.Quantity = *p.Quantity
		}
		if p.UnitPrice != nil {
			existing.UnitPrice = *p.UnitPrice
		}
		return tx.UpdateArrivalItem(existing)
	}

	fields := map[string]string{}
	if p.Quantity == nil {
		fields["quantity"] = "required"
	}
	if p.UnitPrice == nil {
		fields["unit_price"] = "required"
	}
	if len(fields) > 0 {
		return utils.NewValidationError(
			fmt.Sprintf("product %d is not on the arrival yet; %s", p.ProductId, utils.FieldsReason(fields)),
			fields,
		)
	}
	if _, err := tx.GetProduct(p.ProductId, false); err != nil {
		return err
	}
	item := &ArrivalProduct{
		ArrivalId: arrival.ID,
		ProductId: p.ProductId,
		Quantity:  *p.Quantity,
		UnitPrice: *p.UnitPrice,
	}
	if err := tx.AddArrivalItem(item); err != nil {
		return err
	}
	arrival.Items = append(arrival.Items, item)
	return nil
}

// DeleteArrival removes a pending arrival and its line items.
func (s *ArrivalService) DeleteArrival(ctx context.Context, id int) (*CbdArrival, error) {
	var deleted *CbdArrival
	err := s.store.Transaction(ctx, func(tx StoreTx) error {
		arrival, err := tx.GetArrival(id, true)
		if err != nil {
			return err
		}
		if !arrival.IsPending() {
			return utils.NewInvalidState("cannot delete a validated arrival", fmt.Sprintf("arrival %d is validated; validated arrivals cannot be deleted", id))
		}
		if err := tx.DeleteArrival(id); err != nil {
			return err
		}
		deleted = arrival
		return nil
	})
	if err != nil {
		return nil, s.fail("DeleteArrival", id, utils.WrapTransaction("delete arrival", err))
	}
	return deleted, nil
}

func rejectDuplicateProducts(productIds []int) error {
	seen := make(map[int]bool, len(productIds))
	for _, id := range productIds {
		if seen[id] {
			return utils.NewValidationError(fmt.Sprintf("product %d appears more than once", id), map[string]string{"products": "unique"})
		}
		seen[id] = true
	}
	return nil
}

// invalidateStock drops product and category reads after stock changed.
// Failures are logged; the stock change itself is already committed.
func (s *ArrivalService) invalidateStock(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFor(ctx, cache.ResourceProducts); err != nil {
		config.LogError(s.logger, "ArrivalService", "invalidateStock", "invalidating product cache", nil, err)
	}
}

// fail logs store and internal failures; client errors pass through quietly.
func (s *ArrivalService) fail(funcName string, data any, err error) error {
	if errors.Is(err, utils.ErrTransaction) || errors.Is(err, utils.ErrInternal) {
		config.LogError(s.logger, "ArrivalService", funcName, "store operation failed", data, err)
	}
	return err
}
