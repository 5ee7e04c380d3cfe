package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not found", NewNotFound("product", 3), ErrNotFound},
		{"invalid state", NewInvalidState("frozen", "arrival 1 is validated"), ErrInvalidState},
		{"validation", NewValidationError("bad", map[string]string{"amount": "gte"}), ErrValidation},
		{"transaction wraps cause", WrapTransaction("validate", errors.New("deadlock")), ErrTransaction},
		{"transaction keeps classified", WrapTransaction("validate", NewNotFound("arrival", 1)), ErrNotFound},
		{"cache load keeps loader kind", WrapCacheLoad("k", NewNotFound("category", 1)), ErrNotFound},
		{"cache load", WrapCacheLoad("k", context.DeadlineExceeded), ErrCacheLoad},
		{"plain error", errors.New("boom"), ErrInternal},
		{"wrapped by fmt", fmt.Errorf("outer: %w", NewForbidden("no")), ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWrapTransactionKeepsCause(t *testing.T) {
	cause := errors.New("lock wait timeout")
	err := WrapTransaction("validate arrival", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	if ReasonOf(err) == "" || MessageOf(err) == "" {
		t.Fatalf("message/reason empty: %q / %q", MessageOf(err), ReasonOf(err))
	}
}

type arrivalLine struct {
	ProductId int             `json:"product_id" binding:"required,gt=0"`
	Quantity  int             `json:"quantity" binding:"required,gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"gte=0"`
}

type arrivalInput struct {
	Amount   decimal.Decimal `json:"amount" binding:"gte=0"`
	Products []*arrivalLine  `json:"products" binding:"required,min=1,dive,required"`
}

func TestValidateInput(t *testing.T) {
	ok := &arrivalInput{Amount: decimal.NewFromInt(5), Products: []*arrivalLine{{ProductId: 1, Quantity: 2, UnitPrice: decimal.NewFromFloat(1.5)}}}
	if err := ValidateInput(ok); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	bad := &arrivalInput{
		Amount:   decimal.NewFromInt(-1),
		Products: []*arrivalLine{{ProductId: 1, Quantity: 0, UnitPrice: decimal.NewFromInt(-2)}},
	}
	err := ValidateInput(bad)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ValidationFailure", err)
	}
	fields := FieldsOf(err)
	for _, f := range []string{"amount", "products[0].quantity", "products[0].unit_price"} {
		if _, ok := fields[f]; !ok {
			t.Fatalf("fields = %v, missing %s", fields, f)
		}
	}
}
