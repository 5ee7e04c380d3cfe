package graph

import (
	"context"
	"errors"

	"github.com/99designs/gqlgen/graphql"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

var categories = map[error]string{
	utils.ErrNotFound:     "not_found",
	utils.ErrInvalidState: "invalid_state",
	utils.ErrValidation:   "validation",
	utils.ErrTransaction:  "transaction",
	utils.ErrCacheLoad:    "cache_load",
	utils.ErrUnauthorized: "unauthorized",
	utils.ErrForbidden:    "forbidden",
	utils.ErrInternal:     "internal",
}

// Category is the extensions.category value clients see for err.
func Category(err error) string {
	return categories[utils.KindOf(err)]
}

// ErrorPresenter turns classified errors into client errors carrying
// extensions {category, reason}. Internal failures are logged and shown
// without detail. Parse and validation errors from gqlgen pass through.
func ErrorPresenter(ctx context.Context, err error) *gqlerror.Error {
	presented := graphql.DefaultErrorPresenter(ctx, err)
	if !utils.IsClassified(err) {
		return presented
	}

	kind := utils.KindOf(err)
	if kind == utils.ErrInternal || kind == utils.ErrTransaction {
		var data any
		if fc := graphql.GetFieldContext(ctx); fc != nil {
			data = fc.Path().String()
		}
		config.LogError(config.GetLogger(), "graph", "ErrorPresenter", presented.Message, data, err)
	}

	presented.Message = utils.MessageOf(err)
	ext := map[string]interface{}{
		"category": categories[kind],
		"reason":   utils.ReasonOf(err),
	}
	if kind == utils.ErrInternal {
		presented.Message = "internal error"
		ext["reason"] = "an unexpected error occurred"
	}
	if fields := utils.FieldsOf(err); len(fields) > 0 {
		ext["validation"] = fields
	}
	presented.Extensions = ext
	return presented
}

// RecoverFunc reports resolver panics as internal errors.
func RecoverFunc(ctx context.Context, rec interface{}) error {
	err, ok := rec.(error)
	if !ok {
		err = errors.New("panic in resolver")
	}
	config.LogError(config.GetLogger(), "graph", "RecoverFunc", "resolver panic", rec, err)
	return utils.WrapInternal("resolve", err)
}
