package directives

import (
	"context"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
)

// PermissionSource lists what a user may do.
type PermissionSource interface {
	GetUserPermissions(ctx context.Context, userId int) ([]models.Permission, error)
}

// Auth builds the @auth directive. Every annotated field needs an
// authenticated principal; when a permission is named the principal must hold
// it. Permissions are read through the permissions cache.
func Auth(source PermissionSource) func(ctx context.Context, obj interface{}, next graphql.Resolver, permission *string) (interface{}, error) {
	return func(ctx context.Context, obj interface{}, next graphql.Resolver, permission *string) (interface{}, error) {
		userId, ok := utils.GetUserIdFromContext(ctx)
		if !ok || userId <= 0 {
			return nil, utils.NewUnauthorized("authentication is required to access this resource")
		}

		if permission == nil || *permission == "" {
			return next(ctx)
		}
		want := *permission

		perms, err := source.GetUserPermissions(ctx, userId)
		if err != nil {
			return nil, err
		}
		if !models.HasPermission(perms, models.Permission(want)) {
			return nil, utils.NewForbidden(fmt.Sprintf("missing permission %s", want))
		}
		return next(ctx)
	}
}
