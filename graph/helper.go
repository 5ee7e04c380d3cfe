package graph

import (
	"errors"
	"sort"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/graph/model"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/vektah/gqlparser/v2/ast"
)

// Schema returns the parsed schema served by the executable schema.
func Schema() *ast.Schema { return parsedSchema }

// SDL returns the schema source as embedded at build time.
func SDL() string { return sourceData("schema.graphqls") }

// nilIfNotFound turns a missing row into a null field.
func nilIfNotFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func newWarmUpResult(report cache.WarmUpReport) *model.CacheWarmUpResult {
	out := &model.CacheWarmUpResult{Warmed: report.Warmed, Failed: []string{}, Skipped: report.Skipped}
	if out.Warmed == nil {
		out.Warmed = []string{}
	}
	for key := range report.Failed {
		out.Failed = append(out.Failed, key)
	}
	sort.Strings(out.Failed)
	return out
}

func permissionNames(perms []models.Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	return names
}
