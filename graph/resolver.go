package graph

import (
	_ "github.com/99designs/gqlgen/plugin"
	"github.com/intrafmc/cbd_backend/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

//go:generate go run github.com/99designs/gqlgen
// This file will not be regenerated automatically.
//
// It serves as dependency injection for your app, add any dependencies you require here.

type Resolver struct {
	Tracer   trace.Tracer
	Arrivals *models.ArrivalService
	Catalog  *models.CatalogService
}

func (r *Resolver) tracer() trace.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}
	return otel.Tracer("cbd_backend")
}
