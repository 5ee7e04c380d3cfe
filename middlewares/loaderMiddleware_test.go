package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestLoaderMiddleware_FreshLoadersPerRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	built := 0
	r := gin.New()
	r.Use(LoaderMiddleware(func() *Loaders {
		built++
		return &Loaders{}
	}))
	var seen []*Loaders
	r.GET("/loaders", func(c *gin.Context) {
		seen = append(seen, For(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loaders", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("code = %d, want 204", rec.Code)
		}
	}
	if built != 2 || len(seen) != 2 {
		t.Fatalf("built %d loaders for %d requests", built, len(seen))
	}
	if seen[0] == nil || seen[1] == nil || seen[0] == seen[1] {
		t.Fatalf("loaders = %p %p, want two distinct sets", seen[0], seen[1])
	}
}

func TestFor_OutsideRequest(t *testing.T) {
	if got := For(context.Background()); got != nil {
		t.Fatalf("For = %p, want nil", got)
	}
}
