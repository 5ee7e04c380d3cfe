package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/intrafmc/cbd_backend/utils"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusOK, gin.H{"user_id": 0})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")
	token, err := utils.JwtGenerate(7, utils.RoleAdmin)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	cases := []struct {
		name     string
		header   string
		value    string
		wantCode int
		wantBody string
	}{
		{"anonymous", "", "", http.StatusOK, `{"user_id":0}`},
		{"bearer", "Authorization", "Bearer " + token, http.StatusOK, `{"user_id":7}`},
		{"legacy header", "token", token, http.StatusOK, `{"user_id":7}`},
		{"garbage", "Authorization", "Bearer not-a-jwt", http.StatusUnauthorized, `{"error":"unauthorized"}`},
	}
	r := newAuthRouter()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.wantCode || rec.Body.String() != tc.wantBody {
			t.Fatalf("%s: got %d %s, want %d %s", tc.name, rec.Code, rec.Body.String(), tc.wantCode, tc.wantBody)
		}
	}
}

func TestAuthMiddleware_RejectsOtherSecret(t *testing.T) {
	t.Setenv("API_SECRET", "one")
	token, err := utils.JwtGenerate(7, "")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	t.Setenv("API_SECRET", "two")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newAuthRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}
