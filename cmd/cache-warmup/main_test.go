package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/sirupsen/logrus"
)

func newWarmupFixture(t *testing.T) (*cache.GraphQLCache, *models.CatalogService) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := cache.New(cache.NewMemoryStore(), cache.WithLogger(logger), cache.WithPrefix("test"))
	return c, models.NewCatalogService(models.NewMemoryStore(), c, logger)
}

func TestExecute(t *testing.T) {
	cases := []struct {
		name       string
		opts       options
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"warm", options{}, 0, "warmed ", ""},
		{"clear then warm", options{clearAll: true}, 0, "Cleared 0 keys", ""},
		{"invalidate", options{invalidate: "products"}, 0, "Dropped 0 products entries", ""},
		{"unknown resource", options{invalidate: "widgets"}, 1, "", "widgets"},
	}
	for _, tc := range cases {
		c, catalog := newWarmupFixture(t)
		var stdout, stderr bytes.Buffer
		code := execute(context.Background(), c, catalog, tc.opts, &stdout, &stderr)
		if code != tc.wantCode {
			t.Fatalf("%s: code = %d, want %d (stderr %q)", tc.name, code, tc.wantCode, stderr.String())
		}
		if !strings.Contains(stdout.String(), tc.wantStdout) || !strings.Contains(stderr.String(), tc.wantStderr) {
			t.Fatalf("%s: stdout %q stderr %q", tc.name, stdout.String(), stderr.String())
		}
	}
}

func TestExecute_WarmsEveryList(t *testing.T) {
	c, catalog := newWarmupFixture(t)
	var stdout bytes.Buffer
	if code := execute(context.Background(), c, catalog, options{}, &stdout, io.Discard); code != 0 {
		t.Fatalf("code = %d", code)
	}
	if got := strings.Count(stdout.String(), "warmed "); got != 2 {
		t.Fatalf("warmed %d lists, want 2: %q", got, stdout.String())
	}
}
