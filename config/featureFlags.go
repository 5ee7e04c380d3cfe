package config

import (
	"os"
	"strings"
)

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// CachePrefix is the namespace every GraphQL cache key lives under.
//
// Set via env:
// - CACHE_PREFIX (default "graphql_cache")
func CachePrefix() string {
	if v := strings.TrimSpace(os.Getenv("CACHE_PREFIX")); v != "" {
		return v
	}
	return "graphql_cache"
}

// CacheCoalesceMisses collapses concurrent misses on one key into a single loader call.
//
// Set via env:
// - CACHE_COALESCE_MISSES=false to disable (default on)
func CacheCoalesceMisses() bool {
	return boolFromEnv("CACHE_COALESCE_MISSES", true)
}

// CacheWarmUpOnStart runs the categories/suppliers warm-up once the store is reachable.
//
// Set via env:
// - CACHE_WARMUP_ON_START=true
func CacheWarmUpOnStart() bool {
	return boolFromEnv("CACHE_WARMUP_ON_START", false)
}

// StockEventsEnabled turns on the stock event outbox dispatcher.
//
// Set via env:
// - STOCK_EVENTS_ENABLED=true
// - STOCK_EVENTS_TOPIC (default "cbd-stock-events")
func StockEventsEnabled() bool {
	return boolFromEnv("STOCK_EVENTS_ENABLED", false)
}

func StockEventsTopic() string {
	if v := strings.TrimSpace(os.Getenv("STOCK_EVENTS_TOPIC")); v != "" {
		return v
	}
	return "cbd-stock-events"
}

// PhoneRegion is the default region used to parse supplier phone numbers without a country code.
func PhoneRegion() string {
	if v := strings.TrimSpace(os.Getenv("PHONE_REGION")); v != "" {
		return strings.ToUpper(v)
	}
	return "FR"
}
