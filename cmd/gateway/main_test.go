package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"

	"aerogate/pkg/store"
)

func TestRunGatewayStartup(t *testing.T) {
	t.Setenv("AEROGATE_SQLITE_PATH", filepath.Join(t.TempDir(), "ops.db"))
	t.Setenv("AEROGATE_ADDR", ":0")

	telemetryInit := func(ctx context.Context, service string) (func(context.Context) error, error) {
		if service != "aerogate" {
			t.Fatalf("unexpected service name %q", service)
		}
		return func(context.Context) error { return nil }, nil
	}
	redisOpen := func(ctx context.Context, opts store.RedisOptions) (*redis.Client, error) {
		return nil, errors.New("redis down")
	}

	var captured *http.Server
	listen := func(server *http.Server) error {
		captured = server
		return nil
	}

	if err := runGateway("", telemetryInit, redisOpen, listen); err != nil {
		t.Fatalf("runGateway failed: %v", err)
	}
	if captured == nil {
		t.Fatal("expected server to be constructed")
	}
	if captured.Addr != ":0" {
		t.Fatalf("unexpected addr %q", captured.Addr)
	}

	// the built handler serves health without further wiring
	rr := httptest.NewRecorder()
	captured.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rr.Code)
	}
}

func TestRunGatewayBadConfigPath(t *testing.T) {
	telemetryInit := func(ctx context.Context, service string) (func(context.Context) error, error) {
		return func(context.Context) error { return nil }, nil
	}
	redisOpen := func(ctx context.Context, opts store.RedisOptions) (*redis.Client, error) { return nil, errors.New("no redis") }
	listen := func(server *http.Server) error { return nil }

	if err := runGateway("/nonexistent/gateway.yaml", telemetryInit, redisOpen, listen); err == nil {
		t.Fatal("expected config error")
	}
}

func TestRunGatewayPassesRedisConfig(t *testing.T) {
	t.Setenv("AEROGATE_SQLITE_PATH", filepath.Join(t.TempDir(), "ops.db"))
	t.Setenv("AEROGATE_REDIS_ADDR", "redis.example.internal:6390")
	t.Setenv("AEROGATE_REDIS_PASSWORD", "s3cret")
	t.Setenv("AEROGATE_REDIS_DB", "3")

	telemetryInit := func(ctx context.Context, service string) (func(context.Context) error, error) {
		return func(context.Context) error { return nil }, nil
	}
	var got store.RedisOptions
	redisOpen := func(ctx context.Context, opts store.RedisOptions) (*redis.Client, error) {
		got = opts
		return nil, errors.New("unreachable")
	}
	listen := func(server *http.Server) error { return nil }

	if err := runGateway("", telemetryInit, redisOpen, listen); err != nil {
		t.Fatalf("runGateway failed: %v", err)
	}
	if got.Addr != "redis.example.internal:6390" {
		t.Fatalf("expected configured redis addr, got %q", got.Addr)
	}
	if got.Password != "s3cret" || got.DB != 3 {
		t.Fatalf("expected configured credentials, got %+v", got)
	}
}

func TestRunGatewayTelemetryError(t *testing.T) {
	t.Setenv("AEROGATE_SQLITE_PATH", filepath.Join(t.TempDir(), "ops.db"))
	telemetryInit := func(ctx context.Context, service string) (func(context.Context) error, error) {
		return nil, errors.New("otel exporter unreachable")
	}
	redisOpen := func(ctx context.Context, opts store.RedisOptions) (*redis.Client, error) { return nil, errors.New("no redis") }
	listen := func(server *http.Server) error { return nil }

	if err := runGateway("", telemetryInit, redisOpen, listen); err == nil {
		t.Fatal("expected telemetry error")
	}
}
