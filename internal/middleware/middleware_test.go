package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
)

func newEngine(handlers ...app.HandlerFunc) *route.Engine {
	engine := route.NewEngine(config.NewOptions([]config.Option{}))
	engine.Use(RecoverMiddlewareWithConfig(RecoverConfig{IsProduction: true}))
	engine.Use(RequestIDMiddleware())
	engine.Use(OpenTelemetryMiddleware())
	engine.GET("/v1/participants/:id/status", handlers...)
	return engine
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	engine := newEngine(func(ctx context.Context, c *app.RequestContext) {
		seen = RequestIDFrom(c)
		c.Status(http.StatusOK)
	})

	resp := ut.PerformRequest(engine, http.MethodGet, "/v1/participants/P1/status", nil).Result()
	if seen == "" {
		t.Fatal("expected generated request id")
	}
	if got := string(resp.Header.Peek(RequestIDHeader)); got != seen {
		t.Fatalf("response header = %q, want %q", got, seen)
	}

	resp = ut.PerformRequest(engine, http.MethodGet, "/v1/participants/P1/status", nil,
		ut.Header{Key: RequestIDHeader, Value: "req-123"}).Result()
	if seen != "req-123" || string(resp.Header.Peek(RequestIDHeader)) != "req-123" {
		t.Fatalf("incoming request id not propagated: %q", seen)
	}
}

func TestRecoverReturns500(t *testing.T) {
	engine := newEngine(func(ctx context.Context, c *app.RequestContext) {
		panic("boom")
	})

	resp := ut.PerformRequest(engine, http.MethodGet, "/v1/participants/P1/status", nil).Result()
	if resp.StatusCode() != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode())
	}
}
