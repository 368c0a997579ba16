package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/coordinator"
	"github.com/ipahub/ipahub/internal/resource"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewAppValidatesOptions(t *testing.T) {
	gateway := GatewayHandlerFunc(func(context.Context, string, string, string) *coordinator.Outcome {
		return &coordinator.Outcome{Status: http.StatusOK}
	})

	if _, err := NewApp(AppOptions{Gateway: gateway}); err == nil {
		t.Fatalf("expected error when logger missing")
	}
	if _, err := NewApp(AppOptions{Logger: quietLogger()}); err == nil {
		t.Fatalf("expected error when gateway missing")
	}
	if _, err := NewApp(AppOptions{Logger: quietLogger(), Gateway: gateway}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGatewayCatchAllWritesOutcome(t *testing.T) {
	var gotURI atomic.Value
	gateway := GatewayHandlerFunc(func(_ context.Context, method, requestURI, accept string) *coordinator.Outcome {
		gotURI.Store(requestURI)
		header := http.Header{}
		header.Set("Content-Type", "text/plain")
		header.Set("Connection", "keep-alive")
		return &coordinator.Outcome{
			Status:   http.StatusOK,
			Header:   header,
			Body:     []byte("hello"),
			Class:    resource.ClassStatic,
			Strategy: resource.StrategyCacheFirst,
			CacheHit: true,
		}
	})

	app, err := NewApp(AppOptions{Logger: quietLogger(), Gateway: gateway})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/assets/app.css?v=2", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("unexpected body: %s", body)
	}
	if resp.Header.Get("X-Ipahub-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit header")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	if _, exists := resp.Header["Connection"]; exists && resp.Header.Get("Connection") == "keep-alive" {
		t.Fatalf("hop-by-hop header must not be copied from the outcome")
	}
	if uri, _ := gotURI.Load().(string); !strings.Contains(uri, "?v=2") {
		t.Fatalf("expected query string forwarded, got %s", uri)
	}
}

func TestReservedPathsBypassGateway(t *testing.T) {
	var calls atomic.Int32
	gateway := GatewayHandlerFunc(func(context.Context, string, string, string) *coordinator.Outcome {
		calls.Add(1)
		return &coordinator.Outcome{Status: http.StatusOK}
	})

	app, err := NewApp(AppOptions{Logger: quietLogger(), Gateway: gateway})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	for _, path := range []string{"/api/downloads", "/internal/update/status", "/healthz"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for unregistered reserved path %s, got %d", path, resp.StatusCode)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("gateway must not handle reserved paths, got %d calls", calls.Load())
	}
}
