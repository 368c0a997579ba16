package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/ipahub/ipahub/internal/coordinator"
	"github.com/ipahub/ipahub/internal/downloads"
	"github.com/ipahub/ipahub/internal/github"
	"github.com/ipahub/ipahub/internal/manifest"
	"github.com/ipahub/ipahub/internal/server"
	"github.com/ipahub/ipahub/internal/server/routes"
)

// newReleasesStub 模拟 GitHub Releases API：/repos/{repo}/releases 返回固定负载。
func newReleasesStub(t *testing.T, payloads map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/repos/"), "/releases")
		body, ok := payloads[repo]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAPIApp(t *testing.T, counter *downloads.Counter) *fiber.App {
	t.Helper()
	gateway := server.GatewayHandlerFunc(func(context.Context, string, string, string) *coordinator.Outcome {
		return &coordinator.Outcome{Status: http.StatusNotFound}
	})
	app, err := server.NewApp(server.AppOptions{Logger: quietLogger(), Gateway: gateway})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterDownloadRoutes(app, quietLogger(), counter)
	return app
}

func TestDownloadsAPIFlow(t *testing.T) {
	stub := newReleasesStub(t, map[string]string{
		"acme/tweaks": `[{"tag_name":"v1","assets":[
			{"name":"CoolApp_1.0.ipa","download_count":30},
			{"name":"CoolApp_0.9.ipa","download_count":12}]}]`,
	})

	counter := downloads.NewCounter(downloads.Options{
		Logger:         quietLogger(),
		Client:         github.NewClient(stub.URL, stub.Client(), 2*time.Second),
		ReconcileDelay: time.Hour,
	})
	t.Cleanup(counter.Close)

	apps := []manifest.App{{
		BundleID: "com.acme.coolapp",
		Name:     "CoolApp",
		Versions: []manifest.Version{{
			Version:     "1.0",
			DownloadURL: "https://github.com/acme/tweaks/releases/download/v1/CoolApp_1.0.ipa",
		}},
	}}
	if err := counter.Init(context.Background(), apps); err != nil {
		t.Fatalf("init error: %v", err)
	}

	app := newAPIApp(t, counter)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/downloads", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	var payload struct {
		Counts map[string]*int64 `json:"counts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()

	got := payload.Counts["com.acme.coolapp"]
	if got == nil || *got != 42 {
		t.Fatalf("expected summed count 42 across releases, got %v", got)
	}

	// 乐观 +1 立即反映在 API 上，无需等待对账。
	req := httptest.NewRequest(http.MethodPost, "/api/downloads/com.acme.coolapp/track",
		strings.NewReader(`{"url":"https://github.com/acme/tweaks/releases/download/v1/CoolApp_1.0.ipa"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from track, got %d", resp.StatusCode)
	}

	if got := counter.Count("com.acme.coolapp"); got == nil || *got != 43 {
		t.Fatalf("expected optimistic count 43, got %v", got)
	}
	if !counter.IsOptimistic("com.acme.coolapp") {
		t.Fatalf("expected optimistic mark after track")
	}
}
