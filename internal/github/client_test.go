package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListAllReleasesFollowsPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/vnd.github+json" {
			t.Errorf("missing accept header: %s", r.Header.Get("Accept"))
		}
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/u/r/releases?per_page=100&page=2>; rel="next", <%s/repos/u/r/releases?page=2>; rel="last"`, server.URL, server.URL))
			fmt.Fprint(w, `[{"tag_name":"v1.0","assets":[{"name":"Foo_1.0.ipa","download_count":5}]}]`)
		case "2":
			fmt.Fprint(w, `[{"tag_name":"v2.0","assets":[{"name":"Foo_2.0.ipa","download_count":7}]}]`)
		default:
			t.Errorf("unexpected page: %s", r.URL.RawQuery)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), 2*time.Second)
	releases, err := client.ListAllReleases(context.Background(), "u/r")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("expected 2 releases across pages, got %d", len(releases))
	}
	if releases[1].Assets[0].DownloadCount != 7 {
		t.Fatalf("unexpected asset payload: %+v", releases[1])
	}
}

func TestListAllReleasesRateLimited(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), 2*time.Second)
	_, err := client.ListAllReleases(context.Background(), "u/r")

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.ResetAt.Unix() != reset {
		t.Fatalf("reset time mismatch: %v", rateErr.ResetAt)
	}
}

func TestListAllReleasesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), 50*time.Millisecond)
	_, err := client.ListAllReleases(context.Background(), "u/r")

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestListAllReleasesRejectsBadRepo(t *testing.T) {
	client := NewClient("https://api.github.com", nil, time.Second)
	if _, err := client.ListAllReleases(context.Background(), "not-a-repo"); err == nil {
		t.Fatalf("expected error for repo without owner")
	}
}

func TestParseNextLink(t *testing.T) {
	link := `<https://api.github.com/repos/u/r/releases?page=3>; rel="next", <https://api.github.com/repos/u/r/releases?page=5>; rel="last"`
	if got := parseNextLink(link); got != "https://api.github.com/repos/u/r/releases?page=3" {
		t.Fatalf("unexpected next link: %s", got)
	}
	if got := parseNextLink(`<https://api.github.com/x>; rel="prev"`); got != "" {
		t.Fatalf("expected empty next link, got %s", got)
	}
	if got := parseNextLink(""); got != "" {
		t.Fatalf("expected empty for missing header, got %s", got)
	}
}
