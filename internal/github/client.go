// Package github is a minimal client for the GitHub Releases API: paginated
// release listings, typed rate-limit and timeout failures, nothing else.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Asset 是附着在单个 Release 上的可下载文件。
type Asset struct {
	Name          string `json:"name"`
	DownloadCount int64  `json:"download_count"`
}

// Release 仅保留计数所需字段。
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// RateLimitError 表示被限流；ResetAt 为零值时表示服务端未给出恢复时间。
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "github: rate limited"
	}
	return fmt.Sprintf("github: rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// TimeoutError 表示单次请求超时被中止，与一般网络错误区分开。
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("github: request timed out: %s", e.URL)
}

// Client 包装共享 http.Client，按仓库抓取全量 Release 列表。
type Client struct {
	base       string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient 构造客户端；base 形如 https://api.github.com，timeout 约束单次请求。
func NewClient(base string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// ListAllReleases 抓取 repo（owner/name 形式）的所有 Release，
// 沿 Link 头的 rel="next" 翻页直到穷尽。
func (c *Client) ListAllReleases(ctx context.Context, repo string) ([]Release, error) {
	if repo == "" || !strings.Contains(repo, "/") {
		return nil, fmt.Errorf("github: invalid repo %q", repo)
	}

	next := fmt.Sprintf("%s/repos/%s/releases?per_page=100", c.base, repo)
	var all []Release

	for next != "" {
		page, nextURL, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		next = nextURL
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]Release, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, "", &TimeoutError{URL: pageURL}
		}
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, "", &RateLimitError{ResetAt: parseRateLimitReset(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, "", fmt.Errorf("github: unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	var page []Release
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("github: decode releases: %w", err)
	}
	return page, parseNextLink(resp.Header.Get("Link")), nil
}

// parseRateLimitReset 解析 X-RateLimit-Reset（Unix 秒）。
func parseRateLimitReset(header http.Header) time.Time {
	raw := header.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// parseNextLink 从 Link 头中提取 rel="next" 的 URL，找不到时返回空串。
func parseNextLink(link string) string {
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		urlPart := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, attr := range section[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				return urlPart
			}
		}
	}
	return ""
}
