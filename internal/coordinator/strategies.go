package coordinator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/cache"
	"github.com/ipahub/ipahub/internal/resource"
)

// Outcome 是一次请求经过策略处理后的最终结果。任何失败都被折叠成
// 兜底响应，调用方永远拿到一个可直接写出的 Outcome。
type Outcome struct {
	Status   int
	Header   http.Header
	Body     []byte
	Class    resource.Class
	Strategy resource.Strategy
	Bucket   string
	CacheHit bool
	Fallback bool
}

// defaultMaxBodyBytes 是缓存条目的默认体积上限，图片/页面/JSON 远小于该值。
const defaultMaxBodyBytes = 20 << 20

// Handle 对一个被拦截的请求执行完整的“分类 → 策略 → 兜底”流程。
// requestURI 可以携带查询串；accept 是请求的 Accept 头。
// 该方法从不 panic、从不返回错误。
func (co *Coordinator) Handle(ctx context.Context, method, requestURI, accept string) *Outcome {
	path, rawQuery, _ := strings.Cut(requestURI, "?")
	logical := co.resolveLogicalURL(path)
	logical.RawQuery = rawQuery
	class := resource.Classify(co.rules, method, logical, accept)
	profile := resource.ProfileFor(class)

	switch profile.Strategy {
	case resource.StrategyNavigation:
		return co.handleNavigation(ctx, logical, profile)
	case resource.StrategyStaleWhileRevalidate:
		return co.handleStaleWhileRevalidate(ctx, logical, profile)
	case resource.StrategyNetworkFirst:
		return co.handleNetworkFirst(ctx, logical, profile)
	case resource.StrategyCacheFirst:
		return co.handleCacheFirst(ctx, logical, profile)
	default:
		return co.handleUnmatched(class)
	}
}

// handleNavigation 依次尝试：预载响应 → 回源 → 缓存的本页 → 缓存的 app-shell
// → 内联合成的离线页。最后一档不依赖任何缓存资产，保证它自身不可能 miss。
func (co *Coordinator) handleNavigation(ctx context.Context, logical *url.URL, profile resource.Profile) *Outcome {
	key := logical.String()
	bucket := co.bucketFor(profile.Bucket)

	if co.opts.Preload != nil {
		// 预载响应是一次性的，先克隆再消费。
		if preloaded := co.opts.Preload.Take(ctx, key); preloaded != nil {
			stored := preloaded.Clone()
			co.storeAndTrim(ctx, profile, logical, stored)
			return co.outcome(preloaded, profile, false)
		}
	}

	entry, err := co.fetchUpstream(ctx, logical)
	if err == nil {
		if isCacheableStatus(entry.Status) {
			co.storeAndTrim(ctx, profile, logical, entry)
		}
		return co.outcome(entry, profile, false)
	}
	co.logFetchFailure(logical, profile, err)

	if cached, getErr := co.opts.Store.Get(ctx, bucket, key); getErr == nil {
		return co.outcome(cached, profile, true)
	}
	if shell, getErr := co.opts.Store.Get(ctx, bucket, co.shellKey()); getErr == nil {
		out := co.outcome(shell, profile, true)
		out.Fallback = true
		return out
	}
	return co.fallbackOutcome(profile)
}

// handleStaleWhileRevalidate 先把缓存命中立即返回，再视新鲜度决定是否后台刷新。
// 带 TTL 门限的桶（统计 API）在新鲜窗口内不再回源；过期或无时间戳时
// 仍旧先行返回旧值，同时异步刷新。
func (co *Coordinator) handleStaleWhileRevalidate(ctx context.Context, logical *url.URL, profile resource.Profile) *Outcome {
	key := logical.String()
	bucket := co.bucketFor(profile.Bucket)

	if cached, err := co.opts.Store.Get(ctx, bucket, key); err == nil {
		needsRefresh := true
		if profile.TTLGate && cached.Age(time.Now()) < co.opts.StatsTTL {
			needsRefresh = false
		}
		if needsRefresh {
			go co.refreshInBackground(logical, profile)
		}
		return co.outcome(cached, profile, true)
	}

	entry, err := co.fetchUpstream(ctx, logical)
	if err == nil {
		if co.mayStore(entry, logical, profile) {
			co.storeAndTrim(ctx, profile, logical, entry)
		}
		return co.outcome(entry, profile, false)
	}
	co.logFetchFailure(logical, profile, err)
	return co.fallbackOutcome(profile)
}

// handleNetworkFirst 先回源，失败退回缓存，再失败给出结构化离线负载。
func (co *Coordinator) handleNetworkFirst(ctx context.Context, logical *url.URL, profile resource.Profile) *Outcome {
	key := logical.String()
	bucket := co.bucketFor(profile.Bucket)

	entry, err := co.fetchUpstream(ctx, logical)
	if err == nil {
		if co.mayStore(entry, logical, profile) {
			co.storeAndTrim(ctx, profile, logical, entry)
		}
		return co.outcome(entry, profile, false)
	}
	co.logFetchFailure(logical, profile, err)

	if cached, getErr := co.opts.Store.Get(ctx, bucket, key); getErr == nil {
		return co.outcome(cached, profile, true)
	}
	return co.fallbackOutcome(profile)
}

// handleCacheFirst 命中即返回；miss 时回源成功先落盘再返回。
func (co *Coordinator) handleCacheFirst(ctx context.Context, logical *url.URL, profile resource.Profile) *Outcome {
	key := logical.String()
	bucket := co.bucketFor(profile.Bucket)

	if cached, err := co.opts.Store.Get(ctx, bucket, key); err == nil {
		return co.outcome(cached, profile, true)
	}

	entry, err := co.fetchUpstream(ctx, logical)
	if err == nil {
		if co.mayStore(entry, logical, profile) {
			co.storeAndTrim(ctx, profile, logical, entry)
		}
		return co.outcome(entry, profile, false)
	}
	co.logFetchFailure(logical, profile, err)
	return co.fallbackOutcome(profile)
}

// handleUnmatched 对应路由表的兜底分支：不属于任何类别的请求不做缓存处理。
func (co *Coordinator) handleUnmatched(class resource.Class) *Outcome {
	return &Outcome{
		Status:   http.StatusNotFound,
		Header:   http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:     []byte(`{"error":"unhandled_request"}`),
		Class:    class,
		Strategy: resource.StrategyNone,
	}
}

// fetchUpstream 执行一次有超时上界的回源 GET。
func (co *Coordinator) fetchUpstream(ctx context.Context, logical *url.URL) (*cache.Entry, error) {
	target := co.upstreamTarget(logical)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := co.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 多读一个字节探测超限：截断的响应体宁可算失败也不能进缓存。
	limit := co.opts.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes: %s", limit, target)
	}

	return &cache.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		CachedAt: time.Now().UTC(),
	}, nil
}

// mayStore 组合两条存储门槛：状态可缓存，且跨源响应通过不透明守卫
// （主机在允许名单内 + 图片类别 + 安全文件名，三者缺一不可）。
// 同源与统计源是显式配置的上游，响应状态可见，不受不透明守卫约束。
func (co *Coordinator) mayStore(entry *cache.Entry, logical *url.URL, profile resource.Profile) bool {
	if !isCacheableStatus(entry.Status) {
		return false
	}
	host := strings.ToLower(logical.Hostname())
	if host == strings.ToLower(co.opts.OwnHost) {
		return true
	}
	if co.opts.StatsOrigin != nil && host == strings.ToLower(co.opts.StatsOrigin.Hostname()) {
		return true
	}
	return resource.AllowOpaqueStore(co.rules, profile.Class, logical)
}

// storeAndTrim 写入条目并把桶裁剪回容量以内。写入失败只记日志：
// 存储层不可用永远不是调用请求的致命错误。
func (co *Coordinator) storeAndTrim(ctx context.Context, profile resource.Profile, logical *url.URL, entry *cache.Entry) {
	bucket := co.bucketFor(profile.Bucket)
	key := logical.String()

	if profile.TTLGate {
		// TTL 桶注入写入时间头，便于下游观察新鲜度。
		entry.Header.Set("X-Cached-At", entry.CachedAt.Format(time.RFC3339))
	}

	if err := co.opts.Store.Put(ctx, bucket, key, entry); err != nil {
		co.opts.Logger.WithFields(logrus.Fields{
			"action": "cache_put",
			"bucket": bucket,
		}).Warn(err.Error())
		return
	}

	max := co.maxEntriesFor(profile.Bucket)
	if max > 0 {
		if _, err := co.opts.Store.Trim(ctx, bucket, max, co.isProtected); err != nil {
			co.opts.Logger.WithFields(logrus.Fields{
				"action": "cache_trim",
				"bucket": bucket,
			}).Warn(err.Error())
		}
	}
}

// refreshInBackground 是 stale-while-revalidate 的异步刷新分支。
func (co *Coordinator) refreshInBackground(logical *url.URL, profile resource.Profile) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry, err := co.fetchUpstream(ctx, logical)
	if err != nil {
		co.opts.Logger.WithFields(logrus.Fields{
			"action": "swr_refresh",
			"url":    logical.String(),
		}).Debug(err.Error())
		return
	}
	if co.mayStore(entry, logical, profile) {
		co.storeAndTrim(ctx, profile, logical, entry)
	}
}

func (co *Coordinator) outcome(entry *cache.Entry, profile resource.Profile, hit bool) *Outcome {
	return &Outcome{
		Status:   entry.Status,
		Header:   entry.Header.Clone(),
		Body:     append([]byte(nil), entry.Body...),
		Class:    profile.Class,
		Strategy: profile.Strategy,
		Bucket:   co.bucketFor(profile.Bucket),
		CacheHit: hit,
	}
}

func (co *Coordinator) logFetchFailure(logical *url.URL, profile resource.Profile, err error) {
	co.opts.Logger.WithFields(logrus.Fields{
		"action":   "upstream_fetch",
		"class":    string(profile.Class),
		"strategy": string(profile.Strategy),
		"url":      logical.String(),
	}).Warn(err.Error())
}

func isCacheableStatus(status int) bool {
	return status >= 200 && status < 300
}
