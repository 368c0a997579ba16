package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/cache"
	"github.com/ipahub/ipahub/internal/resource"
)

// Options 汇总协调器的协作者与策略参数。
type Options struct {
	Logger *logrus.Logger
	Store  cache.Store
	Client *http.Client

	// BuildID 是当前部署标识，决定 shell/data 桶名。
	BuildID string
	// SiteOrigin 是静态站点源站；StatsOrigin 可为空（未配置统计 API）。
	SiteOrigin  *url.URL
	StatsOrigin *url.URL
	// OwnHost 是网关对外的主机名，用于构造同源逻辑 URL。
	OwnHost string

	ImageHosts     []string
	CriticalAssets []string
	ManifestPath   string

	ShellMaxEntries int
	DataMaxEntries  int
	ImageMaxEntries int

	// StatsTTL 是统计响应的新鲜度窗口：窗口内的条目直接复用，不触发后台刷新。
	StatsTTL time.Duration
	// MaxBodyBytes 是单个缓存条目的体积上限，超限的回源响应按失败处理，
	// 绝不落盘截断的内容。0 使用默认值 20MiB。
	MaxBodyBytes int64
	// LockWait 是激活清扫抢锁的最长等待；超时后降级为无锁执行（清扫幂等）。
	LockWait time.Duration

	// Preload 可选：激活时启用的导航预载能力，失败不致命。
	Preload PreloadSource
}

// PreloadSource 抽象导航预载：Enable 在激活阶段被调用一次，
// Take 在导航请求时返回可用的预载响应（可能为 nil）。
type PreloadSource interface {
	Enable(ctx context.Context) error
	Take(ctx context.Context, logicalURL string) *cache.Entry
}

// Coordinator 按资源类别为每个 GET 请求选择缓存策略，维护版本化缓存桶，
// 并通过激活清扫回收过期版本的桶。新版本安装后不会自动激活，
// 必须等待显式信号（见 StageUpdate/ActivatePending）。
type Coordinator struct {
	opts     Options
	rules    resource.Rules
	critical map[string]struct{}
	lock     timedLock

	mu           sync.Mutex
	activeBuild  string
	pendingBuild string
}

// New 构造协调器。SiteOrigin 与 Store 必填。
func New(opts Options) (*Coordinator, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.SiteOrigin == nil {
		return nil, errors.New("site origin is required")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.BuildID == "" {
		opts.BuildID = "dev"
	}
	if opts.OwnHost == "" {
		opts.OwnHost = opts.SiteOrigin.Hostname()
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = "/apps.json"
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 5 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 3 * time.Second
	}

	statsHost := ""
	if opts.StatsOrigin != nil {
		statsHost = opts.StatsOrigin.Hostname()
	}

	critical := make(map[string]struct{}, len(opts.CriticalAssets))
	for _, path := range opts.CriticalAssets {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		critical[path] = struct{}{}
	}

	return &Coordinator{
		opts:        opts,
		rules:       resource.NewRules(opts.OwnHost, statsHost, opts.ManifestPath, opts.ImageHosts),
		critical:    critical,
		lock:        newTimedLock(),
		activeBuild: opts.BuildID,
	}, nil
}

// ActiveBuild 返回当前生效的部署标识。
func (co *Coordinator) ActiveBuild() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.activeBuild
}

// PendingBuild 返回已安装但尚未激活的部署标识，空串表示没有待激活版本。
func (co *Coordinator) PendingBuild() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.pendingBuild
}

// StageUpdate 记录新发现的部署版本。协调器不会自行切换，
// 展示层据此提示用户“有更新可用”。
func (co *Coordinator) StageUpdate(buildID string) {
	buildID = strings.TrimSpace(buildID)
	co.mu.Lock()
	defer co.mu.Unlock()
	if buildID == "" || buildID == co.activeBuild {
		return
	}
	co.pendingBuild = buildID
}

// ActivatePending 在收到显式信号后切换到待激活版本并执行清扫。
// 没有待激活版本时只重新执行清扫（幂等）。
func (co *Coordinator) ActivatePending(ctx context.Context) error {
	co.mu.Lock()
	if co.pendingBuild != "" {
		co.activeBuild = co.pendingBuild
		co.pendingBuild = ""
	}
	co.mu.Unlock()
	return co.Activate(ctx)
}

// Activate 执行激活清扫：对比现存桶与当前版本的已知良好集合，删除差集。
// 清扫由带上限等待的互斥锁保护；抢锁超时则降级为无锁执行，
// 删除桶是幂等操作，并发执行安全，启动不应被锁无限期阻塞。
func (co *Coordinator) Activate(ctx context.Context) error {
	locked := co.lock.acquire(co.opts.LockWait)
	if locked {
		defer co.lock.release()
	} else {
		co.opts.Logger.WithField("action", "activation_lock").
			Warn("抢锁超时，降级为无锁清扫")
	}

	known := resource.KnownGoodBuckets(co.ActiveBuild())
	for _, bucket := range co.opts.Store.Buckets() {
		if _, ok := known[bucket]; ok {
			continue
		}
		if err := co.opts.Store.DeleteBucket(ctx, bucket); err != nil {
			co.opts.Logger.WithFields(logrus.Fields{
				"action": "bucket_sweep",
				"bucket": bucket,
			}).Warn(err.Error())
			continue
		}
		co.opts.Logger.WithFields(logrus.Fields{
			"action": "bucket_sweep",
			"bucket": bucket,
		}).Info("过期缓存桶已删除")
	}

	if co.opts.Preload != nil {
		if err := co.opts.Preload.Enable(ctx); err != nil {
			// 预载能力是锦上添花，启用失败不影响激活。
			co.opts.Logger.WithField("action", "preload_enable").Warn(err.Error())
		}
	}
	return nil
}

// resolveLogicalURL 把网关收到的路径还原成逻辑请求 URL：
//
//	/stats/<rest>       → StatsOrigin/<rest>
//	/ext/<host>/<rest>  → https://<host>/<rest>（跨源图片代理形态）
//	其余                → https://<OwnHost><path>（同源）
func (co *Coordinator) resolveLogicalURL(path string) *url.URL {
	if co.opts.StatsOrigin != nil && strings.HasPrefix(path, "/stats/") {
		resolved := *co.opts.StatsOrigin
		resolved.Path = strings.TrimRight(resolved.Path, "/") + "/" + strings.TrimPrefix(path, "/stats/")
		return &resolved
	}
	if rest, ok := strings.CutPrefix(path, "/ext/"); ok {
		host, tail, found := strings.Cut(rest, "/")
		if found && host != "" {
			return &url.URL{Scheme: "https", Host: host, Path: "/" + tail}
		}
	}
	return &url.URL{Scheme: "https", Host: co.opts.OwnHost, Path: path}
}

// upstreamTarget 计算实际回源地址：同源请求打到站点源站，其余按逻辑 URL 直连。
func (co *Coordinator) upstreamTarget(logical *url.URL) string {
	if strings.EqualFold(logical.Hostname(), co.opts.OwnHost) {
		target := *co.opts.SiteOrigin
		target.Path = strings.TrimRight(target.Path, "/") + logical.Path
		target.RawQuery = logical.RawQuery
		return target.String()
	}
	return logical.String()
}

// bucketFor 把逻辑桶类别解析为当前版本的具体桶名。
func (co *Coordinator) bucketFor(kind resource.BucketKind) string {
	return resource.BucketName(kind, co.ActiveBuild())
}

// maxEntriesFor 返回桶的容量上限，0 表示不设限。
func (co *Coordinator) maxEntriesFor(kind resource.BucketKind) int {
	switch kind {
	case resource.BucketShell:
		return co.opts.ShellMaxEntries
	case resource.BucketData:
		return co.opts.DataMaxEntries
	case resource.BucketImages:
		return co.opts.ImageMaxEntries
	default:
		return 0
	}
}

// isProtected 判断条目是否在关键资产名单内（这些条目永不被裁剪淘汰）。
func (co *Coordinator) isProtected(key string) bool {
	parsed, err := url.Parse(key)
	if err != nil {
		return false
	}
	_, ok := co.critical[parsed.Path]
	return ok
}

// timedLock 是容量为 1 的信号量，提供带上限等待的抢锁。
type timedLock chan struct{}

func newTimedLock() timedLock {
	return make(timedLock, 1)
}

func (l timedLock) acquire(wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (l timedLock) release() {
	<-l
}

// shellKey 返回 app-shell 页面的缓存键（站点根路径）。
func (co *Coordinator) shellKey() string {
	return (&url.URL{Scheme: "https", Host: co.opts.OwnHost, Path: "/"}).String()
}
