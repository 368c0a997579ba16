package downloads

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/broadcast"
	"github.com/ipahub/ipahub/internal/github"
	"github.com/ipahub/ipahub/internal/manifest"
)

// Options 描述 Counter 的全部协作者与节奏参数。
type Options struct {
	Logger    *logrus.Logger
	Client    *github.Client
	Bus       broadcast.Bus
	Snapshots SnapshotStore

	// LoadApps 可选：应用集为空时在取数周期里重新拉取清单。
	// 启动时清单不可用的实例靠它在之后的刷新中恢复。
	LoadApps func(ctx context.Context) ([]manifest.App, error)

	Extension       string
	FastTTL         time.Duration
	SnapshotTTL     time.Duration
	ReconcileDelay  time.Duration
	RefreshInterval time.Duration
}

// Counter 维护应用标识到历史总下载量的映射：启动时从快照或在线抓取填充，
// 用户下载动作触发乐观自增，延迟对账与周期刷新负责向权威数据收敛。
// 所有合并都走 MergeMax，较高的计数永不回退。
type Counter struct {
	opts   Options
	origin string

	mu           sync.Mutex
	apps         []manifest.App
	counts       Counts
	optimistic   map[string]struct{}
	fastAt       time.Time
	rateLimited  time.Time
	reconcile    *time.Timer
	reconcileGen uint64
	listeners    []func(Counts)
	unsubscribe  func()
	stopRefresh  chan struct{}
	initialized  bool
	closed       bool
}

// NewCounter 构造计数器；Bus 为空时降级为 NopBus（无广播环境不报错不阻塞）。
func NewCounter(opts Options) *Counter {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Bus == nil {
		opts.Bus = broadcast.NewNopBus()
	}
	if opts.Extension == "" {
		opts.Extension = ".ipa"
	}
	if opts.FastTTL <= 0 {
		opts.FastTTL = 5 * time.Minute
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 30 * time.Minute
	}
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = 45 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 10 * time.Minute
	}
	return &Counter{
		opts:       opts,
		origin:     uuid.NewString(),
		optimistic: make(map[string]struct{}),
	}
}

// Init 完成首次填充并启动订阅与周期刷新。重复调用是受保护的空操作。
func (c *Counter) Init(ctx context.Context, apps []manifest.App) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("downloads: counter closed")
	}
	if c.initialized {
		c.mu.Unlock()
		c.opts.Logger.WithField("action", "counter_init").Warn("重复初始化被忽略")
		return nil
	}
	c.initialized = true
	c.apps = apps
	stop := make(chan struct{})
	c.stopRefresh = stop
	c.mu.Unlock()

	c.unsubscribeSet(c.opts.Bus.Subscribe(c.handleMessage))

	// 首次填充失败只降级不报错：计数是装饰性功能。
	if err := c.Refresh(ctx, false); err != nil {
		c.opts.Logger.WithField("action", "counter_init").Warn(err.Error())
	}

	go c.refreshLoop(stop)
	return nil
}

func (c *Counter) unsubscribeSet(cancel func()) {
	c.mu.Lock()
	c.unsubscribe = cancel
	c.mu.Unlock()
}

// Close 取消所有未决定时器并退订广播，重复调用安全。
func (c *Counter) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconcile != nil {
		c.reconcile.Stop()
		c.reconcile = nil
	}
	stop := c.stopRefresh
	c.stopRefresh = nil
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	// 总线可能被多个实例共享，生命周期归创建方管，这里只退订。
}

// Counts 返回当前快照的深拷贝。
func (c *Counter) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts.Clone()
}

// Count 返回单个应用的计数；nil 表示未知。
func (c *Counter) Count(bundleID string) *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	value := c.counts[bundleID]
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

// IsOptimistic 报告某个计数当前是否由本地乐观自增产生、尚未被权威数据确认。
func (c *Counter) IsOptimistic(bundleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.optimistic[bundleID]
	return ok
}

// RateLimitedUntil 返回最近一次限流给出的恢复时间，零值表示未被限流。
func (c *Counter) RateLimitedUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimited
}

// PendingReconcile 报告是否存在尚未触发的对账定时器。
func (c *Counter) PendingReconcile() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcile != nil
}

// OnUpdate 注册计数更新回调（徽标渲染等展示层挂在这里）。
// 回调收到的是快照拷贝，可安全持有。
func (c *Counter) OnUpdate(fn func(Counts)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// TrackDownload 执行乐观更新协议：本地立即 +1 并同步通知展示层，
// 广播给其他实例，然后以“取消并替换”的方式安排唯一一次延迟对账。
func (c *Counter) TrackDownload(bundleID string) {
	c.mu.Lock()
	if c.closed || bundleID == "" {
		c.mu.Unlock()
		return
	}
	if c.counts == nil {
		c.counts = make(Counts)
	}
	var next int64 = 1
	if current := c.counts[bundleID]; current != nil {
		next = *current + 1
	}
	c.counts[bundleID] = &next
	c.optimistic[bundleID] = struct{}{}

	if c.reconcile != nil {
		c.reconcile.Stop()
	}
	// 世代号标记最新一次安排；迟到触发的旧定时器据此识别自己已被替换。
	c.reconcileGen++
	gen := c.reconcileGen
	c.reconcile = time.AfterFunc(c.opts.ReconcileDelay, func() { c.runReconcile(gen) })

	snapshot := c.counts.Clone()
	listeners := append([]func(Counts){}, c.listeners...)
	published := next
	c.mu.Unlock()

	// 消息携带发起方自增后的值，接收方按 max 合并即可收敛。
	c.opts.Bus.Publish(broadcast.Message{
		Type:     broadcast.TypeOptimisticIncrement,
		Origin:   c.origin,
		BundleID: bundleID,
		Counts:   map[string]*int64{bundleID: &published},
	})
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Refresh 执行一轮取数：快速缓存 → 持久快照 → 在线抓取，force 跳过前两层。
func (c *Counter) Refresh(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("downloads: counter closed")
	}
	if !force && c.counts != nil && time.Since(c.fastAt) < c.opts.FastTTL {
		c.mu.Unlock()
		return nil
	}
	apps := c.apps
	c.mu.Unlock()

	// 启动时没拿到清单的实例在这里补全应用集，之后的周期照常取数。
	if len(apps) == 0 && c.opts.LoadApps != nil {
		loaded, err := c.opts.LoadApps(ctx)
		if err != nil {
			c.opts.Logger.WithField("action", "apps_reload").Warn(err.Error())
		} else if len(loaded) > 0 {
			c.mu.Lock()
			c.apps = loaded
			c.mu.Unlock()
			apps = loaded
		}
	}

	if !force && c.opts.Snapshots != nil {
		snapshot, at, err := c.opts.Snapshots.Load()
		if err == nil && time.Since(at) < c.opts.SnapshotTTL {
			c.apply(snapshot, applyModeSnapshot)
			return nil
		}
		if err != nil && !errors.Is(err, ErrNoSnapshot) {
			c.opts.Logger.WithField("action", "snapshot_load").Warn(err.Error())
		}
	}

	fetched := c.fetchAuthoritative(ctx, apps)
	c.apply(fetched, applyModeAuthoritative)
	return nil
}

type applyMode int

const (
	// applyModeSnapshot 只合并并通知展示层。
	applyModeSnapshot applyMode = iota
	// applyModeAuthoritative 额外持久化快照并重新广播合并结果。
	applyModeAuthoritative
)

// apply 以 MergeMax 合并一份快照，并按模式决定持久化/广播。
// 权威值追上本地乐观值后清除乐观标记。
func (c *Counter) apply(incoming Counts, mode applyMode) {
	c.mu.Lock()
	c.counts = MergeMax(c.counts, incoming)
	for key := range c.optimistic {
		value, ok := incoming[key]
		if ok && value != nil && c.counts[key] != nil && *value >= *c.counts[key] {
			delete(c.optimistic, key)
		}
	}
	c.fastAt = time.Now()
	merged := c.counts.Clone()
	listeners := append([]func(Counts){}, c.listeners...)
	c.mu.Unlock()

	if mode == applyModeAuthoritative {
		if c.opts.Snapshots != nil {
			if err := c.opts.Snapshots.Save(merged); err != nil {
				// 持久层不可用是软失败，下个周期重新抓取即可。
				c.opts.Logger.WithField("action", "snapshot_save").Warn(err.Error())
			}
		}
		c.opts.Bus.Publish(broadcast.Message{
			Type:   broadcast.TypeCountsUpdate,
			Origin: c.origin,
			Counts: merged,
		})
	}
	for _, fn := range listeners {
		fn(merged)
	}
}

// fetchAuthoritative 并发抓取所有仓库并按 settle-all 聚合：
// 单个仓库失败（含限流）只让它名下的应用计为未知，不阻塞其余仓库。
func (c *Counter) fetchAuthoritative(ctx context.Context, apps []manifest.App) Counts {
	counts := make(Counts)
	if c.opts.Client == nil {
		return counts
	}

	mapping := BuildRepoMapping(apps, c.opts.Extension, c.opts.Logger)
	if len(mapping) == 0 {
		return counts
	}

	type repoResult struct {
		repo     string
		assets   []RepoAssets
		releases []github.Release
		err      error
	}
	results := make(chan repoResult, len(mapping))
	for repo, assets := range mapping {
		go func(repo string, assets []RepoAssets) {
			releases, err := c.opts.Client.ListAllReleases(ctx, repo)
			results <- repoResult{repo: repo, assets: assets, releases: releases, err: err}
		}(repo, assets)
	}

	for range mapping {
		result := <-results
		if result.err != nil {
			var rateErr *github.RateLimitError
			if errors.As(result.err, &rateErr) {
				c.mu.Lock()
				c.rateLimited = rateErr.ResetAt
				c.mu.Unlock()
			}
			c.opts.Logger.WithFields(logrus.Fields{
				"action": "repo_fetch",
				"repo":   result.repo,
			}).Warn(result.err.Error())
			for _, asset := range result.assets {
				counts[asset.BundleID] = nil
			}
			continue
		}
		for _, asset := range result.assets {
			key := AssetKey{Repo: result.repo, Base: asset.Base}
			var total int64
			for _, release := range result.releases {
				for _, releaseAsset := range release.Assets {
					if key.MatchesAsset(releaseAsset.Name, c.opts.Extension) {
						total += releaseAsset.DownloadCount
					}
				}
			}
			value := total
			counts[asset.BundleID] = &value
		}
	}
	return counts
}

// runReconcile 是延迟对账定时器的回调：作废快速缓存并强制重新取数。
// 世代号不匹配说明本定时器已被新的下载动作替换，直接退出，
// 不清理也不抢跑当前待决的那一次。
func (c *Counter) runReconcile(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.reconcileGen {
		c.mu.Unlock()
		return
	}
	c.reconcile = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Refresh(ctx, true); err != nil {
		c.opts.Logger.WithField("action", "reconcile").Warn(err.Error())
	}
}

// refreshLoop 周期性强制刷新，与下载动作无关。
func (c *Counter) refreshLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.Refresh(ctx, true); err != nil {
				c.opts.Logger.WithField("action", "periodic_refresh").Warn(err.Error())
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// handleMessage 处理来自其他实例的广播；自身发出的消息被忽略。
func (c *Counter) handleMessage(msg broadcast.Message) {
	if msg.Origin == c.origin {
		return
	}
	switch msg.Type {
	case broadcast.TypeCountsUpdate:
		c.apply(Counts(msg.Counts), applyModeSnapshot)
	case broadcast.TypeOptimisticIncrement:
		c.applyRemoteIncrement(msg.BundleID, msg.Counts[msg.BundleID])
	}
}

// applyRemoteIncrement 吸收其他实例的乐观 +1：取“本地 +1”与发起方自增后值
// 的较大者，双方各自持有的信息都不丢。不额外安排对账（发起方已经排了）。
func (c *Counter) applyRemoteIncrement(bundleID string, remote *int64) {
	if bundleID == "" {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.counts == nil {
		c.counts = make(Counts)
	}
	var next int64 = 1
	if current := c.counts[bundleID]; current != nil {
		next = *current + 1
	}
	if remote != nil && *remote > next {
		next = *remote
	}
	c.counts[bundleID] = &next
	snapshot := c.counts.Clone()
	listeners := append([]func(Counts){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
