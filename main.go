package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/broadcast"
	"github.com/ipahub/ipahub/internal/cache"
	"github.com/ipahub/ipahub/internal/config"
	"github.com/ipahub/ipahub/internal/coordinator"
	"github.com/ipahub/ipahub/internal/downloads"
	"github.com/ipahub/ipahub/internal/github"
	"github.com/ipahub/ipahub/internal/logging"
	"github.com/ipahub/ipahub/internal/manifest"
	"github.com/ipahub/ipahub/internal/server"
	"github.com/ipahub/ipahub/internal/server/routes"
	"github.com/ipahub/ipahub/internal/updater"
	"github.com/ipahub/ipahub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["site_origin"] = cfg.Gateway.SiteOrigin
		fields["downloads_enabled"] = cfg.Downloads.Enabled
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	siteOrigin, err := url.Parse(cfg.Gateway.SiteOrigin)
	if err != nil {
		fmt.Fprintf(stdErr, "解析站点源站失败: %v\n", err)
		return 1
	}
	var statsOrigin *url.URL
	if cfg.Gateway.StatsOrigin != "" {
		if statsOrigin, err = url.Parse(cfg.Gateway.StatsOrigin); err != nil {
			fmt.Fprintf(stdErr, "解析统计源站失败: %v\n", err)
			return 1
		}
	}

	// 启动遵循“配置 → 缓存 → 协调器 → 计数器 → Fiber server”顺序，
	// 保证所有请求共享同一套缓存桶与策略实例。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	buildID := cfg.Global.BuildID
	if buildID == "" || buildID == "dev" {
		buildID = version.BuildID()
	}

	httpClient := server.NewUpstreamClient(cfg)
	co, err := coordinator.New(coordinator.Options{
		Logger:          logger,
		Store:           store,
		Client:          httpClient,
		BuildID:         buildID,
		SiteOrigin:      siteOrigin,
		StatsOrigin:     statsOrigin,
		OwnHost:         siteOrigin.Hostname(),
		ImageHosts:      cfg.Gateway.ImageHosts,
		CriticalAssets:  cfg.Gateway.CriticalAssets,
		ManifestPath:    cfg.Gateway.ManifestPath,
		ShellMaxEntries: cfg.Gateway.ShellMaxEntries,
		DataMaxEntries:  cfg.Gateway.DataMaxEntries,
		ImageMaxEntries: cfg.Gateway.ImageMaxEntries,
		StatsTTL:        cfg.Gateway.StatsTTL.DurationValue(),
		LockWait:        cfg.Gateway.ActivationLockWait.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存协调器失败: %v\n", err)
		return 1
	}

	// 启动即执行一次激活清扫，回收上一个部署留下的过期桶。
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := co.Activate(startupCtx); err != nil {
		logger.WithField("action", "startup_sweep").Warn(err.Error())
	}
	cancel()

	var counter *downloads.Counter
	if cfg.Downloads.Enabled {
		// 总线由这里创建并负责关闭；计数器关闭时只退订。
		bus := broadcast.NewMemoryBus()
		defer bus.Close()
		counter = buildCounter(cfg, logger, httpClient, bus, co)
		defer counter.Close()
		initCounter(counter, co, cfg, logger)
	}

	poller, err := updater.New(logger, httpClient, co,
		cfg.Gateway.SiteOrigin+"/version.json",
		cfg.Gateway.UpdateCheckInterval.DurationValue())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化更新轮询失败: %v\n", err)
		return 1
	}
	poller.Start()
	defer poller.Stop()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["build"] = co.ActiveBuild()
	fields["site_origin"] = cfg.Gateway.SiteOrigin
	fields["downloads_enabled"] = cfg.Downloads.Enabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, co, counter, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildCounter 组装下载计数器：GitHub 客户端 + 持久快照 + 共享广播总线。
// 快照层打不开只降级，不阻塞启动。
func buildCounter(cfg *config.Config, logger *logrus.Logger, httpClient *http.Client, bus broadcast.Bus, co *coordinator.Coordinator) *downloads.Counter {
	ghClient := github.NewClient(cfg.Downloads.APIBase, httpClient, cfg.Downloads.RequestTimeout.DurationValue())

	var snapshots downloads.SnapshotStore
	snapshotPath := filepath.Join(cfg.Global.StoragePath, "downloads.db")
	if store, err := downloads.NewLevelSnapshotStore(snapshotPath); err != nil {
		logger.WithField("action", "snapshot_open").Warn(err.Error())
	} else {
		snapshots = store
	}

	return downloads.NewCounter(downloads.Options{
		Logger:    logger,
		Client:    ghClient,
		Bus:       bus,
		Snapshots: snapshots,
		LoadApps: func(ctx context.Context) ([]manifest.App, error) {
			return fetchApps(ctx, co, cfg)
		},
		Extension:       cfg.Downloads.PackageExtension,
		FastTTL:         cfg.Downloads.FastCacheTTL.DurationValue(),
		SnapshotTTL:     cfg.Downloads.SnapshotTTL.DurationValue(),
		ReconcileDelay:  cfg.Downloads.ReconcileDelay.DurationValue(),
		RefreshInterval: cfg.Downloads.RefreshInterval.DurationValue(),
	})
}

// fetchApps 经由网关抓取并解析应用清单。
func fetchApps(ctx context.Context, co *coordinator.Coordinator, cfg *config.Config) ([]manifest.App, error) {
	out := co.Handle(ctx, "GET", cfg.Gateway.ManifestPath, "")
	if out.Status != 200 || out.Fallback {
		return nil, fmt.Errorf("应用清单暂不可用: status=%d", out.Status)
	}
	parsed, err := manifest.Parse(out.Body)
	if err != nil {
		return nil, err
	}
	return parsed.Apps, nil
}

// initCounter 抓取应用清单并初始化计数器。清单暂时拿不到时以空应用集
// 初始化，之后的取数周期经 LoadApps 补全。
func initCounter(counter *downloads.Counter, co *coordinator.Coordinator, cfg *config.Config, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apps, err := fetchApps(ctx, co, cfg)
	if err != nil {
		logger.WithField("action", "manifest_fetch").Warn(err.Error())
	}

	if err := counter.Init(ctx, apps); err != nil {
		logger.WithField("action", "counter_init").Warn(err.Error())
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("ipahub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IPAHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IPAHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, co *coordinator.Coordinator, counter *downloads.Counter, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Gateway: co,
	})
	if err != nil {
		return err
	}
	if counter != nil {
		routes.RegisterDownloadRoutes(app, logger, counter)
	}
	routes.RegisterUpdateRoutes(app, logger, co)
	routes.RegisterHealthRoute(app)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
