package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyGatewayDefaults(&cfg.Gateway)
	applyDownloadsDefaults(&cfg.Downloads)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Gateway.ManifestPath", "/apps.json")
	v.SetDefault("Gateway.ShellMaxEntries", 0)
	v.SetDefault("Gateway.DataMaxEntries", 50)
	v.SetDefault("Gateway.ImageMaxEntries", 200)
	v.SetDefault("Gateway.StatsTTL", "5m")
	v.SetDefault("Gateway.ActivationLockWait", "3s")
	v.SetDefault("Gateway.UpdateCheckInterval", "30m")
	v.SetDefault("Downloads.Enabled", true)
	v.SetDefault("Downloads.APIBase", "https://api.github.com")
	v.SetDefault("Downloads.RequestTimeout", "4s")
	v.SetDefault("Downloads.PackageExtension", ".ipa")
	v.SetDefault("Downloads.FastCacheTTL", "5m")
	v.SetDefault("Downloads.SnapshotTTL", "30m")
	v.SetDefault("Downloads.ReconcileDelay", "45s")
	v.SetDefault("Downloads.RefreshInterval", "10m")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.BuildID) == "" {
		g.BuildID = "dev"
	}
}

func applyGatewayDefaults(g *GatewayConfig) {
	if g.ManifestPath == "" {
		g.ManifestPath = "/apps.json"
	}
	if !strings.HasPrefix(g.ManifestPath, "/") {
		g.ManifestPath = "/" + g.ManifestPath
	}
	if g.DataMaxEntries == 0 {
		g.DataMaxEntries = 50
	}
	if g.ImageMaxEntries == 0 {
		g.ImageMaxEntries = 200
	}
	if g.StatsTTL.DurationValue() == 0 {
		g.StatsTTL = Duration(5 * time.Minute)
	}
	if g.ActivationLockWait.DurationValue() == 0 {
		g.ActivationLockWait = Duration(3 * time.Second)
	}
	if g.UpdateCheckInterval.DurationValue() == 0 {
		g.UpdateCheckInterval = Duration(30 * time.Minute)
	}
	for i, host := range g.ImageHosts {
		g.ImageHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
}

func applyDownloadsDefaults(d *DownloadsConfig) {
	if d.APIBase == "" {
		d.APIBase = "https://api.github.com"
	}
	d.APIBase = strings.TrimRight(d.APIBase, "/")
	if d.RequestTimeout.DurationValue() == 0 {
		d.RequestTimeout = Duration(4 * time.Second)
	}
	if d.PackageExtension == "" {
		d.PackageExtension = ".ipa"
	}
	if !strings.HasPrefix(d.PackageExtension, ".") {
		d.PackageExtension = "." + d.PackageExtension
	}
	if d.FastCacheTTL.DurationValue() == 0 {
		d.FastCacheTTL = Duration(5 * time.Minute)
	}
	if d.SnapshotTTL.DurationValue() == 0 {
		d.SnapshotTTL = Duration(30 * time.Minute)
	}
	if d.ReconcileDelay.DurationValue() == 0 {
		d.ReconcileDelay = Duration(45 * time.Second)
	}
	if d.RefreshInterval.DurationValue() == 0 {
		d.RefreshInterval = Duration(10 * time.Minute)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, err
			}
			return d, nil
		case int, int32, int64, float32, float64:
			seconds := reflect.ValueOf(v).Convert(reflect.TypeOf(int64(0))).Int()
			return Duration(time.Duration(seconds) * time.Second), nil
		default:
			return data, nil
		}
	}
}
