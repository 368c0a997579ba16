package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，网关与下载计数器共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	BuildID         string   `mapstructure:"BuildID"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// GatewayConfig 决定缓存网关如何对接静态站点源站与外部图片主机。
type GatewayConfig struct {
	// SiteOrigin 是静态站点源站地址，导航/静态资源/清单均回源到这里。
	SiteOrigin string `mapstructure:"SiteOrigin"`
	// StatsOrigin 是下载统计 API 的基地址，命中 stale-while-revalidate 策略。
	StatsOrigin string `mapstructure:"StatsOrigin"`
	// ImageHosts 列出允许缓存跨源图片的主机，未列出的跨源响应不落盘。
	ImageHosts []string `mapstructure:"ImageHosts"`
	// CriticalAssets 中的路径永不被容量裁剪淘汰。
	CriticalAssets []string `mapstructure:"CriticalAssets"`

	ManifestPath    string `mapstructure:"ManifestPath"`
	ShellMaxEntries int    `mapstructure:"ShellMaxEntries"`
	DataMaxEntries  int    `mapstructure:"DataMaxEntries"`
	ImageMaxEntries int    `mapstructure:"ImageMaxEntries"`

	StatsTTL            Duration `mapstructure:"StatsTTL"`
	ActivationLockWait  Duration `mapstructure:"ActivationLockWait"`
	UpdateCheckInterval Duration `mapstructure:"UpdateCheckInterval"`
}

// DownloadsConfig 控制下载计数器的取数节奏与缓存层。
type DownloadsConfig struct {
	Enabled          bool     `mapstructure:"Enabled"`
	APIBase          string   `mapstructure:"APIBase"`
	RequestTimeout   Duration `mapstructure:"RequestTimeout"`
	PackageExtension string   `mapstructure:"PackageExtension"`
	FastCacheTTL     Duration `mapstructure:"FastCacheTTL"`
	SnapshotTTL      Duration `mapstructure:"SnapshotTTL"`
	ReconcileDelay   Duration `mapstructure:"ReconcileDelay"`
	RefreshInterval  Duration `mapstructure:"RefreshInterval"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Gateway   GatewayConfig   `mapstructure:"Gateway"`
	Downloads DownloadsConfig `mapstructure:"Downloads"`
}
