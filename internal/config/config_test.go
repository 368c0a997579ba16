package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}

	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.BuildID != "2026-08-30" {
		t.Fatalf("BuildID 解析错误: %s", cfg.Global.BuildID)
	}
	if cfg.Gateway.StatsTTL.DurationValue() != 5*time.Minute {
		t.Fatalf("StatsTTL 应填充默认 5m，得到 %s", cfg.Gateway.StatsTTL.DurationValue())
	}
	if cfg.Gateway.DataMaxEntries != 50 || cfg.Gateway.ImageMaxEntries != 200 {
		t.Fatalf("桶容量默认值错误: data=%d images=%d", cfg.Gateway.DataMaxEntries, cfg.Gateway.ImageMaxEntries)
	}
	if cfg.Gateway.UpdateCheckInterval.DurationValue() != 30*time.Minute {
		t.Fatalf("更新检查周期默认 30m，得到 %s", cfg.Gateway.UpdateCheckInterval.DurationValue())
	}
	if cfg.Downloads.APIBase != "https://api.github.com" {
		t.Fatalf("APIBase 默认值错误: %s", cfg.Downloads.APIBase)
	}
	if cfg.Downloads.PackageExtension != ".ipa" {
		t.Fatalf("包扩展名默认 .ipa，得到 %s", cfg.Downloads.PackageExtension)
	}
	if cfg.Downloads.ReconcileDelay.DurationValue() != 45*time.Second {
		t.Fatalf("对账延迟默认 45s，得到 %s", cfg.Downloads.ReconcileDelay.DurationValue())
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRequiresSiteOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.SiteOrigin = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("缺少 SiteOrigin 应当报错")
	}

	cfg = validConfig()
	cfg.Gateway.SiteOrigin = "ftp://site.ipahub.app"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http/https 的 SiteOrigin 应当报错")
	}
}

func TestValidateAllowsEmptyStatsOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.StatsOrigin = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("StatsOrigin 允许留空: %v", err)
	}
}

func TestValidateRejectsImageHostWithPath(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.ImageHosts = []string{"raw.githubusercontent.com/owner"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("带路径的图片主机应当报错")
	}
}

func TestDownloadsValidationSkippedWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Downloads.Enabled = false
	cfg.Downloads.APIBase = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("关闭下载计数后不应校验其字段: %v", err)
	}

	cfg.Downloads.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("开启下载计数后缺少 APIBase 应当报错")
	}
}

func TestPackageExtensionNormalized(t *testing.T) {
	d := DownloadsConfig{PackageExtension: "ipa"}
	applyDownloadsDefaults(&d)
	if d.PackageExtension != ".ipa" {
		t.Fatalf("扩展名应补全前导点，得到 %s", d.PackageExtension)
	}
}
