package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回通过校验的最小配置，用例在其上做局部破坏。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./storage",
			BuildID:         "dev",
			UpstreamTimeout: Duration(30 * time.Second),
		},
		Gateway: GatewayConfig{
			SiteOrigin:         "https://site.ipahub.app",
			StatsTTL:           Duration(5 * time.Minute),
			ActivationLockWait: Duration(3 * time.Second),
		},
	}
}
