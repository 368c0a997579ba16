// Package manifest models the package manifest: the JSON document listing all
// installable app entries and their release versions.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Manifest 是清单文件的顶层结构。
type Manifest struct {
	Apps []App `json:"apps"`
}

// App 描述单个应用条目；Versions 第一个元素约定为最新版本。
type App struct {
	BundleID    string    `json:"bundleIdentifier"`
	Name        string    `json:"name"`
	Developer   string    `json:"developer,omitempty"`
	Subtitle    string    `json:"subtitle,omitempty"`
	IconURL     string    `json:"iconURL,omitempty"`
	Screenshots []string  `json:"screenshots,omitempty"`
	Versions    []Version `json:"versions"`
}

// Version 描述一次发布。
type Version struct {
	Version     string `json:"version"`
	Date        string `json:"date"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadURL"`
	Description string `json:"localizedDescription,omitempty"`
}

// Latest 返回最新版本（数组第一个元素），没有版本时返回 nil。
func (a App) Latest() *Version {
	if len(a.Versions) == 0 {
		return nil
	}
	return &a.Versions[0]
}

// ErrCorrupted 表示清单内容无法解析，与网络失败区分：
// 损坏的数据需要向用户暴露，而不是静默吞掉。
var ErrCorrupted = errors.New("manifest: corrupted payload")

// Parse 解码清单 JSON；空 apps 数组合法，解析失败归为 ErrCorrupted。
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if m.Apps == nil {
		return nil, fmt.Errorf("%w: missing apps array", ErrCorrupted)
	}
	for _, app := range m.Apps {
		if strings.TrimSpace(app.BundleID) == "" {
			return nil, fmt.Errorf("%w: app entry without bundleIdentifier", ErrCorrupted)
		}
	}
	return &m, nil
}

// ValidateDownloadURL 校验用户触发的下载动作：必须是 HTTPS 且主机名非空，
// 否则动作被拒绝。
func ValidateDownloadURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("manifest: invalid download url: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("manifest: download url must use https, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return errors.New("manifest: download url missing hostname")
	}
	return nil
}
