package downloads

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/manifest"
)

// AssetKey 是从应用下载地址推导出来的查询键：托管仓库 + 规范化资产基名。
type AssetKey struct {
	// Repo 形如 owner/name。
	Repo string
	// Base 是去掉扩展名和一段尾部版本后缀后的资产名，匹配时不区分大小写。
	Base string
}

// versionSuffix 匹配“分隔符 + 数字开头的剩余部分”，即一段尾部版本后缀。
// 例如 YouTubePlus_5.2b4 → YouTubePlus；EeveeSpotify 没有可剥离的后缀。
var versionSuffix = regexp.MustCompile(`[_-]\d.*$`)

// releasePath 匹配 GitHub Release 资产下载路径：
// /{owner}/{repo}/releases/download/{tag}/{filename}
var releasePath = regexp.MustCompile(`^/([^/]+)/([^/]+)/releases/download/[^/]+/([^/]+)$`)

// ParseAssetKey 从包下载 URL 推导 AssetKey。规范化基名让同一应用在未来任意
// 版本串下都能匹配到正确的资产，而无需硬编码文件名。
func ParseAssetKey(downloadURL, ext string) (AssetKey, error) {
	parsed, err := url.Parse(downloadURL)
	if err != nil {
		return AssetKey{}, fmt.Errorf("downloads: invalid url: %w", err)
	}
	match := releasePath.FindStringSubmatch(parsed.Path)
	if match == nil {
		return AssetKey{}, fmt.Errorf("downloads: url is not a release asset path: %s", parsed.Path)
	}

	filename, err := url.PathUnescape(match[3])
	if err != nil {
		filename = match[3]
	}
	base := CanonicalBaseName(filename, ext)
	if base == "" {
		return AssetKey{}, fmt.Errorf("downloads: cannot derive base name from %q", filename)
	}

	return AssetKey{
		Repo: match[1] + "/" + match[2],
		Base: base,
	}, nil
}

// CanonicalBaseName 去掉扩展名，再剥离至多一段尾部版本后缀。
func CanonicalBaseName(filename, ext string) string {
	name := filename
	if ext != "" && strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name = name[:len(name)-len(ext)]
	}
	return versionSuffix.ReplaceAllString(name, "")
}

// MatchesAsset 判断一个 Release 资产是否归属于该键：
// 扩展名一致且资产名（不区分大小写）以规范基名开头。
//
// 前缀语义是沿用下来的既定行为：若同一仓库同时托管 Foo.ipa 与 FooPro.ipa，
// Foo 会把 FooPro 的计数也算进来。这是已知的锋利边缘，不在此处悄悄收紧。
func (k AssetKey) MatchesAsset(assetName, ext string) bool {
	lower := strings.ToLower(assetName)
	if !strings.HasSuffix(lower, strings.ToLower(ext)) {
		return false
	}
	return strings.HasPrefix(lower, strings.ToLower(k.Base))
}

// RepoAssets 把 bundleID 关联到其资产基名，供单仓库的归属计算使用。
type RepoAssets struct {
	BundleID string
	Base     string
}

// BuildRepoMapping 按仓库分组全部应用，让同一仓库只触发一次 API 调用。
// 无法解析下载地址的应用记一条 Warn 后跳过：它的计数是“未知”，而不是零。
func BuildRepoMapping(apps []manifest.App, ext string, logger *logrus.Logger) map[string][]RepoAssets {
	mapping := make(map[string][]RepoAssets)
	for _, app := range apps {
		latest := app.Latest()
		if latest == nil || latest.DownloadURL == "" {
			continue
		}
		key, err := ParseAssetKey(latest.DownloadURL, ext)
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action":    "derive_asset_key",
					"bundle_id": app.BundleID,
					"url":       latest.DownloadURL,
				}).Warn(err.Error())
			}
			continue
		}
		mapping[key.Repo] = append(mapping[key.Repo], RepoAssets{
			BundleID: app.BundleID,
			Base:     key.Base,
		})
	}
	return mapping
}
