package resource

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Class 标识一次请求所属的资源类别，分类结果决定缓存策略。
type Class string

const (
	ClassNavigation Class = "navigation"
	ClassStats      Class = "stats"
	ClassManifest   Class = "manifest"
	ClassJSON       Class = "json"
	ClassImage      Class = "image"
	ClassStatic     Class = "static"
	ClassUnhandled  Class = "unhandled"
)

// Rules 描述分类所需的环境信息，由配置推导，分类函数本身保持纯函数。
type Rules struct {
	// OwnHost 是网关对外服务的主机名（小写，不含端口归一化后）。
	OwnHost string
	// StatsHost 是下载统计 API 的主机名，为空表示未配置。
	StatsHost string
	// ManifestPath 是应用清单的路径，例如 /apps.json。
	ManifestPath string
	// ImageHosts 是允许缓存跨源图片的主机集合。
	ImageHosts map[string]struct{}
}

// NewRules 由配置值构建 Rules，主机名统一转小写。
func NewRules(ownHost, statsHost, manifestPath string, imageHosts []string) Rules {
	hosts := make(map[string]struct{}, len(imageHosts))
	for _, h := range imageHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = struct{}{}
		}
	}
	return Rules{
		OwnHost:      strings.ToLower(ownHost),
		StatsHost:    strings.ToLower(statsHost),
		ManifestPath: manifestPath,
		ImageHosts:   hosts,
	}
}

var (
	imageExtPattern = regexp.MustCompile(`(?i)\.(png|jpe?g|webp|gif|svg|ico)$`)
	// safeImageName 限定跨源图片的文件名形态，防止重定向/错误页伪装成
	// 不透明成功响应污染缓存。
	safeImageName = regexp.MustCompile(`(?i)^[\w~@-]+([.-][\w~@-]+)*\.(png|jpe?g|webp|gif)$`)
)

// Classify 按先匹配者优先的路由表给请求分类。
// accept 是请求的 Accept 头，仅导航判定需要。
func Classify(rules Rules, method string, u *url.URL, accept string) Class {
	if u == nil || !strings.EqualFold(method, "GET") {
		return ClassUnhandled
	}

	host := strings.ToLower(u.Hostname())
	sameOrigin := host == "" || host == rules.OwnHost

	if sameOrigin && isNavigation(u.Path, accept) {
		return ClassNavigation
	}
	if rules.StatsHost != "" && host == rules.StatsHost {
		return ClassStats
	}
	if sameOrigin && u.Path == rules.ManifestPath {
		return ClassManifest
	}
	if sameOrigin && isJSONLike(u.Path) {
		return ClassJSON
	}
	if isImage(rules, host, sameOrigin, u.Path) {
		return ClassImage
	}
	if sameOrigin {
		return ClassStatic
	}
	return ClassUnhandled
}

// isNavigation 判定整页加载：目录路径、.html，或 Accept 显式要 HTML 的无后缀路径。
func isNavigation(p, accept string) bool {
	if p == "" || strings.HasSuffix(p, "/") {
		return true
	}
	base := path.Base(p)
	if strings.HasSuffix(base, ".html") || strings.HasSuffix(base, ".htm") {
		return true
	}
	return !strings.Contains(base, ".") && strings.Contains(accept, "text/html")
}

func isJSONLike(p string) bool {
	return strings.HasSuffix(p, ".json") || strings.HasSuffix(p, ".webmanifest")
}

// isImage 同源时要求 /apps/ 目录下的图片扩展名；跨源时要求主机在允许名单内
// 且文件名通过 safeImageName 白名单。
func isImage(rules Rules, host string, sameOrigin bool, p string) bool {
	if sameOrigin {
		return strings.HasPrefix(p, "/apps/") && imageExtPattern.MatchString(p)
	}
	if _, ok := rules.ImageHosts[host]; !ok {
		return false
	}
	return safeImageName.MatchString(path.Base(p))
}

// AllowOpaqueStore 判断跨源响应是否允许落盘：主机必须在允许名单内、
// 类别必须是图片、且文件名满足安全模式。三个条件缺一不可。
func AllowOpaqueStore(rules Rules, class Class, u *url.URL) bool {
	if class != ClassImage || u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == rules.OwnHost {
		// 同源响应状态可见，不属于不透明响应。
		return true
	}
	if _, ok := rules.ImageHosts[host]; !ok {
		return false
	}
	return safeImageName.MatchString(path.Base(u.Path))
}
