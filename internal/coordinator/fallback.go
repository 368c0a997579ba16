package coordinator

import (
	"net/http"

	"github.com/ipahub/ipahub/internal/resource"
)

// offlinePageHTML 是导航请求的终极兜底页面：完全内联，不依赖任何缓存资产。
const offlinePageHTML = `<!doctype html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>离线 - ipahub</title>
<style>
body{font-family:-apple-system,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f5f5f7;color:#1d1d1f}
main{text-align:center;padding:2rem}
h1{font-size:1.5rem}
p{color:#6e6e73}
</style>
</head>
<body>
<main>
<h1>当前处于离线状态</h1>
<p>网络恢复后刷新页面即可继续浏览。</p>
</main>
</body>
</html>`

// offlineJSONBody 是数据类请求的结构化离线负载，前端据此渲染降级提示。
const offlineJSONBody = `{"error":"offline","message":"网络不可用，且没有可用的缓存数据"}`

// transparentPixelPNG 是 1x1 透明 PNG，图片彻底取不到时用作占位，
// 避免页面出现破图图标。
var transparentPixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// fallbackOutcome 按策略档案合成兜底响应。兜底本身不可能失败。
func (co *Coordinator) fallbackOutcome(profile resource.Profile) *Outcome {
	out := &Outcome{
		Class:    profile.Class,
		Strategy: profile.Strategy,
		Bucket:   co.bucketFor(profile.Bucket),
		Fallback: true,
		Header:   http.Header{},
	}

	switch profile.Fallback {
	case resource.FallbackOfflinePage:
		out.Status = http.StatusServiceUnavailable
		out.Header.Set("Content-Type", "text/html; charset=utf-8")
		out.Body = []byte(offlinePageHTML)
	case resource.FallbackJSONError:
		out.Status = http.StatusServiceUnavailable
		out.Header.Set("Content-Type", "application/json; charset=utf-8")
		out.Body = []byte(offlineJSONBody)
	case resource.FallbackImagePixel:
		// 占位图返回 200：对 <img> 标签而言这是一张合法图片。
		out.Status = http.StatusOK
		out.Header.Set("Content-Type", "image/png")
		out.Body = append([]byte(nil), transparentPixelPNG...)
	default:
		out.Status = http.StatusServiceUnavailable
		out.Header.Set("Content-Type", "text/plain; charset=utf-8")
		out.Body = []byte("offline")
	}

	out.Header.Set("Cache-Control", "no-store")
	return out
}
