package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("ipahub %s (%s)", Version, Commit)
}

// BuildID 返回用于缓存桶版本化的部署标识。配置可覆盖该值，
// 这里仅提供基于版本号 + 提交的默认拼接。
func BuildID() string {
	return fmt.Sprintf("%s-%s", Version, Commit)
}
