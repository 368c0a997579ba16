package resource

// BucketKind 标识逻辑桶类别；shell/data 名称内嵌部署 BuildID，images 跨部署稳定。
type BucketKind string

const (
	BucketShell  BucketKind = "shell"
	BucketData   BucketKind = "data"
	BucketImages BucketKind = "images"
)

// BucketName 把桶类别解析为具体桶名。images 桶刻意不带版本号，
// 避免每次发布后重新下载体积较大的二进制资源。
func BucketName(kind BucketKind, buildID string) string {
	switch kind {
	case BucketShell:
		return "shell-" + buildID
	case BucketData:
		return "data-" + buildID
	case BucketImages:
		return "images"
	default:
		return ""
	}
}

// KnownGoodBuckets 返回当前部署应当存在的桶名全集，激活清扫据此做差集删除。
func KnownGoodBuckets(buildID string) map[string]struct{} {
	return map[string]struct{}{
		BucketName(BucketShell, buildID):  {},
		BucketName(BucketData, buildID):   {},
		BucketName(BucketImages, buildID): {},
	}
}
