package resource

// Strategy 描述一类资源的缓存读写方式。
type Strategy string

const (
	StrategyNavigation           Strategy = "navigation"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	StrategyNone                 Strategy = "none"
)

// Fallback 描述回源彻底失败时的兜底响应类型。
type Fallback string

const (
	FallbackOfflinePage Fallback = "offline-page"
	FallbackJSONError   Fallback = "json-error"
	FallbackImagePixel  Fallback = "image-pixel"
	FallbackOfflineText Fallback = "offline-text"
	FallbackNone        Fallback = "none"
)

// Profile 汇总一个资源类别的策略、目标桶与兜底行为。
type Profile struct {
	Class    Class
	Strategy Strategy
	// Bucket 是目标缓存桶类别（见 buckets.go），unhandled 类别为空。
	Bucket BucketKind
	// TTLGate 为 true 时 stale-while-revalidate 额外比较条目年龄：
	// 过期条目仍然先行返回，但总会触发后台刷新。
	TTLGate  bool
	Fallback Fallback
}

// profiles 是类别到策略的静态路由表。
var profiles = map[Class]Profile{
	ClassNavigation: {
		Class:    ClassNavigation,
		Strategy: StrategyNavigation,
		Bucket:   BucketShell,
		Fallback: FallbackOfflinePage,
	},
	ClassStats: {
		Class:    ClassStats,
		Strategy: StrategyStaleWhileRevalidate,
		Bucket:   BucketData,
		TTLGate:  true,
		Fallback: FallbackJSONError,
	},
	ClassManifest: {
		Class:    ClassManifest,
		Strategy: StrategyStaleWhileRevalidate,
		Bucket:   BucketData,
		Fallback: FallbackJSONError,
	},
	ClassJSON: {
		Class:    ClassJSON,
		Strategy: StrategyNetworkFirst,
		Bucket:   BucketData,
		Fallback: FallbackJSONError,
	},
	ClassImage: {
		Class:    ClassImage,
		Strategy: StrategyStaleWhileRevalidate,
		Bucket:   BucketImages,
		Fallback: FallbackImagePixel,
	},
	ClassStatic: {
		Class:    ClassStatic,
		Strategy: StrategyCacheFirst,
		Bucket:   BucketShell,
		Fallback: FallbackOfflineText,
	},
	ClassUnhandled: {
		Class:    ClassUnhandled,
		Strategy: StrategyNone,
		Fallback: FallbackNone,
	},
}

// ProfileFor 返回类别对应的策略档案，未知类别按 unhandled 处理。
func ProfileFor(class Class) Profile {
	if profile, ok := profiles[class]; ok {
		return profile
	}
	return profiles[ClassUnhandled]
}
