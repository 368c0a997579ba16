package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 负责管理磁盘缓存桶的读写。磁盘布局遵循：
//
//	<StoragePath>/<bucket>/<sha1(key)>.json    # 响应信封
//
// 每个桶在首次写入时惰性创建，并在内存中维护一份按插入顺序排列的键索引，
// 供 FIFO 裁剪使用。索引在进程启动时按信封 CachedAt 重建。
type Store interface {
	// Get 返回缓存信封。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, bucket, key string) (*Entry, error)

	// Put 将响应信封写入指定桶。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。重复写入同一 key 视为重新插入（移动到队尾）。
	Put(ctx context.Context, bucket, key string, entry *Entry) error

	// Remove 删除单个条目，条目不存在时不视为错误。
	Remove(ctx context.Context, bucket, key string) error

	// Keys 返回桶内按插入顺序排列的键列表（最老的在前）。
	Keys(bucket string) []string

	// Buckets 返回当前磁盘上存在的所有桶名。
	Buckets() []string

	// DeleteBucket 整桶删除，用于激活阶段清理过期版本。
	DeleteBucket(ctx context.Context, bucket string) error

	// Trim 将桶裁剪到 max 个条目以内：按插入顺序淘汰最老的条目，
	// 跳过 protected 命中的键。返回实际删除数。max <= 0 表示不设上限。
	Trim(ctx context.Context, bucket string, max int, protected func(key string) bool) (int, error)
}

// Entry 表示一条缓存响应及其簿记信息。仅存储 GET 响应，
// 这一不变式由调用方（协调器的路由层）保证。
type Entry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	CachedAt time.Time   `json:"cached_at"`
}

// Clone 返回条目的深拷贝，避免调用方修改缓存内部状态。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Header = e.Header.Clone()
	clone.Body = append([]byte(nil), e.Body...)
	return &clone
}

// Age 返回条目自写入以来经过的时长。
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
