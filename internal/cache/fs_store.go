package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存桶，整站复用一份实例。
// 启动时扫描已有信封文件，按 CachedAt 重建各桶的插入顺序索引。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	s := &fileStore{
		basePath: abs,
		index:    make(map[string][]string),
		locks:    make(map[string]*entryLock),
	}
	if err := s.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("rebuild cache index: %w", err)
	}
	return s, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入；index 按桶维护 FIFO 键序列。
type fileStore struct {
	basePath string

	indexMu sync.RWMutex
	index   map[string][]string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, bucket, key string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(bucket, key)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// 信封损坏按缺失处理，写路径会覆盖它。
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *fileStore) Put(ctx context.Context, bucket, key string, entry *Entry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}

	unlock := s.lockEntry(bucket, key)
	defer unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	filePath, err := s.entryPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	stored := *entry
	stored.Key = key
	if stored.CachedAt.IsZero() {
		stored.CachedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(raw)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}

	s.indexInsert(bucket, key)
	return nil
}

func (s *fileStore) Remove(ctx context.Context, bucket, key string) error {
	unlock := s.lockEntry(bucket, key)
	defer unlock()

	filePath, err := s.entryPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.indexDelete(bucket, key)
	return nil
}

func (s *fileStore) Keys(bucket string) []string {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return append([]string(nil), s.index[bucket]...)
}

func (s *fileStore) Buckets() []string {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (s *fileStore) DeleteBucket(ctx context.Context, bucket string) error {
	if bucket == "" || strings.ContainsAny(bucket, "/\\") {
		return fmt.Errorf("invalid bucket name: %q", bucket)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.RemoveAll(filepath.Join(s.basePath, bucket)); err != nil {
		return err
	}

	s.indexMu.Lock()
	delete(s.index, bucket)
	s.indexMu.Unlock()
	return nil
}

func (s *fileStore) Trim(ctx context.Context, bucket string, max int, protected func(key string) bool) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	keys := s.Keys(bucket)
	excess := len(keys) - max
	if excess <= 0 {
		return 0, nil
	}

	removed := 0
	for _, key := range keys {
		if removed >= excess {
			break
		}
		if protected != nil && protected(key) {
			continue
		}
		if err := s.Remove(ctx, bucket, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// rebuildIndex 扫描磁盘上的信封文件，按 CachedAt 升序恢复 FIFO 键索引。
// 依赖信封内的时间戳而非目录迭代顺序，插入序必须显式可观测。
func (s *fileStore) rebuildIndex() error {
	buckets, err := os.ReadDir(s.basePath)
	if err != nil {
		return err
	}

	type stamped struct {
		key      string
		cachedAt time.Time
	}

	for _, dir := range buckets {
		if !dir.IsDir() {
			continue
		}
		bucket := dir.Name()
		files, err := os.ReadDir(filepath.Join(s.basePath, bucket))
		if err != nil {
			continue
		}

		var entries []stamped
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(s.basePath, bucket, file.Name()))
			if err != nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err != nil || entry.Key == "" {
				continue
			}
			entries = append(entries, stamped{key: entry.Key, cachedAt: entry.CachedAt})
		}

		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].cachedAt.Before(entries[j].cachedAt)
		})
		keys := make([]string, 0, len(entries))
		for _, e := range entries {
			keys = append(keys, e.key)
		}
		s.index[bucket] = keys
	}
	return nil
}

// indexInsert 将 key 追加到桶索引队尾；若已存在则先移除（重新插入语义）。
func (s *fileStore) indexInsert(bucket, key string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	keys := s.index[bucket]
	for i, existing := range keys {
		if existing == key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	s.index[bucket] = append(keys, key)
}

func (s *fileStore) indexDelete(bucket, key string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	keys := s.index[bucket]
	for i, existing := range keys {
		if existing == key {
			s.index[bucket] = append(keys[:i], keys[i+1:]...)
			return
		}
	}
}

func (s *fileStore) entryPath(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, "/\\") {
		return "", fmt.Errorf("invalid bucket name: %q", bucket)
	}
	if key == "" {
		return "", errors.New("cache key required")
	}
	sum := sha1.Sum([]byte(key))
	return filepath.Join(s.basePath, bucket, hex.EncodeToString(sum[:])+".json"), nil
}

func (s *fileStore) lockEntry(bucket, key string) func() {
	id := bucket + "::" + key
	s.mu.Lock()
	lock := s.locks[id]
	if lock == nil {
		lock = &entryLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
