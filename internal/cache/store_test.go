package cache

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	key := "https://ipahub.local/apps.json"

	cachedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	entry := &Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"application/json"}},
		Body:     []byte(`{"apps":[]}`),
		CachedAt: cachedAt,
	}
	if err := store.Put(context.Background(), "data-v1", key, entry); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := store.Get(context.Background(), "data-v1", key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != `{"apps":[]}` {
		t.Fatalf("cached payload mismatch: %s", string(got.Body))
	}
	if got.Status != http.StatusOK {
		t.Fatalf("status mismatch: %d", got.Status)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("header mismatch: %v", got.Header)
	}
	if !got.CachedAt.Equal(cachedAt) {
		t.Fatalf("cachedAt mismatch: expected %v got %v", cachedAt, got.CachedAt)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "data-v1", "https://ipahub.local/missing")
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	key := "https://ipahub.local/style.css"
	if err := store.Put(context.Background(), "shell-v1", key, textEntry("body")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), "shell-v1", key); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), "shell-v1", key); err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if keys := store.Keys("shell-v1"); len(keys) != 0 {
		t.Fatalf("expected empty index after remove, got %v", keys)
	}
}

func TestStoreKeysPreserveInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	urls := []string{
		"https://ipahub.local/a.png",
		"https://ipahub.local/b.png",
		"https://ipahub.local/c.png",
	}
	for _, u := range urls {
		if err := store.Put(context.Background(), "images", u, textEntry("img")); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	keys := store.Keys("images")
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	for i, u := range urls {
		if keys[i] != u {
			t.Fatalf("order mismatch at %d: %s", i, keys[i])
		}
	}

	// 重写已有 key 应移动到队尾。
	if err := store.Put(context.Background(), "images", urls[0], textEntry("img2")); err != nil {
		t.Fatalf("re-put error: %v", err)
	}
	keys = store.Keys("images")
	if keys[len(keys)-1] != urls[0] {
		t.Fatalf("re-put should move key to tail, got %v", keys)
	}
}

func TestStoreTrimEvictsOldestAndKeepsProtected(t *testing.T) {
	store := newTestStore(t)
	protected := "https://ipahub.local/index.html"
	urls := []string{
		protected,
		"https://ipahub.local/1.png",
		"https://ipahub.local/2.png",
		"https://ipahub.local/3.png",
		"https://ipahub.local/4.png",
	}
	for _, u := range urls {
		if err := store.Put(context.Background(), "images", u, textEntry("x")); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	removed, err := store.Trim(context.Background(), "images", 3, func(key string) bool {
		return key == protected
	})
	if err != nil {
		t.Fatalf("trim error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}

	// 受保护条目仍在，尽管它是最老的。
	if _, err := store.Get(context.Background(), "images", protected); err != nil {
		t.Fatalf("protected entry evicted: %v", err)
	}
	// 被裁剪的应当是最老的两个未保护条目。
	for _, gone := range []string{urls[1], urls[2]} {
		if _, err := store.Get(context.Background(), "images", gone); err != ErrNotFound {
			t.Fatalf("expected %s evicted, got %v", gone, err)
		}
	}
	for _, kept := range []string{urls[3], urls[4]} {
		if _, err := store.Get(context.Background(), "images", kept); err != nil {
			t.Fatalf("expected %s kept: %v", kept, err)
		}
	}
}

func TestStoreTrimExactExcess(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 7; i++ {
		u := "https://ipahub.local/icon-" + string(rune('a'+i)) + ".png"
		if err := store.Put(context.Background(), "images", u, textEntry("x")); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	removed, err := store.Trim(context.Background(), "images", 5, nil)
	if err != nil {
		t.Fatalf("trim error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("capacity 5 holding 7 should evict exactly 2, got %d", removed)
	}
	if keys := store.Keys("images"); len(keys) != 5 {
		t.Fatalf("expected 5 keys after trim, got %d", len(keys))
	}
}

func TestStoreDeleteBucket(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(context.Background(), "shell-v1", "https://ipahub.local/", textEntry("html")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.DeleteBucket(context.Background(), "shell-v1"); err != nil {
		t.Fatalf("delete bucket error: %v", err)
	}
	if buckets := store.Buckets(); len(buckets) != 0 {
		t.Fatalf("expected no buckets, got %v", buckets)
	}
	if _, err := store.Get(context.Background(), "shell-v1", "https://ipahub.local/"); err != ErrNotFound {
		t.Fatalf("expected not found after bucket delete, got %v", err)
	}
}

func TestStoreRebuildIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	base := time.Now().Add(-time.Hour).UTC()
	urls := []string{
		"https://ipahub.local/old.png",
		"https://ipahub.local/mid.png",
		"https://ipahub.local/new.png",
	}
	for i, u := range urls {
		entry := textEntry("x")
		entry.CachedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Put(context.Background(), "images", u, entry); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	keys := reopened.Keys("images")
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys after reopen, got %d", len(keys))
	}
	for i, u := range urls {
		if keys[i] != u {
			t.Fatalf("rebuilt order mismatch at %d: %s", i, keys[i])
		}
	}
}

func textEntry(body string) *Entry {
	return &Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
