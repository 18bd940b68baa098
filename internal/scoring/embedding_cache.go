package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
)

// DefaultEmbeddingCacheSize 内存中最多缓存的向量数
const DefaultEmbeddingCacheSize = 4096

// EmbeddingCache 文本向量缓存。读取无锁，写入复制出新快照后原子替换，
// 因此写入不会阻塞正在进行的读取。
type EmbeddingCache struct {
	snapshot atomic.Pointer[map[string][]float64]
	maxSize  int
}

// NewEmbeddingCache 创建缓存，maxSize<=0 时使用默认值
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = DefaultEmbeddingCacheSize
	}
	c := &EmbeddingCache{maxSize: maxSize}
	empty := make(map[string][]float64)
	c.snapshot.Store(&empty)
	return c
}

// TextKey 文本的缓存键
func TextKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get 读取缓存，返回的切片不可修改
func (c *EmbeddingCache) Get(text string) ([]float64, bool) {
	v, ok := (*c.snapshot.Load())[TextKey(text)]
	return v, ok
}

// Put 写入缓存。超过容量时丢弃旧快照，从新条目重新开始。
func (c *EmbeddingCache) Put(text string, vector []float64) {
	key := TextKey(text)
	stored := append([]float64(nil), vector...)
	for {
		old := c.snapshot.Load()
		var next map[string][]float64
		if len(*old) >= c.maxSize {
			next = make(map[string][]float64, 1)
		} else {
			next = make(map[string][]float64, len(*old)+1)
			for k, v := range *old {
				next[k] = v
			}
		}
		next[key] = stored
		if c.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Len 当前缓存条目数
func (c *EmbeddingCache) Len() int {
	return len(*c.snapshot.Load())
}
