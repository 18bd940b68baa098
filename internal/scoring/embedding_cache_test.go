package scoring

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache(t *testing.T) {
	c := NewEmbeddingCache(2)
	v := []float64{1, 2}
	c.Put("a", v)
	v[0] = 99 // 调用方修改不影响缓存

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, got)

	c.Put("b", []float64{3})
	assert.Equal(t, 2, c.Len())
	c.Put("c", []float64{4})
	assert.Equal(t, 1, c.Len(), "超过容量后重新开始")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestEmbeddingCache_Concurrent(t *testing.T) {
	c := NewEmbeddingCache(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("text-%d", i)
			c.Put(key, []float64{float64(i)})
			got, ok := c.Get(key)
			assert.True(t, ok)
			assert.Equal(t, []float64{float64(i)}, got)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
