package vocabulary

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "resume", Fold("Résumé"))
	assert.Equal(t, "kubernetes", Fold("  KUBERNETES "))
	assert.Equal(t, "sao paulo", Fold("São Paulo"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("python", "python", -1))
	assert.Equal(t, 2, Levenshtein("pyhton", "python", -1))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting", -1))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting", 2), "超过上限时返回 limit+1")
	assert.Equal(t, 1, Levenshtein("naïve", "naive", -1))
}

func TestSnapshot_Resolve(t *testing.T) {
	s := Default()
	m, ok := s.Resolve("Golang")
	require.True(t, ok)
	assert.Equal(t, "go", m.ID)

	m, ok = s.Resolve("K8S")
	require.True(t, ok)
	assert.Equal(t, "kubernetes", m.ID)

	_, ok = s.Resolve("cobol")
	assert.False(t, ok)
}

func TestSnapshot_ConflictingAliasPicksHighestConfidence(t *testing.T) {
	s, err := NewSnapshot("t", []Entry{
		{ID: "javascript", Aliases: []string{"js"}, AliasConfidence: map[string]float64{"js": 0.9}},
		{ID: "jsonschema", Aliases: []string{"JS"}, AliasConfidence: map[string]float64{"js": 0.4}},
		{ID: "ada", Aliases: []string{"x"}},
		{ID: "abc", Aliases: []string{"x"}},
	})
	require.NoError(t, err)

	m, ok := s.Resolve("js")
	require.True(t, ok)
	assert.Equal(t, "javascript", m.ID)
	assert.InDelta(t, 0.9, m.Confidence, 1e-9)
	assert.Len(t, s.Candidates("js"), 2)

	// 可信度相同时取ID最小者
	m, ok = s.Resolve("x")
	require.True(t, ok)
	assert.Equal(t, "abc", m.ID)
}

func TestSnapshot_FuzzyResolve(t *testing.T) {
	s := Default()

	m, ok := s.FuzzyResolve("pyhton", 2)
	require.True(t, ok)
	assert.Equal(t, "python", m.ID)
	assert.Equal(t, 2, m.Distance)

	m, ok = s.FuzzyResolve("Kubernetis", 2)
	require.True(t, ok)
	assert.Equal(t, "kubernetes", m.ID)

	_, ok = s.FuzzyResolve("pxtxxn", 2)
	assert.False(t, ok, "距离为3时不应匹配")

	_, ok = s.FuzzyResolve("gp", 2)
	assert.False(t, ok, "短词只允许精确匹配")
}

func TestNewSnapshot_Invalid(t *testing.T) {
	_, err := NewSnapshot("t", []Entry{{ID: ""}})
	assert.Error(t, err)
	_, err = NewSnapshot("t", []Entry{{ID: "go"}, {ID: "GO"}})
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	data := []byte(`
version: "2024-06"
skills:
  - id: go
    aliases: [golang]
  - id: scala
    aliases: [scala3]
    alias_confidence:
      scala3: 0.8
`)
	s, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "2024-06", s.Version())
	assert.Equal(t, 2, s.Size())
	m, ok := s.Resolve("Scala3")
	require.True(t, ok)
	assert.InDelta(t, 0.8, m.Confidence, 1e-9)
}

func TestStore_CopyOnUpdate(t *testing.T) {
	st := NewStore(Default())
	before := st.Snapshot()

	require.NoError(t, st.Add("v2", Entry{ID: "zig", Aliases: []string{"ziglang"}}))
	after := st.Snapshot()

	_, ok := before.Resolve("ziglang")
	assert.False(t, ok, "旧快照不受更新影响")
	m, ok := after.Resolve("ziglang")
	require.True(t, ok)
	assert.Equal(t, "zig", m.ID)
	assert.Equal(t, before.Size()+1, after.Size())
	assert.Equal(t, "v2", after.Version())
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	st := NewStore(Default())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, ok := st.Snapshot().Resolve("golang")
				assert.True(t, ok)
			}
		}()
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, st.Add("v", Entry{ID: string(rune('a'+i)) + "lang"}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, len(DefaultEntries())+8, st.Snapshot().Size())
}
