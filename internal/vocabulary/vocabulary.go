// Package vocabulary 维护规范技能词表。词表以不可变快照的形式发布，
// 更新时构建新快照并原子替换，正在进行的读取不受影响。
package vocabulary

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Entry 一个规范技能及其别名
type Entry struct {
	ID      string   `yaml:"id"`
	Aliases []string `yaml:"aliases"`
	// AliasConfidence 可选，别名映射到该技能的可信度，缺省为1.0
	AliasConfidence map[string]float64 `yaml:"alias_confidence,omitempty"`
}

// File 词表文件格式
type File struct {
	Version string  `yaml:"version"`
	Skills  []Entry `yaml:"skills"`
}

// Candidate 别名可能指向的一个规范技能
type Candidate struct {
	ID         string
	Confidence float64
}

// Match 词表匹配结果
type Match struct {
	ID         string
	Term       string // 命中的词条（已折叠）
	Distance   int
	Confidence float64
}

// Snapshot 不可变的词表快照，可被并发读取
type Snapshot struct {
	version  string
	entries  []Entry
	byTerm   map[string][]Candidate
	terms    []string // 所有折叠后的词条，已排序
	maxWords int
}

// NewSnapshot 从词条构建快照
func NewSnapshot(version string, entries []Entry) (*Snapshot, error) {
	s := &Snapshot{
		version: version,
		byTerm:  make(map[string][]Candidate),
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		id := Fold(e.ID)
		if id == "" {
			return nil, fmt.Errorf("词表条目缺少 id")
		}
		if seen[id] {
			return nil, fmt.Errorf("词表条目重复: %s", id)
		}
		seen[id] = true

		copied := Entry{ID: id, Aliases: append([]string(nil), e.Aliases...)}
		if len(e.AliasConfidence) > 0 {
			copied.AliasConfidence = make(map[string]float64, len(e.AliasConfidence))
			for k, v := range e.AliasConfidence {
				copied.AliasConfidence[Fold(k)] = v
			}
		}
		s.entries = append(s.entries, copied)

		s.add(id, id, 1.0)
		for _, alias := range e.Aliases {
			a := Fold(alias)
			if a == "" {
				continue
			}
			conf := 1.0
			if c, ok := copied.AliasConfidence[a]; ok {
				conf = c
			}
			s.add(a, id, conf)
		}
	}

	s.terms = make([]string, 0, len(s.byTerm))
	for term, cands := range s.byTerm {
		s.terms = append(s.terms, term)
		sortCandidates(cands)
		if n := len(strings.Fields(term)); n > s.maxWords {
			s.maxWords = n
		}
	}
	sort.Strings(s.terms)
	return s, nil
}

func (s *Snapshot) add(term, id string, conf float64) {
	for i, c := range s.byTerm[term] {
		if c.ID == id {
			if conf > c.Confidence {
				s.byTerm[term][i].Confidence = conf
			}
			return
		}
	}
	s.byTerm[term] = append(s.byTerm[term], Candidate{ID: id, Confidence: conf})
}

// 可信度降序，相同时按ID升序
func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		return c[i].ID < c[j].ID
	})
}

// Version 快照版本
func (s *Snapshot) Version() string { return s.version }

// Size 规范技能数量
func (s *Snapshot) Size() int { return len(s.entries) }

// MaxTermWords 最长词条的单词数，用于抽取时的 n-gram 窗口
func (s *Snapshot) MaxTermWords() int { return s.maxWords }

// Entries 返回词条副本
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Candidates 返回某个表面字符串可能对应的全部规范技能
func (s *Snapshot) Candidates(surface string) []Candidate {
	c := s.byTerm[Fold(surface)]
	return append([]Candidate(nil), c...)
}

// Resolve 精确解析。一个别名指向多个技能时取可信度最高者，并列时取ID最小者。
func (s *Snapshot) Resolve(surface string) (Match, bool) {
	term := Fold(surface)
	cands := s.byTerm[term]
	if len(cands) == 0 {
		return Match{}, false
	}
	return Match{ID: cands[0].ID, Term: term, Confidence: cands[0].Confidence}, true
}

// FuzzyResolve 先精确匹配，失败后在编辑距离 maxDistance 内寻找最近词条。
// 少于 minFuzzyRunes 个字符的输入只做精确匹配。
func (s *Snapshot) FuzzyResolve(surface string, maxDistance int) (Match, bool) {
	if m, ok := s.Resolve(surface); ok {
		return m, true
	}
	term := Fold(surface)
	if len([]rune(term)) < minFuzzyRunes || maxDistance <= 0 {
		return Match{}, false
	}

	best := Match{Distance: maxDistance + 1}
	for _, candidate := range s.terms {
		if len([]rune(candidate)) < minFuzzyRunes {
			continue
		}
		d := Levenshtein(term, candidate, maxDistance)
		if d > maxDistance {
			continue
		}
		c := s.byTerm[candidate][0]
		if d < best.Distance || (d == best.Distance && c.Confidence > best.Confidence) {
			best = Match{ID: c.ID, Term: candidate, Distance: d, Confidence: c.Confidence}
		}
	}
	if best.ID == "" {
		return Match{}, false
	}
	return best, true
}

// minFuzzyRunes 短词（如 go、c、r）只允许精确匹配
const minFuzzyRunes = 4

// Store 持有当前词表快照，读取无锁
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore 以初始快照创建
func NewStore(initial *Snapshot) *Store {
	st := &Store{}
	st.current.Store(initial)
	return st
}

// Snapshot 返回当前快照
func (st *Store) Snapshot() *Snapshot {
	return st.current.Load()
}

// Replace 原子替换快照
func (st *Store) Replace(s *Snapshot) {
	st.current.Store(s)
}

// Add 基于当前快照追加/覆盖条目并发布新快照
func (st *Store) Add(version string, entries ...Entry) error {
	for {
		old := st.current.Load()
		merged := make(map[string]Entry)
		var order []string
		if old != nil {
			for _, e := range old.entries {
				merged[e.ID] = e
				order = append(order, e.ID)
			}
		}
		for _, e := range entries {
			id := Fold(e.ID)
			if _, ok := merged[id]; !ok {
				order = append(order, id)
			}
			e.ID = id
			merged[id] = e
		}
		list := make([]Entry, 0, len(order))
		for _, id := range order {
			list = append(list, merged[id])
		}
		next, err := NewSnapshot(version, list)
		if err != nil {
			return err
		}
		if st.current.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// LoadFile 从YAML文件加载词表
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取词表文件失败 %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析YAML格式的词表
func Parse(data []byte) (*Snapshot, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析词表失败: %w", err)
	}
	return NewSnapshot(f.Version, f.Skills)
}
