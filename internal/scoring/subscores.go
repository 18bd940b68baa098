package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

const (
	requiredSkillWeight  = 2
	preferredSkillWeight = 1
)

// SkillOverlap (2·|C∩R| + |C∩P|) / (2|R| + |P|)，截断到 [0,1]；R、P 均为空时为1
func SkillOverlap(candidate, required, preferred []string) float64 {
	c := toSet(candidate)
	r := toSet(required)
	p := toSet(preferred)
	denom := requiredSkillWeight*len(r) + preferredSkillWeight*len(p)
	if denom == 0 {
		return 1.0
	}
	num := requiredSkillWeight*intersect(c, r) + preferredSkillWeight*intersect(c, p)
	return clamp01(float64(num) / float64(denom))
}

// Cosine 余弦相似度，任一向量为零向量或维度不一致时返回0
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
}

// RescaleCosine 将 [-1,1] 线性映射到 [0,1]
func RescaleCosine(c float64) float64 {
	return clamp01((c + 1) / 2)
}

// ExperienceYears 合并重叠区间后的总年数（按月计算），End 为 nil 时以 now 为结束
func ExperienceYears(entries []types.ExperienceEntry, now time.Time) float64 {
	type interval struct{ start, end int }
	nowMonth := monthIndex(now)

	spans := make([]interval, 0, len(entries))
	for _, e := range entries {
		start := monthIndex(e.Start)
		end := nowMonth
		if e.End != nil {
			end = monthIndex(*e.End)
		}
		if end > start {
			spans = append(spans, interval{start, end})
		}
	}
	if len(spans) == 0 {
		return 0
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	total := 0
	cur := spans[0]
	for _, s := range spans[1:] {
		if s.start <= cur.end {
			cur.end = max(cur.end, s.end)
			continue
		}
		total += cur.end - cur.start
		cur = s
	}
	total += cur.end - cur.start
	return float64(total) / 12
}

func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// ExperienceFit min(years/minYears, 1)；minYears<=0 时为1
func ExperienceFit(years, minYears float64) float64 {
	if minYears <= 0 {
		return 1.0
	}
	return clamp01(years / minYears)
}

// LocationMatch 按逗号拆分地点，查询的每一部分取与候选人各部分的最高相似度后求平均。
// 完全相同为1，互相包含为0.9，否则为同位置相同字符数 / 较长部分的长度。
func LocationMatch(query, candidate string) float64 {
	qParts := locationParts(query)
	cParts := locationParts(candidate)
	if len(qParts) == 0 || len(cParts) == 0 {
		return 0
	}
	total := 0.0
	for _, q := range qParts {
		best := 0.0
		for _, c := range cParts {
			best = math.Max(best, partSimilarity(q, c))
		}
		total += best
	}
	return clamp01(total / float64(len(qParts)))
}

func locationParts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = vocabulary.Fold(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func partSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	same := 0
	for i := range ra {
		if ra[i] == rb[i] {
			same++
		}
	}
	return float64(same) / float64(len(rb))
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		if id := vocabulary.Fold(it); id != "" {
			set[id] = true
		}
	}
	return set
}

func intersect(a, b map[string]bool) int {
	n := 0
	for k := range b {
		if a[k] {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
