// Package normalizer 将一份文档的全部实体归一化为候选人档案。
package normalizer

import (
	"sort"
	"strings"

	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// DefaultMinSkillConfidence 无法解析的技能低于该可信度时丢弃
const DefaultMinSkillConfidence = 0.5

// Stats 归一化过程中的统计，用于日志
type Stats struct {
	Input          int
	Contributing   int
	DroppedSkills  int
	RejectedSpans  int
	DuplicateItems int
}

// Normalizer 档案归一化器，无内部状态，可并发使用
type Normalizer struct {
	minSkillConfidence float64
}

// Option 归一化器配置
type Option func(*Normalizer)

// WithMinSkillConfidence 设置未解析技能的最低可信度
func WithMinSkillConfidence(v float64) Option {
	return func(n *Normalizer) {
		if v >= 0 && v <= 1 {
			n.minSkillConfidence = v
		}
	}
}

// New 创建归一化器
func New(options ...Option) *Normalizer {
	n := &Normalizer{minSkillConfidence: DefaultMinSkillConfidence}
	for _, option := range options {
		option(n)
	}
	return n
}

// contributions 记录最终进入档案的实体可信度
type contributions struct {
	sum   float64
	count int
}

func (c *contributions) add(conf float64) {
	c.sum += conf
	c.count++
}

// Normalize 生成档案。没有任何实体留存时返回可信度为0、NeedsReview 为 true 的档案。
func (n *Normalizer) Normalize(entities []types.ExtractedEntity, vocab *vocabulary.Snapshot) (types.CandidateProfile, Stats) {
	stats := Stats{Input: len(entities)}
	ordered := make([]types.ExtractedEntity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SectionIndex != ordered[j].SectionIndex {
			return ordered[i].SectionIndex < ordered[j].SectionIndex
		}
		return ordered[i].Offset < ordered[j].Offset
	})

	var contrib contributions
	profile := types.CandidateProfile{
		Contacts:   []string{},
		Skills:     []string{},
		Experience: []types.ExperienceEntry{},
		Education:  []types.EducationEntry{},
	}

	profile.Name = n.pickBest(ordered, types.EntityName, &contrib)
	profile.Location = n.pickBest(ordered, types.EntityLocation, &contrib)
	profile.Contacts = n.dedupeContacts(ordered, &contrib, &stats)
	profile.Skills = n.resolveSkills(ordered, vocab, &contrib, &stats)
	profile.Experience = n.buildExperience(ordered, &contrib, &stats)
	profile.Education = n.buildEducation(ordered, &contrib, &stats)

	stats.Contributing = contrib.count
	if contrib.count > 0 {
		profile.ExtractionConfidence = contrib.sum / float64(contrib.count)
	} else {
		profile.NeedsReview = true
	}
	return profile, stats
}

// pickBest 取某类单值实体（姓名、所在地）中可信度最高的一个，相同时取最先出现的
func (n *Normalizer) pickBest(entities []types.ExtractedEntity, kind types.EntityKind, c *contributions) string {
	var best *types.ExtractedEntity
	for i := range entities {
		e := &entities[i]
		if e.Kind != kind || strings.TrimSpace(e.Value) == "" {
			continue
		}
		if best == nil || e.Confidence > best.Confidence {
			best = e
		}
	}
	if best == nil {
		return ""
	}
	c.add(best.Confidence)
	return strings.TrimSpace(best.Value)
}

// dedupeContacts 按值精确去重，重复项取最高可信度计入
func (n *Normalizer) dedupeContacts(entities []types.ExtractedEntity, c *contributions, stats *Stats) []string {
	best := make(map[string]float64)
	for _, e := range entities {
		if e.Kind != types.EntityEmail && e.Kind != types.EntityPhone {
			continue
		}
		if prev, ok := best[e.Value]; ok {
			stats.DuplicateItems++
			if e.Confidence <= prev {
				continue
			}
		}
		best[e.Value] = e.Confidence
	}
	return sortedKeys(best, c)
}

// resolveSkills 通过词表把表面字符串映射到规范ID
func (n *Normalizer) resolveSkills(entities []types.ExtractedEntity, vocab *vocabulary.Snapshot, c *contributions, stats *Stats) []string {
	best := make(map[string]float64)
	for _, e := range entities {
		if e.Kind != types.EntitySkill {
			continue
		}
		var id string
		if vocab != nil {
			if m, ok := vocab.Resolve(e.Value); ok {
				id = m.ID
			}
		}
		if id == "" {
			if e.Confidence < n.minSkillConfidence {
				stats.DroppedSkills++
				continue
			}
			id = vocabulary.Fold(e.Value)
			if id == "" {
				continue
			}
		}
		if prev, ok := best[id]; ok {
			stats.DuplicateItems++
			if e.Confidence <= prev {
				continue
			}
		}
		best[id] = e.Confidence
	}
	return sortedKeys(best, c)
}

func sortedKeys(m map[string]float64, c *contributions) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	for _, k := range out {
		c.add(m[k])
	}
	return out
}

func isExperienceSection(label types.SectionLabel) bool {
	return label == types.SectionExperience || label == types.SectionOther || label == types.SectionSummary
}

// buildExperience 每个日期区间挂到同一章节内最近的前置机构上，职位只使用一次
func (n *Normalizer) buildExperience(entities []types.ExtractedEntity, c *contributions, stats *Stats) []types.ExperienceEntry {
	out := []types.ExperienceEntry{}
	seen := make(map[string]bool)
	counted := make(map[*types.ExtractedEntity]bool)

	var org, title *types.ExtractedEntity
	section := -1
	for i := range entities {
		e := &entities[i]
		if !isExperienceSection(e.SourceSection) {
			continue
		}
		if e.SectionIndex != section {
			section = e.SectionIndex
			org, title = nil, nil
		}
		switch e.Kind {
		case types.EntityOrganization:
			org = e
		case types.EntityTitle:
			title = e
		case types.EntityDateRange:
			start, end, ok := ParseDateRange(e.Value)
			if !ok {
				stats.RejectedSpans++
				continue
			}
			entry := types.ExperienceEntry{Start: start, End: end}
			if org != nil {
				entry.Organization = strings.TrimSpace(org.Value)
			}
			if title != nil {
				entry.Title = strings.TrimSpace(title.Value)
			}
			key := experienceKey(entry)
			if seen[key] {
				stats.DuplicateItems++
				continue
			}
			seen[key] = true
			out = append(out, entry)

			c.add(e.Confidence)
			if org != nil && !counted[org] {
				counted[org] = true
				c.add(org.Confidence)
			}
			if title != nil {
				c.add(title.Confidence)
				title = nil
			}
		}
	}
	return out
}

func experienceKey(e types.ExperienceEntry) string {
	end := "present"
	if e.End != nil {
		end = e.End.Format("2006-01")
	}
	return vocabulary.Fold(e.Organization) + "|" + vocabulary.Fold(e.Title) + "|" + e.Start.Format("2006-01") + "|" + end
}

// buildEducation 机构开启一条教育经历，学位和年份补充到当前条目
func (n *Normalizer) buildEducation(entities []types.ExtractedEntity, c *contributions, stats *Stats) []types.EducationEntry {
	out := []types.EducationEntry{}
	var (
		current *types.EducationEntry
		pending []float64
		section = -1
	)

	flush := func() {
		if current == nil {
			return
		}
		out = append(out, *current)
		for _, p := range pending {
			c.add(p)
		}
		current, pending = nil, nil
	}

	for _, e := range entities {
		if e.SourceSection != types.SectionEducation {
			continue
		}
		if e.SectionIndex != section {
			flush()
			section = e.SectionIndex
		}
		value := strings.TrimSpace(e.Value)
		switch e.Kind {
		case types.EntityOrganization:
			if current != nil && vocabulary.Fold(current.Institution) == vocabulary.Fold(value) {
				stats.DuplicateItems++
				continue
			}
			flush()
			current = &types.EducationEntry{Institution: value}
			pending = append(pending, e.Confidence)
		case types.EntityDegree:
			if current == nil {
				current = &types.EducationEntry{}
			}
			if current.Degree != "" {
				stats.DuplicateItems++
				continue
			}
			current.Degree = value
			pending = append(pending, e.Confidence)
		case types.EntityDateRange:
			start, end, ok := ParseDateRange(value)
			if !ok {
				stats.RejectedSpans++
				continue
			}
			if current == nil {
				current = &types.EducationEntry{}
			}
			if current.Year != nil {
				continue
			}
			year := start.Year()
			if end != nil {
				year = end.Year()
			}
			current.Year = &year
			pending = append(pending, e.Confidence)
		}
	}
	flush()
	return out
}
