// Package scoring 计算候选人档案与岗位描述的综合匹配分。
package scoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// DefaultTopSkills 解释中最多列出的技能数
const DefaultTopSkills = 5

// Scorer 相似度打分器。对相同的输入总是给出相同的结果，可并发调用。
type Scorer struct {
	embedder     embedding.Embedder
	cache        *EmbeddingCache
	topSkills    int
	embedTimeout time.Duration
	retryBackoff time.Duration
	now          func() time.Time
	logger       *log.Logger
}

// Option 打分器配置
type Option func(*Scorer)

// WithTopSkills 设置解释中列出的技能数量
func WithTopSkills(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.topSkills = n
		}
	}
}

// WithEmbedTimeout 设置单次向量化调用的超时
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.embedTimeout = d
		}
	}
}

// WithRetryBackoff 设置超时重试前的等待时间
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Scorer) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithClock 设置"至今"使用的时钟
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEmbeddingCache 共享向量缓存
func WithEmbeddingCache(c *EmbeddingCache) Option {
	return func(s *Scorer) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *log.Logger) Option {
	return func(s *Scorer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScorer 创建打分器，embedder 为 nil 时语义分始终降级
func NewScorer(embedder embedding.Embedder, options ...Option) *Scorer {
	s := &Scorer{
		embedder:     embedder,
		topSkills:    DefaultTopSkills,
		embedTimeout: 10 * time.Second,
		retryBackoff: 200 * time.Millisecond,
		now:          time.Now,
		logger:       log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(s)
	}
	if s.cache == nil {
		s.cache = NewEmbeddingCache(0)
	}
	return s
}

// Cache 返回向量缓存，调用方可以预先写入已知的岗位向量
func (s *Scorer) Cache() *EmbeddingCache {
	return s.cache
}

// Score 计算匹配分。权重非法时返回 ErrInvalidWeightConfiguration；
// 向量化失败只会让语义分降级，不会使整个调用失败。
func (s *Scorer) Score(ctx context.Context, candidateID string, profile types.CandidateProfile, job types.JobDescription, w types.Weights) (types.MatchScore, error) {
	if err := ValidateWeights(w); err != nil {
		return types.MatchScore{}, err
	}

	skill := SkillOverlap(profile.Skills, job.RequiredSkills, job.PreferredSkills)

	semantic, semanticNote, err := s.semanticSimilarity(ctx, candidateID, profile, job)
	if err != nil {
		return types.MatchScore{}, err
	}

	years := ExperienceYears(profile.Experience, s.now())
	experience := ExperienceFit(years, job.MinExperienceYears)

	overall := clamp01(w.Skill*skill + w.Semantic*semantic + w.Experience*experience)

	score := types.MatchScore{
		CandidateID: candidateID,
		JobID:       job.ID,
		Overall:     overall,
		SubScores: types.SubScores{
			SkillOverlap:       skill,
			SemanticSimilarity: semantic,
			ExperienceFit:      experience,
		},
		ExtractionConfidence: profile.ExtractionConfidence,
		Degraded:             semanticNote != "",
	}
	score.Explanation = s.explain(score, w, profile, job, years, semanticNote)
	return score, nil
}

// semanticSimilarity 返回重新映射后的语义分；降级时第二个返回值说明原因
func (s *Scorer) semanticSimilarity(ctx context.Context, candidateID string, profile types.CandidateProfile, job types.JobDescription) (float64, string, error) {
	candidateText := CandidateText(profile)
	jobText := strings.TrimSpace(job.RawText)
	if candidateText == "" || jobText == "" {
		return 0, "", nil
	}
	if s.embedder == nil {
		return 0, "semantic similarity unavailable: stage=embed: no embedder configured", nil
	}

	vectors, err := s.embed(ctx, candidateText, jobText)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		s.logger.Printf("语义相似度降级: candidate=%s job=%s err=%v", candidateID, job.ID, err)
		return 0, "semantic similarity unavailable: " + err.Error(), nil
	}
	return RescaleCosine(Cosine(vectors[0], vectors[1])), "", nil
}

// embed 优先读取缓存；未命中的文本一次性向量化。超时重试一次。
func (s *Scorer) embed(ctx context.Context, texts ...string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := s.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := s.embedOnce(ctx, missing)
	if errors.Is(err, types.ErrCapabilityTimeout) {
		s.logger.Printf("向量化超时，%v 后重试", s.retryBackoff)
		select {
		case <-time.After(s.retryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		vectors, err = s.embedOnce(ctx, missing)
	}
	if err != nil {
		return nil, err
	}

	for k, v := range vectors {
		out[missingIdx[k]] = v
		s.cache.Put(missing[k], v)
	}
	return out, nil
}

func (s *Scorer) embedOnce(ctx context.Context, texts []string) ([][]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vectors, err := s.embedder.EmbedStrings(callCtx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil) {
			return nil, types.NewCapabilityTimeoutError(types.StageEmbed, "", fmt.Sprintf("embedder exceeded %v", s.embedTimeout))
		}
		return nil, types.NewStageError(types.StageEmbed, "", "embedder failed", err)
	}
	if len(vectors) != len(texts) {
		return nil, types.NewStageError(types.StageEmbed, "", fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(texts)), nil)
	}
	return vectors, nil
}

// CandidateText 用于语义比较的候选人文本：技能 + 经历中的职位和机构
func CandidateText(p types.CandidateProfile) string {
	var parts []string
	if len(p.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(p.Skills, ", "))
	}
	for _, e := range p.Experience {
		switch {
		case e.Title != "" && e.Organization != "":
			parts = append(parts, e.Title+" at "+e.Organization)
		case e.Title != "":
			parts = append(parts, e.Title)
		case e.Organization != "":
			parts = append(parts, e.Organization)
		}
	}
	return strings.Join(parts, "\n")
}

type weightedSkill struct {
	id       string
	weight   int
	required bool
}

// explain 生成有序的可读解释。技能按权重降序（必需先于加分项），同权重按ID排序。
func (s *Scorer) explain(score types.MatchScore, w types.Weights, profile types.CandidateProfile, job types.JobDescription, years float64, semanticNote string) []string {
	sub := score.SubScores
	lines := []string{
		fmt.Sprintf("overall %.3f = skill_overlap %.3f x %.2f + semantic_similarity %.3f x %.2f + experience_fit %.3f x %.2f",
			score.Overall, sub.SkillOverlap, w.Skill, sub.SemanticSimilarity, w.Semantic, sub.ExperienceFit, w.Experience),
	}

	candidate := toSet(profile.Skills)
	required := toSet(job.RequiredSkills)
	var all []weightedSkill
	for id := range required {
		all = append(all, weightedSkill{id: id, weight: requiredSkillWeight, required: true})
	}
	for id := range toSet(job.PreferredSkills) {
		if !required[id] {
			all = append(all, weightedSkill{id: id, weight: preferredSkillWeight})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].weight != all[j].weight {
			return all[i].weight > all[j].weight
		}
		return all[i].id < all[j].id
	})

	var matched, missing []string
	for _, sk := range all {
		label := sk.id + " (preferred)"
		if sk.required {
			label = sk.id + " (required)"
		}
		if candidate[sk.id] {
			matched = append(matched, label)
		} else {
			missing = append(missing, label)
		}
	}
	if len(matched) > 0 {
		lines = append(lines, "top matched skills: "+strings.Join(head(matched, s.topSkills), ", "))
	}
	if len(missing) > 0 {
		lines = append(lines, "top missing skills: "+strings.Join(head(missing, s.topSkills), ", "))
	}
	if len(all) == 0 {
		lines = append(lines, "no skill requirements: skill overlap trivially satisfied")
	}

	if semanticNote != "" {
		lines = append(lines, semanticNote)
	}

	if job.MinExperienceYears > 0 {
		lines = append(lines, fmt.Sprintf("experience %.1f years vs required %.1f years", years, job.MinExperienceYears))
	} else {
		lines = append(lines, fmt.Sprintf("experience %.1f years, no minimum required", years))
	}

	if profile.NeedsReview {
		lines = append(lines, "profile extraction confidence is 0: flagged for review")
	}
	return lines
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// CanonicalSkills 用词表把岗位技能映射为规范ID并去重排序
func CanonicalSkills(skills []string, vocab *vocabulary.Snapshot) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		id := vocabulary.Fold(s)
		if vocab != nil {
			if m, ok := vocab.Resolve(s); ok {
				id = m.ID
			}
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
