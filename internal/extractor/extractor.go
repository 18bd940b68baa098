// Package extractor 从单个章节中抽取实体：注入的识别能力 + 规则层。
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// DefaultFuzzyMaxDistance 技能模糊匹配的最大编辑距离
const DefaultFuzzyMaxDistance = 2

// EntityDetector 实体识别能力（NER模型、LLM等），返回文本内的区间、类型和可信度
type EntityDetector interface {
	Detect(ctx context.Context, text string) ([]types.Detection, error)
}

// NopDetector 不识别任何实体，只依赖规则层
type NopDetector struct{}

// Detect 实现 EntityDetector
func (NopDetector) Detect(context.Context, string) ([]types.Detection, error) { return nil, nil }

// Extractor 章节实体抽取器
type Extractor struct {
	detector      EntityDetector
	maxDistance   int
	phoneRegion   string
	detectTimeout time.Duration
	logger        *log.Logger
}

// Option 抽取器配置选项
type Option func(*Extractor)

// WithFuzzyMaxDistance 设置技能模糊匹配的最大编辑距离
func WithFuzzyMaxDistance(d int) Option {
	return func(e *Extractor) {
		if d >= 0 {
			e.maxDistance = d
		}
	}
}

// WithPhoneRegion 设置解析本地号码时的默认地区，例如 "US"、"CN"
func WithPhoneRegion(region string) Option {
	return func(e *Extractor) {
		if region != "" {
			e.phoneRegion = strings.ToUpper(region)
		}
	}
}

// WithDetectTimeout 单次调用识别能力的超时时间
func WithDetectTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.detectTimeout = d
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *log.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New 创建抽取器，detector 为 nil 时仅使用规则层
func New(detector EntityDetector, options ...Option) *Extractor {
	if detector == nil {
		detector = NopDetector{}
	}
	e := &Extractor{
		detector:      detector,
		maxDistance:   DefaultFuzzyMaxDistance,
		phoneRegion:   "US",
		detectTimeout: 10 * time.Second,
		logger:        log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Extract 抽取一个章节中的实体。没有内容的章节返回空结果而不是错误。
//
// 识别能力超时时返回的错误包装 ErrCapabilityTimeout，同时返回仅由规则层得到的实体，
// 由调用方决定重试或降级。其他识别错误只记录日志，按"模型未识别到实体"处理。
func (e *Extractor) Extract(ctx context.Context, sectionIndex int, section types.Section, vocab *vocabulary.Snapshot) ([]types.ExtractedEntity, error) {
	text := section.Text()
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	detections, detectErr := e.detect(ctx, text)
	if detectErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(detectErr, types.ErrCapabilityTimeout) {
			e.logger.Printf("实体识别失败，仅使用规则层: section=%d label=%s err=%v", sectionIndex, section.Label, detectErr)
			detectErr = nil
		}
		detections = nil
	}

	var entities []types.ExtractedEntity
	modelSkills := make(map[string]bool)
	for _, d := range detections {
		ent, ok := fromDetection(text, d)
		if !ok {
			continue
		}
		if ent.Kind == types.EntitySkill && vocab != nil {
			if m, ok := vocab.Resolve(ent.Value); ok {
				modelSkills[m.ID] = true
			}
		}
		entities = append(entities, ent)
	}

	entities = append(entities, matchContacts(text, e.phoneRegion)...)
	entities = append(entities, matchDateRanges(text, section.Label)...)
	entities = append(entities, matchLayout(text, section.Label)...)
	entities = append(entities, matchHeaderName(text, section.Label, sectionIndex)...)
	entities = append(entities, matchLocation(text, section.Label, sectionIndex)...)
	if vocab != nil {
		entities = append(entities, e.matchSkills(text, section.Label, vocab, modelSkills)...)
	}

	for i := range entities {
		entities[i].SourceSection = section.Label
		entities[i].SectionIndex = sectionIndex
	}
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Offset < entities[j].Offset })
	return entities, detectErr
}

// detect 在超时控制下调用识别能力
func (e *Extractor) detect(ctx context.Context, text string) ([]types.Detection, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.detectTimeout)
	defer cancel()

	detections, err := e.detector.Detect(callCtx, text)
	if err == nil {
		return detections, nil
	}
	if errors.Is(err, types.ErrCapabilityTimeout) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil) {
		return nil, types.NewCapabilityTimeoutError(types.StageExtract, "", fmt.Sprintf("entity detector exceeded %v", e.detectTimeout))
	}
	return nil, err
}

// fromDetection 校验并转换模型输出，越界或类型未知的结果直接丢弃
func fromDetection(text string, d types.Detection) (types.ExtractedEntity, bool) {
	if !d.Kind.Valid() || d.Span.Start < 0 || d.Span.End > len(text) || d.Span.Start >= d.Span.End {
		return types.ExtractedEntity{}, false
	}
	value := strings.TrimSpace(text[d.Span.Start:d.Span.End])
	if value == "" {
		return types.ExtractedEntity{}, false
	}
	if d.Kind == types.EntityEmail {
		value = strings.ToLower(value)
	}
	return types.ExtractedEntity{
		Kind:       d.Kind,
		Value:      value,
		Confidence: clamp01(d.Confidence),
		Offset:     d.Span.Start,
	}, true
}

// matchSkills 在词表中查找模型遗漏的技能。多词词条按 n-gram 精确匹配；
// 单词在技能类章节中额外做模糊匹配（大小写、变音不敏感）。
func (e *Extractor) matchSkills(text string, label types.SectionLabel, vocab *vocabulary.Snapshot, seen map[string]bool) []types.ExtractedEntity {
	tokens := tokenize(text)
	fuzzy := e.maxDistance > 0 && (label == types.SectionSkills || label == types.SectionOther)
	maxN := max(vocab.MaxTermWords(), 1)

	var out []types.ExtractedEntity
	used := make([]bool, len(tokens))
	// 先匹配长词条，避免 "machine learning" 被拆开
	for n := maxN; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			if anyUsed(used[i : i+n]) {
				continue
			}
			words := make([]string, n)
			for k := 0; k < n; k++ {
				words[k] = tokens[i+k].text
			}
			surface := strings.Join(words, " ")

			var (
				m  vocabulary.Match
				ok bool
			)
			if n == 1 && fuzzy {
				m, ok = vocab.FuzzyResolve(surface, e.maxDistance)
			} else {
				m, ok = vocab.Resolve(surface)
			}
			if !ok {
				continue
			}
			for k := i; k < i+n; k++ {
				used[k] = true
			}
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true

			conf := m.Confidence
			if m.Distance > 0 {
				conf *= 1 - float64(m.Distance)/float64(len([]rune(m.Term))+1)
			}
			out = append(out, types.ExtractedEntity{
				Kind:       types.EntitySkill,
				Value:      m.ID,
				Confidence: clamp01(conf),
				Offset:     tokens[i].offset,
			})
		}
	}
	return out
}

func anyUsed(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
