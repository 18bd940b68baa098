package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"resume-matcher/internal/normalizer"
	"resume-matcher/internal/tracing"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

const (
	// DefaultDegradedConfidenceFactor 识别能力两次超时后规则实体的可信度折扣
	DefaultDegradedConfidenceFactor = 0.5
	// DefaultRetryBackoff 识别能力超时后重试前的等待
	DefaultRetryBackoff = 500 * time.Millisecond
	// DefaultBatchWorkers 批量处理的并发文档数
	DefaultBatchWorkers = 4
)

// DocumentResult 单个文档的流水线结果
type DocumentResult struct {
	DocumentID        string
	Profile           types.CandidateProfile
	Sections          []types.Section
	DegradedSections  []int // 识别能力降级的章节下标
	VocabularyVersion string
	Stats             normalizer.Stats
	Err               error // 批量处理时该文档的错误
}

// Degraded 是否有章节降级
func (r DocumentResult) Degraded() bool {
	return len(r.DegradedSections) > 0
}

// BatchDocument 批量处理的输入
type BatchDocument struct {
	ID   string
	Data []byte
}

// Pipeline 解码、分节、抽取、归一化。文档之间互不依赖，可并发调用。
type Pipeline struct {
	decoder       Decoder
	segmenter     SectionSegmenter
	extractor     EntityExtractor
	normalizer    ProfileNormalizer
	vocab         *vocabulary.Store
	workers       int
	retryBackoff  time.Duration
	degradeFactor float64
	logger        *log.Logger
	tracer        trace.Tracer
}

// PipelineOption 流水线配置
type PipelineOption func(*Pipeline)

// WithWorkers 设置批量处理的并发数
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRetryBackoff 设置识别能力超时后的重试等待
func WithRetryBackoff(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d >= 0 {
			p.retryBackoff = d
		}
	}
}

// WithDegradedConfidenceFactor 设置降级章节的可信度折扣，取值 [0,1]
func WithDegradedConfidenceFactor(f float64) PipelineOption {
	return func(p *Pipeline) {
		if f >= 0 && f <= 1 {
			p.degradeFactor = f
		}
	}
}

// WithPipelineLogger 设置日志记录器
func WithPipelineLogger(logger *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline 创建流水线
func NewPipeline(decoder Decoder, segmenter SectionSegmenter, extractor EntityExtractor, norm ProfileNormalizer, vocab *vocabulary.Store, options ...PipelineOption) (*Pipeline, error) {
	if decoder == nil || segmenter == nil || extractor == nil || norm == nil {
		return nil, fmt.Errorf("流水线组件不能为空")
	}
	if vocab == nil {
		vocab = vocabulary.NewStore(vocabulary.Default())
	}
	p := &Pipeline{
		decoder:       decoder,
		segmenter:     segmenter,
		extractor:     extractor,
		normalizer:    norm,
		vocab:         vocab,
		workers:       DefaultBatchWorkers,
		retryBackoff:  DefaultRetryBackoff,
		degradeFactor: DefaultDegradedConfidenceFactor,
		logger:        log.New(io.Discard, "", 0),
		tracer:        otel.Tracer("resume-matcher/processor"),
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

// Vocabulary 返回流水线使用的词表
func (p *Pipeline) Vocabulary() *vocabulary.Store {
	return p.vocab
}

// Process 处理一份文档。整份文档共用同一个词表快照。
// 解码失败返回 ErrUnreadableDocument 或 ErrEmptyDocument；识别能力超时不会让文档失败。
func (p *Pipeline) Process(ctx context.Context, docID string, data []byte) (DocumentResult, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Process", trace.WithAttributes(
		attribute.String("document.id", docID),
		attribute.Int("document.size", len(data)),
	))
	defer span.End()

	snapshot := p.vocab.Snapshot()
	result := DocumentResult{DocumentID: docID, VocabularyVersion: snapshot.Version()}

	blocks, err := p.decoder.Decode(ctx, docID, data)
	if err != nil {
		tracing.RecordStageError(span, err)
		return result, err
	}

	sections := p.segmenter.Segment(blocks)
	result.Sections = sections
	span.SetAttributes(attribute.Int("document.sections", len(sections)))

	perSection := make([][]types.ExtractedEntity, len(sections))
	degraded := make([]bool, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	for i := range sections {
		i := i
		g.Go(func() error {
			entities, wasDegraded, err := p.extractSection(gctx, docID, i, sections[i], snapshot)
			if err != nil {
				return err
			}
			perSection[i] = entities
			degraded[i] = wasDegraded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordStageError(span, err)
		return result, err
	}

	var entities []types.ExtractedEntity
	for i, ents := range perSection {
		entities = append(entities, ents...)
		if degraded[i] {
			result.DegradedSections = append(result.DegradedSections, i)
		}
	}

	result.Profile, result.Stats = p.normalizer.Normalize(entities, snapshot)
	p.logger.Printf("文档处理完成: document=%s sections=%d entities=%d contributing=%d degraded=%v confidence=%.3f",
		docID, len(sections), result.Stats.Input, result.Stats.Contributing, result.DegradedSections, result.Profile.ExtractionConfidence)

	span.SetAttributes(
		attribute.Int("profile.skills", len(result.Profile.Skills)),
		attribute.Float64("profile.extraction_confidence", result.Profile.ExtractionConfidence),
		attribute.Bool("profile.degraded", result.Degraded()),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// extractSection 抽取单个章节。识别能力超时后等待 retryBackoff 重试一次；
// 再次超时则使用规则层实体，并按折扣降低其可信度。
func (p *Pipeline) extractSection(ctx context.Context, docID string, idx int, section types.Section, snapshot *vocabulary.Snapshot) ([]types.ExtractedEntity, bool, error) {
	entities, err := p.extractor.Extract(ctx, idx, section, snapshot)
	if err == nil {
		return entities, false, nil
	}
	if !errors.Is(err, types.ErrCapabilityTimeout) {
		return nil, false, wrapExtractError(docID, idx, err)
	}

	p.logger.Printf("实体识别超时，%v 后重试: document=%s section=%d", p.retryBackoff, docID, idx)
	select {
	case <-time.After(p.retryBackoff):
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	retried, err := p.extractor.Extract(ctx, idx, section, snapshot)
	if err == nil {
		return retried, false, nil
	}
	if !errors.Is(err, types.ErrCapabilityTimeout) {
		return nil, false, wrapExtractError(docID, idx, err)
	}

	p.logger.Printf("实体识别再次超时，章节降级为规则层结果: document=%s section=%d label=%s", docID, idx, section.Label)
	return degradeEntities(retried, p.degradeFactor), true, nil
}

func wrapExtractError(docID string, idx int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewStageError(types.StageExtract, docID, fmt.Sprintf("section %d", idx), err)
}

// degradeEntities 返回可信度乘以 factor 后的副本
func degradeEntities(entities []types.ExtractedEntity, factor float64) []types.ExtractedEntity {
	out := make([]types.ExtractedEntity, len(entities))
	for i, e := range entities {
		e.Confidence *= factor
		out[i] = e
	}
	return out
}

// ProcessBatch 并发处理一批文档，结果顺序与输入一致。
// 单个文档的失败记录在对应结果的 Err 中，只有 ctx 被取消时才返回错误。
func (p *Pipeline) ProcessBatch(ctx context.Context, docs []BatchDocument) ([]DocumentResult, error) {
	results := make([]DocumentResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range docs {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = DocumentResult{DocumentID: docs[i].ID, Err: gctx.Err()}
				return nil
			}
			res, err := p.Process(gctx, docs[i].ID, docs[i].Data)
			res.Err = err
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// SectionsText 将章节拼接为可读纯文本，用作解析文本归档的后备
func SectionsText(sections []types.Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		b.WriteString(s.Text())
	}
	return b.String()
}
