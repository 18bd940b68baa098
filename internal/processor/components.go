package processor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"

	"resume-matcher/internal/config"
	"resume-matcher/internal/extractor"
	"resume-matcher/internal/normalizer"
	"resume-matcher/internal/parser"
	"resume-matcher/internal/ranking"
	"resume-matcher/internal/scoring"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/vocabulary"
)

// Repository 服务所需的全部持久化操作，*storage.MySQL 实现了它
type Repository interface {
	DocumentRepository
	JobRepository
	MatchRepository
}

// Cache 去重、向量缓存、打分缓存与锁，*storage.Redis 实现了它
type Cache interface {
	DedupCache
	JobVectorCache
	ScoreCache
}

// Dependencies 装配服务所需的外部依赖。Embedder、ChatModel、Archiver、Index 可以为空。
type Dependencies struct {
	Objects    storage.ObjectStorage
	Repository Repository
	Cache      Cache
	Index      CandidateIndex
	Embedder   embedding.Embedder
	// EmbeddingModel 作为 JD 向量缓存的模型版本
	EmbeddingModel string
	ChatModel      model.BaseChatModel
	Archiver       TextArchiver
}

// LoggerProvider 按组件前缀返回标准库日志记录器
type LoggerProvider func(prefix string) *log.Logger

// Components 按配置装配好的服务
type Components struct {
	Vocabulary *vocabulary.Store
	Pipeline   *Pipeline
	Documents  *DocumentService
	Jobs       *JobService
	Matches    *MatchService
}

// LoadVocabulary 从配置的词表文件加载，未配置或文件不存在时使用内置词表
func LoadVocabulary(cfg *config.Config, logger *log.Logger) (*vocabulary.Store, error) {
	if cfg.Extractor.VocabularyPath == "" {
		return vocabulary.NewStore(vocabulary.Default()), nil
	}
	snapshot, err := vocabulary.LoadFile(cfg.Extractor.VocabularyPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Printf("词表文件 %s 不存在，使用内置词表 %s", cfg.Extractor.VocabularyPath, vocabulary.DefaultVersion)
		return vocabulary.NewStore(vocabulary.Default()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("加载技能词表失败: %w", err)
	}
	return vocabulary.NewStore(snapshot), nil
}

// BuildPipeline 创建文档处理流水线。chat 不为空且配置开启时使用 LLM 识别实体，否则只用规则层。
func BuildPipeline(cfg *config.Config, vocab *vocabulary.Store, chat model.BaseChatModel, loggers LoggerProvider) (*Pipeline, error) {
	if loggers == nil {
		loggers = func(string) *log.Logger { return log.New(io.Discard, "", 0) }
	}
	capabilityTimeout := config.GetDuration(cfg.Pipeline.CapabilityTimeout, 10*time.Second)

	var detector extractor.EntityDetector = extractor.NopDetector{}
	if cfg.Pipeline.UseLLMDetector && chat != nil {
		llm, err := parser.NewLLMEntityDetector(chat, parser.WithDetectorLogger(loggers("[LLMDetector] ")))
		if err != nil {
			return nil, err
		}
		detector = llm
	}

	decoder := parser.NewPDFDecoder(parser.WithDecoderLogger(loggers("[Decoder] ")))
	segmenter := parser.NewSegmenter(parser.WithHeadingFontRatio(cfg.Segmenter.HeadingFontRatio))
	ext := extractor.New(detector,
		extractor.WithFuzzyMaxDistance(cfg.Extractor.FuzzyMaxDistance),
		extractor.WithPhoneRegion(cfg.Pipeline.DefaultPhoneRegion),
		extractor.WithDetectTimeout(capabilityTimeout),
		extractor.WithLogger(loggers("[Extractor] ")),
	)
	norm := normalizer.New(normalizer.WithMinSkillConfidence(cfg.Extractor.MinSkillConfidence))

	return NewPipeline(decoder, segmenter, ext, norm, vocab,
		WithWorkers(cfg.Pipeline.Workers),
		WithRetryBackoff(config.GetDuration(cfg.Pipeline.RetryBackoff, DefaultRetryBackoff)),
		WithDegradedConfidenceFactor(cfg.Pipeline.DegradedConfidenceFactor),
		WithPipelineLogger(loggers("[Pipeline] ")),
	)
}

// BuildScorer 按配置创建打分器，embedder 为空时语义分降级
func BuildScorer(cfg *config.Config, embedder embedding.Embedder, loggers LoggerProvider) *scoring.Scorer {
	if loggers == nil {
		loggers = func(string) *log.Logger { return log.New(io.Discard, "", 0) }
	}
	return scoring.NewScorer(embedder,
		scoring.WithTopSkills(cfg.Scoring.TopSkills),
		scoring.WithEmbedTimeout(config.GetDuration(cfg.Pipeline.CapabilityTimeout, 10*time.Second)),
		scoring.WithRetryBackoff(config.GetDuration(cfg.Pipeline.RetryBackoff, DefaultRetryBackoff)),
		scoring.WithLogger(loggers("[Scorer] ")),
	)
}

// BuildAggregator 按配置创建排序聚合器
func BuildAggregator(cfg *config.Config, loggers LoggerProvider) *ranking.Aggregator {
	if loggers == nil {
		loggers = func(string) *log.Logger { return log.New(io.Discard, "", 0) }
	}
	opts := []ranking.Option{
		ranking.WithBatchTimeout(config.GetDuration(cfg.Ranking.BatchTimeout, 0)),
		ranking.WithLogger(loggers("[Aggregator] ")),
	}
	if cfg.Ranking.ConfidenceFloor != nil {
		opts = append(opts, ranking.WithConfidenceFloor(*cfg.Ranking.ConfidenceFloor))
	}
	return ranking.NewAggregator(opts...)
}

// BuildComponents 按配置装配流水线与三个服务
func BuildComponents(cfg *config.Config, deps Dependencies, loggers LoggerProvider, zl *zerolog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if deps.Repository == nil || deps.Cache == nil {
		return nil, fmt.Errorf("Repository 和 Cache 不能为空")
	}
	if loggers == nil {
		loggers = func(string) *log.Logger { return log.New(io.Discard, "", 0) }
	}

	vocab, err := LoadVocabulary(cfg, loggers("[Vocabulary] "))
	if err != nil {
		return nil, err
	}
	pipeline, err := BuildPipeline(cfg, vocab, deps.ChatModel, loggers)
	if err != nil {
		return nil, fmt.Errorf("创建流水线失败: %w", err)
	}

	docOpts := []DocumentServiceOption{
		WithProcessRoute(cfg.RabbitMQ.DocumentsExchange, cfg.RabbitMQ.ProcessRoutingKey),
		WithMaxDocumentBytes(cfg.Pipeline.MaxDocumentBytes),
		WithDocumentLogger(zl),
	}
	if deps.Archiver != nil {
		docOpts = append(docOpts, WithTextArchiver(deps.Archiver))
	}
	if deps.Embedder != nil && deps.Index != nil {
		docOpts = append(docOpts, WithCandidateIndex(deps.Embedder, deps.Index))
	}
	documents, err := NewDocumentService(pipeline, deps.Objects, deps.Repository, deps.Cache, docOpts...)
	if err != nil {
		return nil, fmt.Errorf("创建文档服务失败: %w", err)
	}

	jobOpts := []JobOption{WithJobVocabulary(vocab), WithJobLogger(loggers("[JobService] "))}
	if deps.Embedder != nil {
		jobOpts = append(jobOpts, WithJobEmbedder(deps.Embedder, deps.EmbeddingModel))
	}
	jobs, err := NewJobService(deps.Repository, deps.Cache, jobOpts...)
	if err != nil {
		return nil, fmt.Errorf("创建岗位服务失败: %w", err)
	}

	scorer := BuildScorer(cfg, deps.Embedder, loggers)
	aggregator := BuildAggregator(cfg, loggers)
	matchOpts := []MatchOption{
		WithScoreCache(deps.Cache, config.GetDuration(cfg.Scoring.ScoreCacheTTL, DefaultScoreCacheTTL)),
		WithScoringWorkers(cfg.Pipeline.Workers * 2),
		WithSearchLimit(cfg.Ranking.DefaultLimit),
		WithDefaultWeights(cfg.Scoring.Weights),
		WithMatchLogger(zl),
	}
	if deps.Index != nil {
		matchOpts = append(matchOpts, WithSearchIndex(deps.Index))
	}
	matches, err := NewMatchService(jobs, deps.Repository, scorer, aggregator, matchOpts...)
	if err != nil {
		return nil, fmt.Errorf("创建匹配服务失败: %w", err)
	}

	return &Components{
		Vocabulary: vocab,
		Pipeline:   pipeline,
		Documents:  documents,
		Jobs:       jobs,
		Matches:    matches,
	}, nil
}
