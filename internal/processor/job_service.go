package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"resume-matcher/internal/scoring"
	"resume-matcher/internal/storage/models"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// JobService 岗位的创建与读取，并维护 JD 向量缓存
type JobService struct {
	repo           JobRepository
	vectors        JobVectorCache
	embedder       embedding.Embedder // 为空时不预计算向量
	embeddingModel string
	vocab          *vocabulary.Store
	validate       *validator.Validate
	logger         *log.Logger
}

// JobOption 定义了 JobService 的配置选项函数类型。
type JobOption func(*JobService)

// WithJobEmbedder 设置向量化器及其模型版本，模型版本用于判断缓存是否过期。
func WithJobEmbedder(embedder embedding.Embedder, model string) JobOption {
	return func(s *JobService) {
		s.embedder = embedder
		s.embeddingModel = model
	}
}

// WithJobVocabulary 设置用于规范化岗位技能的词表
func WithJobVocabulary(vocab *vocabulary.Store) JobOption {
	return func(s *JobService) {
		if vocab != nil {
			s.vocab = vocab
		}
	}
}

// WithJobLogger 设置 JobService 使用的日志记录器。
func WithJobLogger(logger *log.Logger) JobOption {
	return func(s *JobService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewJobService 创建岗位服务
func NewJobService(repo JobRepository, vectors JobVectorCache, options ...JobOption) (*JobService, error) {
	if repo == nil {
		return nil, fmt.Errorf("JobRepository 不能为空")
	}
	s := &JobService{
		repo:     repo,
		vectors:  vectors,
		vocab:    vocabulary.NewStore(vocabulary.Default()),
		validate: validator.New(),
		logger:   log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// ValidateJob 校验岗位描述字段
func (s *JobService) ValidateJob(job types.JobDescription) error {
	if len(job.ID) > maxDocumentIDLength {
		return fmt.Errorf("%w: job id longer than %d characters", types.ErrInvalidRequest, maxDocumentIDLength)
	}
	if strings.TrimSpace(job.RawText) == "" {
		return fmt.Errorf("%w: raw_text is required", types.ErrInvalidRequest)
	}
	if err := s.validate.Struct(job); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid fields %s", types.ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}
	return nil
}

// CreateJob 校验、规范化技能后落库，并预先计算 JD 向量。ID 为空时自动生成。
// 向量预计算失败不影响创建结果。
func (s *JobService) CreateJob(ctx context.Context, job types.JobDescription) (types.JobDescription, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := s.ValidateJob(job); err != nil {
		return types.JobDescription{}, err
	}

	snapshot := s.vocab.Snapshot()
	job.RequiredSkills = scoring.CanonicalSkills(job.RequiredSkills, snapshot)
	job.PreferredSkills = scoring.CanonicalSkills(job.PreferredSkills, snapshot)

	rec, err := models.NewJob(job, s.embeddingModel)
	if err != nil {
		return types.JobDescription{}, fmt.Errorf("编码岗位失败: %w", err)
	}
	if err := s.repo.CreateJob(ctx, rec); err != nil {
		return types.JobDescription{}, types.NewStageError(types.StagePersist, job.ID, "create job failed", err)
	}
	s.logger.Printf("岗位已创建: job=%s required=%v preferred=%v", job.ID, job.RequiredSkills, job.PreferredSkills)

	if s.embedder != nil {
		if _, err := s.JobVector(ctx, job); err != nil {
			s.logger.Printf("JD 向量预计算失败，打分时将重新计算: job=%s err=%v", job.ID, err)
		}
	}
	return job, nil
}

// GetJob 读取岗位描述，不存在时返回包装 ErrNotFound 的错误
func (s *JobService) GetJob(ctx context.Context, jobID string) (types.JobDescription, error) {
	rec, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return types.JobDescription{}, err
	}
	return rec.ToJobDescription(), nil
}

// JobVector 返回 JD 向量。
// 先查 Redis 缓存并校验模型版本，未命中时调用 embedder 生成并写回缓存。
func (s *JobService) JobVector(ctx context.Context, job types.JobDescription) ([]float64, error) {
	if s.embedder == nil {
		return nil, types.NewStageError(types.StageEmbed, job.ID, "no embedder configured", nil)
	}
	jdText := strings.TrimSpace(job.RawText)
	if jdText == "" {
		return nil, fmt.Errorf("JD 文本不能为空")
	}

	if s.vectors != nil {
		cached, modelVersion, err := s.vectors.GetJobVector(ctx, job.ID)
		if err == nil && len(cached) > 0 {
			if modelVersion == s.embeddingModel {
				return cached, nil
			}
			s.logger.Printf("缓存中的 JD 向量模型版本不匹配 (缓存: %s, 当前: %s)，将重新生成", modelVersion, s.embeddingModel)
		}
	}

	vectors, err := s.embedder.EmbedStrings(ctx, []string{jdText})
	if err != nil {
		return nil, types.NewStageError(types.StageEmbed, job.ID, "embed job description failed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, types.NewStageError(types.StageEmbed, job.ID, "embedder returned no vector", nil)
	}
	vector := vectors[0]

	if s.vectors != nil {
		if err := s.vectors.SetJobVector(ctx, job.ID, vector, s.embeddingModel); err != nil {
			s.logger.Printf("写入 JD 向量缓存失败: job=%s err=%v", job.ID, err)
		}
	}
	return vector, nil
}
