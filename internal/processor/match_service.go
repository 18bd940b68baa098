package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"resume-matcher/internal/constants"
	"resume-matcher/internal/ranking"
	"resume-matcher/internal/scoring"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/storage/models"
	"resume-matcher/internal/tracing"
	"resume-matcher/internal/types"
)

const (
	// DefaultScoreCacheTTL 打分缓存时长
	DefaultScoreCacheTTL = time.Hour
	// DefaultScoringWorkers 排序时并发打分的候选人数
	DefaultScoringWorkers = 8
	// DefaultSearchLimit 向量检索默认返回数量
	DefaultSearchLimit = 20
)

// ErrRankInProgress 同一岗位、同一权重的排序正在进行
var ErrRankInProgress = errors.New("ranking already in progress")

// RankRequest 排序请求。CandidateIDs 为空时对所有候选人排序；Weights 为零值时使用默认权重。
type RankRequest struct {
	JobID        string        `json:"job_id" validate:"required,max=36"`
	CandidateIDs []string      `json:"candidate_ids" validate:"dive,required,max=36"`
	Weights      types.Weights `json:"weights"`
	MinScore     float64       `json:"min_score" validate:"gte=0,lte=1"`
	Limit        int           `json:"limit" validate:"gte=0"`
}

// CriteriaSearchRequest 不依赖岗位的条件检索，Skills、ExperienceYears、Location 至少提供一项
type CriteriaSearchRequest struct {
	Skills          []string `json:"skills" validate:"dive,required,max=100"`
	ExperienceYears float64  `json:"experience_years" validate:"gte=0,lte=60"`
	Location        string   `json:"location" validate:"max=255"`
	MinScore        float64  `json:"min_score" validate:"gte=0,lte=1"`
	Limit           int      `json:"limit" validate:"gte=0"`
}

// MatchService 单个打分、批量排序和向量检索
type MatchService struct {
	jobs           *JobService
	repo           MatchRepository
	cache          ScoreCache // 可选
	index          CandidateIndex
	scorer         *scoring.Scorer
	aggregator     *ranking.Aggregator
	validate       *validator.Validate
	defaultWeights types.Weights
	scoreTTL       time.Duration
	workers        int
	searchLimit    int
	logger         *zerolog.Logger
}

// MatchOption 匹配服务配置
type MatchOption func(*MatchService)

// WithScoreCache 设置打分缓存和过期时间
func WithScoreCache(cache ScoreCache, ttl time.Duration) MatchOption {
	return func(s *MatchService) {
		s.cache = cache
		if ttl > 0 {
			s.scoreTTL = ttl
		}
	}
}

// WithSearchIndex 设置候选人向量索引
func WithSearchIndex(index CandidateIndex) MatchOption {
	return func(s *MatchService) {
		s.index = index
	}
}

// WithDefaultWeights 设置请求未指定权重时的默认值，全零表示沿用内置默认值。
// 非法权重在 NewMatchService 中返回错误
func WithDefaultWeights(w types.Weights) MatchOption {
	return func(s *MatchService) {
		if w != (types.Weights{}) {
			s.defaultWeights = w
		}
	}
}

// WithScoringWorkers 设置并发打分数
func WithScoringWorkers(n int) MatchOption {
	return func(s *MatchService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSearchLimit 设置检索默认数量
func WithSearchLimit(n int) MatchOption {
	return func(s *MatchService) {
		if n > 0 {
			s.searchLimit = n
		}
	}
}

// WithMatchLogger 设置日志记录器
func WithMatchLogger(logger *zerolog.Logger) MatchOption {
	return func(s *MatchService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMatchService 创建匹配服务
func NewMatchService(jobs *JobService, repo MatchRepository, scorer *scoring.Scorer, aggregator *ranking.Aggregator, options ...MatchOption) (*MatchService, error) {
	if jobs == nil || repo == nil || scorer == nil {
		return nil, ErrStorageNotInit
	}
	if aggregator == nil {
		aggregator = ranking.NewAggregator()
	}
	nop := zerolog.Nop()
	s := &MatchService{
		jobs:           jobs,
		repo:           repo,
		scorer:         scorer,
		aggregator:     aggregator,
		validate:       validator.New(),
		defaultWeights: types.DefaultWeights(),
		scoreTTL:       DefaultScoreCacheTTL,
		workers:        DefaultScoringWorkers,
		searchLimit:    DefaultSearchLimit,
		logger:         &nop,
	}
	for _, option := range options {
		option(s)
	}
	if err := scoring.ValidateWeights(s.defaultWeights); err != nil {
		return nil, fmt.Errorf("默认权重配置无效: %w", err)
	}
	return s, nil
}

func (s *MatchService) resolveWeights(w types.Weights) (types.Weights, error) {
	if w == (types.Weights{}) {
		w = s.defaultWeights
	}
	if err := scoring.ValidateWeights(w); err != nil {
		return w, err
	}
	return w, nil
}

// Score 计算单个候选人对岗位的匹配分。相同的 (候选人, 岗位, 权重) 在缓存有效期内只计算一次。
func (s *MatchService) Score(ctx context.Context, candidateID, jobID string, w types.Weights) (types.MatchScore, error) {
	w, err := s.resolveWeights(w)
	if err != nil {
		return types.MatchScore{}, err
	}
	ctx, span := tracer.Start(ctx, "MatchService.Score", trace.WithAttributes(
		attribute.String("candidate.id", candidateID),
		attribute.String("job.id", jobID),
	))
	defer span.End()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		tracing.RecordStageError(span, err)
		return types.MatchScore{}, err
	}
	s.warmJobVector(ctx, job)

	score, err := s.scoreCandidate(ctx, candidateID, job, w, scoring.WeightsHash(w))
	if err != nil {
		tracing.RecordStageError(span, err)
		return types.MatchScore{}, err
	}
	span.SetAttributes(attribute.Float64("match.overall", score.Overall))
	span.SetStatus(codes.Ok, "")
	return score, nil
}

// warmJobVector 把缓存的 JD 向量放入打分器缓存，避免每次打分都重新向量化 JD
func (s *MatchService) warmJobVector(ctx context.Context, job types.JobDescription) {
	if s.jobs.embedder == nil {
		return
	}
	vector, err := s.jobs.JobVector(ctx, job)
	if err != nil {
		s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("JD 向量不可用，由打分器自行计算")
		return
	}
	s.scorer.Cache().Put(strings.TrimSpace(job.RawText), vector)
}

// scoreCandidate 先查打分缓存，未命中时读取档案打分并写回
func (s *MatchService) scoreCandidate(ctx context.Context, candidateID string, job types.JobDescription, w types.Weights, weightsHash string) (types.MatchScore, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.GetMatchScore(ctx, candidateID, job.ID, weightsHash)
		if err != nil {
			s.logger.Warn().Err(err).Str("candidate_id", candidateID).Msg("读取打分缓存失败")
		} else if ok {
			return cached, nil
		}
	}

	rec, err := s.repo.GetCandidateProfile(ctx, candidateID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.MatchScore{}, types.NewStageError(types.StageScore, candidateID, "candidate profile not found", types.ErrNotFound)
		}
		return types.MatchScore{}, types.NewStageError(types.StageScore, candidateID, "load candidate profile failed", err)
	}

	score, err := s.scorer.Score(ctx, candidateID, rec.ToProfile(), job, w)
	if err != nil {
		return types.MatchScore{}, err
	}

	// 语义分降级的结果不缓存，能力恢复后可以得到完整分数
	if s.cache != nil && !score.Degraded {
		if err := s.cache.SetMatchScore(ctx, weightsHash, score, s.scoreTTL); err != nil {
			s.logger.Warn().Err(err).Str("candidate_id", candidateID).Msg("写入打分缓存失败")
		}
	}
	return score, nil
}

// Rank 对一批候选人打分排序并记录本次排序。
// 批次超时时返回部分结果和包装 ErrBatchTimeout 的错误，部分结果同样会被记录。
func (s *MatchService) Rank(ctx context.Context, req RankRequest) (types.RankedResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return types.RankedResult{}, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}
	w, err := s.resolveWeights(req.Weights)
	if err != nil {
		return types.RankedResult{}, err
	}
	weightsHash := scoring.WeightsHash(w)

	ctx, span := tracer.Start(ctx, "MatchService.Rank", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("rank.weights_hash", weightsHash),
	))
	defer span.End()

	job, err := s.jobs.GetJob(ctx, req.JobID)
	if err != nil {
		tracing.RecordStageError(span, err)
		return types.RankedResult{}, err
	}

	candidateIDs := dedupeIDs(req.CandidateIDs)
	if len(candidateIDs) == 0 {
		all, err := s.repo.ListCandidateIDs(ctx)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return types.RankedResult{}, types.NewStageError(types.StageRank, req.JobID, "list candidates failed", err)
		}
		candidateIDs = all
	}
	span.SetAttributes(attribute.Int("rank.candidates", len(candidateIDs)))

	if s.cache != nil {
		lockKey := fmt.Sprintf(constants.KeyRankLock, req.JobID+":"+weightsHash)
		token, err := s.cache.AcquireLock(ctx, lockKey, constants.RankLockDuration)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("获取排序锁失败，继续执行")
		} else if token == "" {
			return types.RankedResult{}, types.NewStageError(types.StageRank, req.JobID, "another ranking with the same weights is running", ErrRankInProgress)
		} else {
			defer func() {
				if _, err := s.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					s.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("释放排序锁失败")
				}
			}()
		}
	}

	s.warmJobVector(ctx, job)
	filter := ranking.Filter{MinScore: req.MinScore, Limit: req.Limit}
	result, rankErr := s.rankCandidates(ctx, job, candidateIDs, w, weightsHash, filter)
	if rankErr != nil && !errors.Is(rankErr, types.ErrBatchTimeout) {
		tracing.RecordStageError(span, rankErr)
		return result, rankErr
	}

	runID := s.saveRun(ctx, job.ID, w, weightsHash, len(candidateIDs), result)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("run_id", runID).
		Int("candidates", len(candidateIDs)).
		Int("ranked", len(result.Ranked)).
		Int("low_confidence", len(result.LowConfidence)).
		Int("missing", len(result.Missing)).
		Bool("partial", result.Partial).
		Msg("排序完成")

	if rankErr != nil {
		tracing.RecordStageError(span, rankErr)
		return result, rankErr
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// rankCandidates 并发打分并把结果送入聚合器。聚合器返回后取消仍在进行的打分。
func (s *MatchService) rankCandidates(ctx context.Context, job types.JobDescription, candidateIDs []string, w types.Weights, weightsHash string, filter ranking.Filter) (types.RankedResult, error) {
	scoreCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan ranking.Outcome, len(candidateIDs))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(s.workers)
		for _, id := range candidateIDs {
			id := id
			g.Go(func() error {
				if scoreCtx.Err() != nil {
					return nil
				}
				score, err := s.scoreCandidate(scoreCtx, id, job, w, weightsHash)
				outcomes <- ranking.Outcome{CandidateID: id, Score: score, Err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	result, err := s.aggregator.Collect(ctx, job.ID, candidateIDs, outcomes, filter)
	cancel()
	<-done
	return result, err
}

// saveRun 记录排序结果，失败只记录日志并返回空的 runID
func (s *MatchService) saveRun(ctx context.Context, jobID string, w types.Weights, weightsHash string, candidateCount int, result types.RankedResult) string {
	weightsJSON, err := models.ToJSON(w)
	if err != nil {
		s.logger.Error().Err(err).Msg("序列化权重失败")
		return ""
	}
	missingJSON, err := models.ToJSON(result.Missing)
	if err != nil {
		s.logger.Error().Err(err).Msg("序列化缺失候选人失败")
		return ""
	}
	run := &models.RankingRun{
		RunID:          uuid.NewString(),
		JobID:          jobID,
		WeightsHash:    weightsHash,
		WeightsJSON:    weightsJSON,
		CandidateCount: candidateCount,
		RankedCount:    len(result.Ranked),
		LowConfCount:   len(result.LowConfidence),
		MissingJSON:    missingJSON,
		Partial:        result.Partial,
	}

	rows := make([]models.MatchScore, 0, len(result.Ranked)+len(result.LowConfidence))
	for i, score := range result.Ranked {
		rows = append(rows, matchScoreRow(run.RunID, i+1, false, score))
	}
	for _, score := range result.LowConfidence {
		rows = append(rows, matchScoreRow(run.RunID, 0, true, score))
	}

	if err := s.repo.SaveRankingRun(context.WithoutCancel(ctx), run, rows); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("记录排序结果失败")
		return ""
	}
	return run.RunID
}

func matchScoreRow(runID string, position int, lowConfidence bool, score types.MatchScore) models.MatchScore {
	explanation, _ := models.ToJSON(score.Explanation)
	return models.MatchScore{
		RunID:                runID,
		CandidateID:          score.CandidateID,
		JobID:                score.JobID,
		Position:             position,
		LowConfidence:        lowConfidence,
		Overall:              score.Overall,
		SkillOverlap:         score.SubScores.SkillOverlap,
		SemanticSimilarity:   score.SubScores.SemanticSimilarity,
		ExperienceFit:        score.SubScores.ExperienceFit,
		ExtractionConfidence: score.ExtractionConfidence,
		Degraded:             score.Degraded,
		ExplanationJSON:      explanation,
	}
}

// SearchCandidates 用 JD 向量在候选人索引中检索，再对命中的候选人打分排序。结果不记录。
func (s *MatchService) SearchCandidates(ctx context.Context, jobID string, limit int, w types.Weights) (types.RankedResult, error) {
	if s.index == nil {
		return types.RankedResult{}, storage.ErrVectorDBNotConfigured
	}
	w, err := s.resolveWeights(w)
	if err != nil {
		return types.RankedResult{}, err
	}
	if limit <= 0 {
		limit = s.searchLimit
	}
	ctx, span := tracer.Start(ctx, "MatchService.SearchCandidates", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.Int("search.limit", limit),
	))
	defer span.End()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		tracing.RecordStageError(span, err)
		return types.RankedResult{}, err
	}
	vector, err := s.jobs.JobVector(ctx, job)
	if err != nil {
		tracing.RecordStageError(span, err)
		return types.RankedResult{}, err
	}
	s.scorer.Cache().Put(strings.TrimSpace(job.RawText), vector)

	hits, err := s.index.SearchCandidates(ctx, vector, limit)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return types.RankedResult{}, types.NewStageError(types.StageRank, jobID, "candidate search failed", err)
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.CandidateID)
	}
	ids = dedupeIDs(ids)
	span.SetAttributes(attribute.Int("search.hits", len(ids)))

	result, err := s.rankCandidates(ctx, job, ids, w, scoring.WeightsHash(w), ranking.Filter{Limit: limit})
	if err != nil {
		tracing.RecordStageError(span, err)
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// SearchByCriteria 按技能、经验年限、所在地对全部候选人打分，按排序规则返回。结果不记录。
func (s *MatchService) SearchByCriteria(ctx context.Context, req CriteriaSearchRequest) (types.RankedResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return types.RankedResult{}, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}
	criteria := scoring.Criteria{
		Skills:          scoring.CanonicalSkills(req.Skills, s.jobs.vocab.Snapshot()),
		ExperienceYears: req.ExperienceYears,
		Location:        strings.TrimSpace(req.Location),
	}
	if criteria.Empty() {
		return types.RankedResult{}, fmt.Errorf("%w: at least one of skills, experience, location is required", types.ErrInvalidRequest)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.searchLimit
	}

	ctx, span := tracer.Start(ctx, "MatchService.SearchByCriteria", trace.WithAttributes(
		attribute.Int("search.skills", len(criteria.Skills)),
		attribute.Float64("search.experience_years", criteria.ExperienceYears),
		attribute.Bool("search.location", criteria.Location != ""),
		attribute.Int("search.limit", limit),
	))
	defer span.End()

	ids, err := s.repo.ListCandidateIDs(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return types.RankedResult{}, types.NewStageError(types.StageRank, "", "list candidates failed", err)
	}

	scores := make([]types.MatchScore, len(ids))
	found := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			rec, err := s.repo.GetCandidateProfile(gctx, id)
			if errors.Is(err, types.ErrNotFound) {
				return nil
			}
			if err != nil {
				return types.NewStageError(types.StageRank, id, "load candidate profile failed", err)
			}
			scores[i] = s.scorer.ScoreCriteria(id, rec.ToProfile(), criteria)
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordStageError(span, err)
		return types.RankedResult{}, err
	}

	kept := scores[:0]
	for i := range scores {
		if found[i] {
			kept = append(kept, scores[i])
		}
	}
	result := s.aggregator.Rank("", kept, ranking.Filter{MinScore: req.MinScore, Limit: limit})
	span.SetAttributes(attribute.Int("search.hits", len(result.Ranked)))
	s.logger.Debug().
		Int("candidates", len(kept)).
		Int("ranked", len(result.Ranked)).
		Int("low_confidence", len(result.LowConfidence)).
		Msg("条件检索完成")
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
