package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/rs/zerolog"

	"resume-matcher/internal/processor"
	"resume-matcher/internal/types"
)

// DocumentService 文档提交与档案查询
type DocumentService interface {
	SubmitDocument(ctx context.Context, data []byte, documentID, filename string) (processor.SubmitResult, error)
	GetProfile(ctx context.Context, documentID string) (processor.ProfileView, error)
}

// JobService 岗位创建与查询
type JobService interface {
	CreateJob(ctx context.Context, job types.JobDescription) (types.JobDescription, error)
	GetJob(ctx context.Context, jobID string) (types.JobDescription, error)
}

// MatchService 打分、排序与检索
type MatchService interface {
	Score(ctx context.Context, candidateID, jobID string, w types.Weights) (types.MatchScore, error)
	Rank(ctx context.Context, req processor.RankRequest) (types.RankedResult, error)
	SearchCandidates(ctx context.Context, jobID string, limit int, w types.Weights) (types.RankedResult, error)
	SearchByCriteria(ctx context.Context, req processor.CriteriaSearchRequest) (types.RankedResult, error)
}

// DefaultCriteriaMinScore 条件检索未指定 min_score 时的默认值
const DefaultCriteriaMinScore = 0.5

// HealthChecker 返回各依赖组件的状态，"ok" 表示正常
type HealthChecker interface {
	Ping(ctx context.Context) map[string]string
}

// Handler HTTP 接口处理器
type Handler struct {
	documents DocumentService
	jobs      JobService
	matches   MatchService
	health    HealthChecker
	logger    *zerolog.Logger
}

// Option Handler 选项
type Option func(*Handler)

// WithHealthChecker 设置健康检查依赖
func WithHealthChecker(hc HealthChecker) Option {
	return func(h *Handler) {
		h.health = hc
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zerolog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler 创建处理器
func NewHandler(documents DocumentService, jobs JobService, matches MatchService, opts ...Option) *Handler {
	nop := zerolog.Nop()
	h := &Handler{
		documents: documents,
		jobs:      jobs,
		matches:   matches,
		logger:    &nop,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmitDocumentResponse 上传响应。被拒绝时 Error 和 Stage 说明原因。
type SubmitDocumentResponse struct {
	processor.SubmitResult
	Error string `json:"error,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// SubmitDocument POST /documents，multipart 字段 file，可选 document_id
func (h *Handler) SubmitDocument(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		badRequest(ctx, "文件未找到")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, utils.H{"error": "读取文件失败"})
		return
	}

	res, err := h.documents.SubmitDocument(c, data, ctx.PostForm("document_id"), fileHeader.Filename)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("document_id", res.DocumentID).Msg("文档提交失败")
		}
		ctx.JSON(status, SubmitDocumentResponse{
			SubmitResult: res,
			Error:        err.Error(),
			Stage:        string(types.StageOf(err)),
		})
		return
	}
	ctx.JSON(http.StatusAccepted, SubmitDocumentResponse{SubmitResult: res})
}

// GetProfile GET /documents/:id/profile
func (h *Handler) GetProfile(c context.Context, ctx *app.RequestContext) {
	view, err := h.documents.GetProfile(c, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// CreateJob POST /jobs
func (h *Handler) CreateJob(c context.Context, ctx *app.RequestContext) {
	var job types.JobDescription
	if err := json.Unmarshal(ctx.Request.Body(), &job); err != nil {
		badRequest(ctx, "请求体不是合法的 JSON: "+err.Error())
		return
	}
	created, err := h.jobs.CreateJob(c, job)
	if err != nil {
		h.logIfInternal(err, "创建岗位失败")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

// GetJob GET /jobs/:id
func (h *Handler) GetJob(c context.Context, ctx *app.RequestContext) {
	job, err := h.jobs.GetJob(c, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, job)
}

// RankCandidates POST /jobs/:id/rank。请求体可为空，此时对所有候选人按默认权重排序。
// 批次超时返回 206 和部分结果。
func (h *Handler) RankCandidates(c context.Context, ctx *app.RequestContext) {
	var req processor.RankRequest
	if body := ctx.Request.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			badRequest(ctx, "请求体不是合法的 JSON: "+err.Error())
			return
		}
	}
	req.JobID = ctx.Param("id")

	start := time.Now()
	result, err := h.matches.Rank(c, req)
	if err != nil {
		if errors.Is(err, types.ErrBatchTimeout) {
			h.logger.Warn().Err(err).Str("job_id", req.JobID).Int("missing", len(result.Missing)).Msg("排序批次超时，返回部分结果")
			ctx.JSON(http.StatusPartialContent, result)
			return
		}
		h.logIfInternal(err, "排序失败")
		writeError(ctx, err)
		return
	}
	h.logger.Info().
		Str("job_id", req.JobID).
		Int("ranked", len(result.Ranked)).
		Int("low_confidence", len(result.LowConfidence)).
		Dur("elapsed", time.Since(start)).
		Msg("排序完成")
	ctx.JSON(http.StatusOK, result)
}

// ScoreCandidate GET /jobs/:id/candidates/:cid/score
func (h *Handler) ScoreCandidate(c context.Context, ctx *app.RequestContext) {
	w, err := weightsFromQuery(ctx)
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}
	score, err := h.matches.Score(c, ctx.Param("cid"), ctx.Param("id"), w)
	if err != nil {
		h.logIfInternal(err, "打分失败")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, score)
}

// SearchCandidates GET /jobs/:id/search?limit=N
func (h *Handler) SearchCandidates(c context.Context, ctx *app.RequestContext) {
	w, err := weightsFromQuery(ctx)
	if err != nil {
		badRequest(ctx, err.Error())
		return
	}
	limit := 0
	if v := ctx.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(ctx, "limit 必须是非负整数")
			return
		}
	}
	result, err := h.matches.SearchCandidates(c, ctx.Param("id"), limit, w)
	if err != nil && !errors.Is(err, types.ErrBatchTimeout) {
		h.logIfInternal(err, "候选人检索失败")
		writeError(ctx, err)
		return
	}
	ctx.JSON(StatusFor(err), result)
}

// SearchByCriteria GET /candidates/search?skills=go,sql&experience=3&location=Berlin&min_score=0.5&limit=10
func (h *Handler) SearchByCriteria(c context.Context, ctx *app.RequestContext) {
	req := processor.CriteriaSearchRequest{
		Location: ctx.Query("location"),
		MinScore: DefaultCriteriaMinScore,
	}
	for _, s := range strings.Split(ctx.Query("skills"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			req.Skills = append(req.Skills, s)
		}
	}
	var err error
	if v := ctx.Query("experience"); v != "" {
		if req.ExperienceYears, err = strconv.ParseFloat(v, 64); err != nil {
			badRequest(ctx, fmt.Sprintf("experience 不是合法的数字: %q", v))
			return
		}
	}
	if v := ctx.Query("min_score"); v != "" {
		if req.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			badRequest(ctx, fmt.Sprintf("min_score 不是合法的数字: %q", v))
			return
		}
	}
	if v := ctx.Query("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil || req.Limit < 0 {
			badRequest(ctx, "limit 必须是非负整数")
			return
		}
	}

	result, err := h.matches.SearchByCriteria(c, req)
	if err != nil {
		h.logIfInternal(err, "条件检索失败")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// Health GET /health。任一组件异常时返回 503。
func (h *Handler) Health(c context.Context, ctx *app.RequestContext) {
	if h.health == nil {
		ctx.JSON(http.StatusOK, utils.H{"status": "ok"})
		return
	}
	components := h.health.Ping(c)
	status, code := "ok", http.StatusOK
	for _, v := range components {
		if v != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	ctx.JSON(code, utils.H{"status": status, "components": components})
}

func (h *Handler) logIfInternal(err error, msg string) {
	if StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("stage", string(types.StageOf(err))).Msg(msg)
	}
}

// weightsFromQuery 从查询参数读取权重，三项都未提供时返回零值（使用默认权重）
func weightsFromQuery(ctx *app.RequestContext) (types.Weights, error) {
	var w types.Weights
	fields := []struct {
		name string
		dst  *float64
	}{
		{"skill_weight", &w.Skill},
		{"semantic_weight", &w.Semantic},
		{"experience_weight", &w.Experience},
	}
	for _, f := range fields {
		v := ctx.Query(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return types.Weights{}, fmt.Errorf("%s 不是合法的数字: %q", f.name, v)
		}
		*f.dst = parsed
	}
	return w, nil
}
