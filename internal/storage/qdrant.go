package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"resume-matcher/internal/config"
	"resume-matcher/internal/tracing"
)

var qdrantTracer = otel.Tracer("resume-matcher/storage/qdrant")

// QdrantPointIDNamespace 生成确定性点ID的命名空间，同一候选人总是映射到同一个点
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("fd6c72c2-5a33-4b53-8e7c-8298f3f5a7e1"))

// CandidatePointID 候选人在 Qdrant 中的点ID
func CandidatePointID(candidateID string) string {
	return uuid.NewV5(QdrantPointIDNamespace, candidateID).String()
}

// CandidatePayload 与候选人向量一起存储的载荷
type CandidatePayload struct {
	CandidateID          string   `json:"candidate_id"`
	Name                 string   `json:"name,omitempty"`
	Skills               []string `json:"skills"`
	ExtractionConfidence float64  `json:"extraction_confidence"`
	VocabularyVersion    string   `json:"vocabulary_version,omitempty"`
}

// SearchResult 表示一个搜索结果项
type SearchResult struct {
	CandidateID string
	Score       float32
	Payload     CandidatePayload
}

// Qdrant 候选人档案向量库
type Qdrant struct {
	endpoint       string
	apiKey         string
	collectionName string
	vectorSize     int
	distanceMetric string
	defaultLimit   int
	httpClient     *http.Client
	logger         *log.Logger
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHttpTimeout 设置HTTP客户端超时
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithQdrantLogger 设置日志记录器
func WithQdrantLogger(logger *log.Logger) QdrantOption {
	return func(q *Qdrant) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	q := &Qdrant{
		endpoint:       cfg.Endpoint,
		apiKey:         cfg.APIKey,
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Cosine",
		defaultLimit:   cfg.DefaultSearchLimit,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         log.New(io.Discard, "", 0),
	}
	if q.endpoint == "" {
		q.endpoint = "http://localhost:6333"
	}
	if q.collectionName == "" {
		q.collectionName = "candidate_profiles"
	}
	if q.vectorSize <= 0 {
		q.vectorSize = 1024
	}
	if q.defaultLimit <= 0 {
		q.defaultLimit = 20
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", q.collectionName, err)
	}
	q.logger.Printf("成功连接到Qdrant服务器: %s，集合: %s", q.endpoint, q.collectionName)
	return q, nil
}

// ensureCollectionExists 集合不存在时创建；已存在但维度不一致时只记录警告
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", q.collectionName), nil, &info)
	if status == http.StatusNotFound {
		q.logger.Printf("集合 '%s' 不存在，将创建新集合", q.collectionName)
		return q.createCollection(ctx)
	}
	if err != nil {
		return err
	}

	vectors := info.Result.Config.Params.Vectors
	if vectors.Size != q.vectorSize || vectors.Distance != q.distanceMetric {
		q.logger.Printf("警告: 现有集合配置与当前配置不匹配。现有: 维度=%d, 距离=%s; 当前: 维度=%d, 距离=%s",
			vectors.Size, vectors.Distance, q.vectorSize, q.distanceMetric)
	}
	return nil
}

// createCollection 创建新的向量集合，并为 candidate_id 建立载荷索引
func (q *Qdrant) createCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
	}
	if _, err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collectionName), body, nil); err != nil {
		return fmt.Errorf("创建集合失败: %w", err)
	}

	index := map[string]interface{}{"field_name": "candidate_id", "field_schema": "keyword"}
	if _, err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", q.collectionName), index, nil); err != nil {
		q.logger.Printf("创建 candidate_id 载荷索引失败: %v", err)
	}
	q.logger.Printf("已成功创建Qdrant集合: %s，维度: %d", q.collectionName, q.vectorSize)
	return nil
}

// UpsertCandidate 写入或覆盖候选人的档案向量
func (q *Qdrant) UpsertCandidate(ctx context.Context, vector []float64, payload CandidatePayload) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertCandidate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("candidate.id", payload.CandidateID),
	)

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return err
	}

	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id":      CandidatePointID(payload.CandidateID),
				"vector":  vector,
				"payload": payload,
			},
		},
	}
	if _, err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), body, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("写入候选人向量失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// SearchCandidates 按向量相似度搜索候选人，limit<=0 时使用默认值
func (q *Qdrant) SearchCandidates(ctx context.Context, queryVector []float64, limit int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.SearchCandidates", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if limit <= 0 {
		limit = q.defaultLimit
	}
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("search.limit", limit),
	)

	if len(queryVector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(queryVector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	req := map[string]interface{}{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      interface{}      `json:"id"`
			Score   float32          `json:"score"`
			Payload CandidatePayload `json:"payload"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}
	if _, err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), req, &resp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		if p.Payload.CandidateID == "" {
			continue
		}
		results = append(results, SearchResult{
			CandidateID: p.Payload.CandidateID,
			Score:       p.Score,
			Payload:     p.Payload,
		})
	}
	span.SetAttributes(
		attribute.Int("search.results.count", len(results)),
		attribute.Float64("qdrant.response_time", resp.Time),
	)
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// DeleteCandidate 删除候选人的向量
func (q *Qdrant) DeleteCandidate(ctx context.Context, candidateID string) error {
	body := map[string]interface{}{"points": []string{CandidatePointID(candidateID)}}
	_, err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), body, nil)
	return err
}

// CountPoints 获取集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	body := map[string]interface{}{"exact": true}
	if _, err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collectionName), body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// doRequest 发送请求并解析响应，返回 HTTP 状态码（请求未发出时为0）
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("http.method", method),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return 0, err
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return 0, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, tracing.Truncate(string(respBody), 512))
		tracing.RecordHTTPStatus(span, err, resp.StatusCode)
		return resp.StatusCode, err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return resp.StatusCode, err
		}
	}
	span.SetStatus(codes.Ok, "")
	return resp.StatusCode, nil
}
