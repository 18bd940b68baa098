package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"resume-matcher/internal/config"
)

const defaultEmbeddingURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"

// DefaultEmbeddingBatchSize DashScope 单次请求最多接受的文本条数
const DefaultEmbeddingBatchSize = 10

// AliyunEmbedder 实现 embedding.Embedder 接口 (OpenAI 兼容模式)
type AliyunEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// EmbedderOption 向量化器配置选项
type EmbedderOption func(*AliyunEmbedder)

// WithEmbedderHTTPClient 设置 HTTP 客户端
func WithEmbedderHTTPClient(c *http.Client) EmbedderOption {
	return func(a *AliyunEmbedder) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithEmbedderBatchSize 设置单次请求的文本条数
func WithEmbedderBatchSize(n int) EmbedderOption {
	return func(a *AliyunEmbedder) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithEmbedderLogger 设置日志记录器
func WithEmbedderLogger(logger *log.Logger) EmbedderOption {
	return func(a *AliyunEmbedder) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAliyunEmbedder 创建阿里云 Embedder
func NewAliyunEmbedder(apiKey string, embeddingCfg config.EmbeddingConfig, options ...EmbedderOption) (*AliyunEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	model := embeddingCfg.Model
	if model == "" {
		model = "text-embedding-v3"
	}
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	a := &AliyunEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: embeddingCfg.Dimensions,
		batchSize:  DefaultEmbeddingBatchSize,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(a)
	}
	return a, nil
}

// Model 返回模型名，作为向量的模型版本记录
func (a *AliyunEmbedder) Model() string { return a.model }

// GetDimensions 返回配置的向量维度
func (a *AliyunEmbedder) GetDimensions() int { return a.dimensions }

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// EmbedStrings 将文本转换为向量，实现 eino embedding.Embedder 接口。
// 输入按批次发送，返回的向量与输入一一对应。
func (a *AliyunEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	model := a.model
	options := embedding.GetCommonOptions(&embedding.Options{Model: &model}, opts...)

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		vectors, err := a.embedBatch(ctx, *options.Model, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (a *AliyunEmbedder) embedBatch(ctx context.Context, model string, texts []string) ([][]float64, error) {
	payload, err := json.Marshal(embeddingRequest{
		Input:          texts,
		Model:          model,
		Dimensions:     a.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	status, body, err := postJSON(ctx, a.httpClient, a.baseURL, a.apiKey, payload)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if status != http.StatusOK {
		if json.Unmarshal(body, &resp) == nil && resp.Error != nil && resp.Error.Message != "" {
			return nil, statusError("API调用失败", status, fmt.Sprintf("类型: %s, 错误: %s, Code: %s", resp.Error.Type, resp.Error.Message, resp.Error.Code))
		}
		return nil, statusError("API调用失败", status, fmt.Sprintf("响应: %.200s", string(body)))
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s", resp.Error.Type, resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("API返回 %d 个向量, 期望 %d 个", len(resp.Data), len(texts))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	a.logger.Printf("向量化完成: model=%s texts=%d dim=%s tokens=%d", model, len(texts), vectorDims(vectors), resp.Usage.TotalTokens)
	return vectors, nil
}

func vectorDims(vectors [][]float64) string {
	if len(vectors) == 0 {
		return "0"
	}
	seen := make(map[int]bool)
	var dims []string
	for _, v := range vectors {
		if !seen[len(v)] {
			seen[len(v)] = true
			dims = append(dims, fmt.Sprint(len(v)))
		}
	}
	return strings.Join(dims, ",")
}
