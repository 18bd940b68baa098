package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// DashScope 的 OpenAI 兼容接口
	defaultQwenAPIURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName = "qwen-turbo"
)

// ErrRateLimited 上游返回 429
var ErrRateLimited = errors.New("rate limited by upstream")

// QwenChatModel 阿里云通义千问 (OpenAI 兼容模式)，实现 eino model.BaseChatModel
type QwenChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	jsonOutput bool
	httpClient *http.Client
	logger     *log.Logger
}

// QwenOption 千问模型配置选项
type QwenOption func(*QwenChatModel)

// WithQwenJSONOutput 要求模型以 JSON 对象作答 (response_format=json_object)
func WithQwenJSONOutput() QwenOption {
	return func(m *QwenChatModel) {
		m.jsonOutput = true
	}
}

// WithQwenHTTPClient 设置 HTTP 客户端
func WithQwenHTTPClient(c *http.Client) QwenOption {
	return func(m *QwenChatModel) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithQwenLogger 设置日志记录器
func WithQwenLogger(logger *log.Logger) QwenOption {
	return func(m *QwenChatModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewQwenChatModel 创建千问对话模型。modelName、apiURL 为空时使用默认值。
func NewQwenChatModel(apiKey, modelName, apiURL string, options ...QwenOption) (*QwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultQwenModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultQwenAPIURL
	}
	m := &QwenChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{},
		logger:     log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

type qwenMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type qwenResponseFormat struct {
	Type string `json:"type"`
}

type qwenRequest struct {
	Model          string              `json:"model"`
	Messages       []qwenMessage       `json:"messages"`
	Temperature    *float32            `json:"temperature,omitempty"`
	TopP           *float32            `json:"top_p,omitempty"`
	MaxTokens      *int                `json:"max_tokens,omitempty"`
	Stop           []string            `json:"stop,omitempty"`
	ResponseFormat *qwenResponseFormat `json:"response_format,omitempty"`
}

type qwenResponse struct {
	Choices []struct {
		Message      qwenMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Generate 实现 model.BaseChatModel
func (m *QwenChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName := m.modelName
	options := model.GetCommonOptions(&model.Options{Model: &modelName}, opts...)

	req := qwenRequest{
		Model:       *options.Model,
		Messages:    make([]qwenMessage, 0, len(input)),
		Temperature: options.Temperature,
		TopP:        options.TopP,
		MaxTokens:   options.MaxTokens,
		Stop:        options.Stop,
	}
	if m.jsonOutput {
		req.ResponseFormat = &qwenResponseFormat{Type: "json_object"}
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, qwenMessage{Role: string(msg.Role), Content: msg.Content})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	status, body, err := postJSON(ctx, m.httpClient, m.apiURL, m.apiKey, payload)
	if err != nil {
		return nil, err
	}

	var resp qwenResponse
	if status != http.StatusOK {
		if json.Unmarshal(body, &resp) == nil && resp.Error != nil && resp.Error.Message != "" {
			return nil, statusError("千问调用失败", status, fmt.Sprintf("类型: %s, 错误: %s", resp.Error.Type, resp.Error.Message))
		}
		return nil, statusError("千问调用失败", status, fmt.Sprintf("响应: %.200s", string(body)))
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析千问响应失败: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("千问返回错误: %s (%s)", resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("千问响应中没有 choices")
	}

	choice := resp.Choices[0]
	m.logger.Printf("千问调用完成: model=%s finish=%s tokens=%d", req.Model, choice.FinishReason, resp.Usage.TotalTokens)
	out := schema.AssistantMessage(choice.Message.Content, nil)
	out.ResponseMeta = &schema.ResponseMeta{
		FinishReason: choice.FinishReason,
		Usage: &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	return out, nil
}

// Stream 以单个分片返回完整回复，不使用服务端流式输出
func (m *QwenChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// postJSON 发送带 Bearer 鉴权的 JSON 请求，返回状态码和响应体
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		// 保留 context 错误以便上层识别超时
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("发送HTTP请求失败: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	return resp.StatusCode, body, nil
}

// statusError 非 200 响应的错误，429 时包装 ErrRateLimited
func statusError(prefix string, status int, detail string) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%s, 状态码: %d, %s: %w", prefix, status, detail, ErrRateLimited)
	}
	return fmt.Errorf("%s, 状态码: %d, %s", prefix, status, detail)
}
