package parser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/types"
)

// MockChatModel 返回固定回复的对话模型
type MockChatModel struct {
	reply    string
	err      error
	delay    time.Duration
	received []*schema.Message
}

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.received = input
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestLLMEntityDetector_Detect(t *testing.T) {
	text := "Go, SQL and Go again. Worked at Acme."
	chat := &MockChatModel{reply: "```json\n" + `{"entities":[
		{"kind":"skill","text":"Go","confidence":0.9},
		{"kind":"skill","text":"Go","confidence":0.8},
		{"kind":"SKILL","text":"SQL","confidence":1.4},
		{"kind":"organization","text":"Acme","confidence":0.7},
		{"kind":"hobby","text":"chess","confidence":0.9},
		{"kind":"skill","text":"Rust","confidence":0.9}
	]}` + "\n```"}
	d, err := NewLLMEntityDetector(chat)
	require.NoError(t, err)

	detections, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, detections, 4, "未知类型和原文中找不到的片段被丢弃")

	assert.Equal(t, types.Span{Start: 0, End: 2}, detections[0].Span)
	assert.Equal(t, types.Span{Start: 12, End: 14}, detections[1].Span, "重复片段定位到下一次出现")
	assert.Equal(t, types.EntitySkill, detections[2].Kind)
	assert.Equal(t, "SQL", text[detections[2].Span.Start:detections[2].Span.End])
	assert.Equal(t, types.EntityOrganization, detections[3].Kind)

	require.Len(t, chat.received, 2)
	assert.Equal(t, schema.System, chat.received[0].Role)
	assert.Equal(t, text, chat.received[1].Content)
}

func TestLLMEntityDetector_EmptyText(t *testing.T) {
	chat := &MockChatModel{}
	d, err := NewLLMEntityDetector(chat)
	require.NoError(t, err)
	detections, err := d.Detect(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, detections)
	assert.Nil(t, chat.received, "空文本不调用模型")
}

func TestLLMEntityDetector_Errors(t *testing.T) {
	d, err := NewLLMEntityDetector(&MockChatModel{err: errors.New("quota exceeded")})
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), "Go")
	assert.ErrorContains(t, err, "quota exceeded")

	d, err = NewLLMEntityDetector(&MockChatModel{reply: "no json here"})
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), "Go")
	assert.Error(t, err)

	_, err = NewLLMEntityDetector(nil)
	assert.Error(t, err)
}

func TestLLMEntityDetector_DeadlinePropagates(t *testing.T) {
	d, err := NewLLMEntityDetector(&MockChatModel{delay: time.Second})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = d.Detect(ctx, "Go")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLLMEntityDetector_TruncatesInput(t *testing.T) {
	chat := &MockChatModel{reply: `{"entities":[]}`}
	d, err := NewLLMEntityDetector(chat, WithDetectorMaxChars(3))
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), "技能列表很长")
	require.NoError(t, err)
	assert.Equal(t, "技能列", chat.received[1].Content)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":"}"}`, extractJSONObject(`prefix {"a":"}"} suffix`))
	assert.Equal(t, `{"a":{"b":1}}`, extractJSONObject("```json\n{\"a\":{\"b\":1}}\n```"))
	assert.Empty(t, extractJSONObject("{unterminated"))
}

func TestQwenChatModel_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer qwen-key", r.Header.Get("Authorization"))
		var req qwenRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "qwen-plus", req.Model)
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}
		assert.NotNil(t, req.Temperature)
		assert.Len(t, req.Messages, 2)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"entities\":[]}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`))
	}))
	defer srv.Close()

	m, err := NewQwenChatModel("qwen-key", "qwen-plus", srv.URL, WithQwenJSONOutput())
	require.NoError(t, err)
	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("hi"),
	}, model.WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, msg.Content)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, 13, msg.ResponseMeta.Usage.TotalTokens)
}

func TestQwenChatModel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"throttling"}}`))
	}))
	defer srv.Close()

	m, err := NewQwenChatModel("k", "", srv.URL)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorContains(t, err, "rate limited")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = NewQwenChatModel(" ", "", "")
	assert.Error(t, err)
}
