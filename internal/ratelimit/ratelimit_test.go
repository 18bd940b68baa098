package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errThrottled = errors.New("429 throttled")

// MockChatModel 前 failures 次调用返回 errThrottled
type MockChatModel struct {
	failures int
	calls    int
}

func (m *MockChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, errThrottled
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type MockEmbedder struct{ calls int }

func (m *MockEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	m.calls++
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(i)}
	}
	return out, nil
}

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	now := time.Unix(0, 0)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, tb.Allow(), "60 QPM 每秒补充一个令牌")
	assert.False(t, tb.Allow())

	now = now.Add(time.Hour)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "补充不超过容量")
}

func TestTokenBucket_DefaultCapacity(t *testing.T) {
	assert.Equal(t, 600.0, NewTokenBucket(1200, 0).capacity)
	assert.Equal(t, 1.0, NewTokenBucket(1, 0).capacity)
	assert.Equal(t, 1.0, NewTokenBucket(0, 0).capacity)
}

func TestTokenBucket_WaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded, "下一个令牌需要一分钟")
}

func TestChatModel_RetriesRetryableErrors(t *testing.T) {
	inner := &MockChatModel{failures: 2}
	m := NewChatModel(inner, 6000,
		WithRetryOn(func(err error) bool { return errors.Is(err, errThrottled) }),
		WithRetryPolicy(time.Millisecond, 2),
	)
	msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestChatModel_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &MockChatModel{failures: 5}
	m := NewChatModel(inner, 6000,
		WithRetryOn(func(err error) bool { return errors.Is(err, errThrottled) }),
		WithRetryPolicy(time.Millisecond, 1),
	)
	_, err := m.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, errThrottled)
	assert.Equal(t, 2, inner.calls)
}

func TestChatModel_NoRetryByDefault(t *testing.T) {
	inner := &MockChatModel{failures: 1}
	_, err := NewChatModel(inner, 6000).Generate(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestEmbedder_PassesThrough(t *testing.T) {
	inner := &MockEmbedder{}
	e := NewEmbedder(inner, 6000)
	vectors, err := e.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 1, inner.calls)
}
