package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// DefaultMaxRetries 被上游限流后的最大重试次数
	DefaultMaxRetries = 2
	// DefaultRetryWait 第一次重试前的等待，之后每次翻倍
	DefaultRetryWait = time.Second
)

// Policy 限流代理共用的重试策略
type Policy struct {
	bucket     *TokenBucket
	retryable  func(error) bool
	maxRetries int
	retryWait  time.Duration
}

// Option 限流代理选项
type Option func(*Policy)

// WithRetryOn 设置哪些错误需要退避重试，未设置时不重试
func WithRetryOn(fn func(error) bool) Option {
	return func(p *Policy) {
		p.retryable = fn
	}
}

// WithRetryPolicy 设置重试等待和最大重试次数
func WithRetryPolicy(wait time.Duration, maxRetries int) Option {
	return func(p *Policy) {
		if wait >= 0 {
			p.retryWait = wait
		}
		if maxRetries >= 0 {
			p.maxRetries = maxRetries
		}
	}
}

func newPolicy(bucket *TokenBucket, opts []Option) *Policy {
	p := &Policy{
		bucket:     bucket,
		maxRetries: DefaultMaxRetries,
		retryWait:  DefaultRetryWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// do 取得令牌后执行 fn，可重试的错误按指数退避重试
func (p *Policy) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = p.bucket.Wait(ctx); err != nil {
			return err
		}
		err = fn()
		if err == nil || p.retryable == nil || !p.retryable(err) || attempt >= p.maxRetries {
			return err
		}
		timer := time.NewTimer(p.retryWait * time.Duration(1<<uint(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ChatModel 对对话模型调用限流
type ChatModel struct {
	inner  model.BaseChatModel
	policy *Policy
}

// NewChatModel 包装对话模型，qpm 为每分钟请求上限
func NewChatModel(inner model.BaseChatModel, qpm int, opts ...Option) *ChatModel {
	return &ChatModel{inner: inner, policy: newPolicy(NewTokenBucket(qpm, 0), opts)}
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := m.policy.do(ctx, func() error {
		var err error
		out, err = m.inner.Generate(ctx, input, opts...)
		return err
	})
	return out, err
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := m.policy.do(ctx, func() error {
		var err error
		out, err = m.inner.Stream(ctx, input, opts...)
		return err
	})
	return out, err
}

// Embedder 对向量化调用限流，一次 EmbedStrings 消耗一个令牌
type Embedder struct {
	inner  embedding.Embedder
	policy *Policy
}

// NewEmbedder 包装 embedder，qpm 为每分钟请求上限
func NewEmbedder(inner embedding.Embedder, qpm int, opts ...Option) *Embedder {
	return &Embedder{inner: inner, policy: newPolicy(NewTokenBucket(qpm, 0), opts)}
}

func (e *Embedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	var out [][]float64
	err := e.policy.do(ctx, func() error {
		var err error
		out, err = e.inner.EmbedStrings(ctx, texts, opts...)
		return err
	})
	return out, err
}
