// Package outbox 发件箱中继：轮询 outbox_messages 表并把待发布消息投递到 RabbitMQ。
package outbox

import (
	"context"
	"io"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-matcher/internal/storage/models"
)

const (
	defaultPollingInterval = 5 * time.Second // 默认轮询间隔
	defaultBatchSize       = 10              // 每次轮询处理的消息数
	defaultMaxRetries      = 5               // 发布失败的最大重试次数
)

// Publisher 消息发布器，*storage.RabbitMQ 满足该接口
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// MessageRelay 轮询 outbox 表并将消息发布到消息代理
type MessageRelay struct {
	db              *gorm.DB
	publisher       Publisher
	logger          *log.Logger
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	done            chan struct{}
	stopped         chan struct{}
	tracer          trace.Tracer
}

// Option 中继配置
type Option func(*MessageRelay)

// WithPollingInterval 设置轮询间隔
func WithPollingInterval(d time.Duration) Option {
	return func(r *MessageRelay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 设置每批处理数量
func WithBatchSize(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxRetries 设置最大重试次数，超过后消息标记为 FAILED
func WithMaxRetries(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// NewMessageRelay 创建中继
func NewMessageRelay(db *gorm.DB, publisher Publisher, logger *log.Logger, options ...Option) *MessageRelay {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		maxRetries:      defaultMaxRetries,
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
		tracer:          otel.Tracer("resume-matcher/outbox"),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Start 在后台开始轮询
func (r *MessageRelay) Start() {
	r.logger.Println("MessageRelay 启动")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		defer close(r.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				r.logger.Println("MessageRelay 已停止")
				return
			case <-ticker.C:
				if err := r.processPendingMessages(context.Background()); err != nil {
					r.logger.Printf("处理待发布消息失败: %v", err)
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次完成
func (r *MessageRelay) Stop() {
	close(r.done)
	<-r.stopped
}

// processPendingMessages 锁定一批待发布消息，发布后在同一事务中更新状态
func (r *MessageRelay) processPendingMessages(ctx context.Context) error {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED 让多个实例可以并行中继
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	for i := range r.publishBatch(ctx, messages) {
		if err := tx.Save(&messages[i]).Error; err != nil {
			r.logger.Printf("更新outbox消息 %d 失败: %v", messages[i].ID, err)
			return err
		}
	}
	return tx.Commit().Error
}

// publishBatch 逐条发布并原地更新状态，返回处理过的消息
func (r *MessageRelay) publishBatch(ctx context.Context, messages []models.OutboxMessage) []models.OutboxMessage {
	for i := range messages {
		msg := &messages[i]
		err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if err != nil {
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			if msg.RetryCount >= r.maxRetries {
				msg.Status = models.OutboxStatusFailed
			}
			r.logger.Printf("发布消息 %d 失败 (aggregate=%s, retries=%d): %v", msg.ID, msg.AggregateID, msg.RetryCount, err)
			continue
		}
		now := time.Now()
		msg.Status = models.OutboxStatusSent
		msg.ProcessedAt = &now
		msg.ErrorMessage = ""
	}
	return messages
}
