package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"resume-matcher/internal/config"
	"resume-matcher/internal/tracing"
)

// ErrPermanentFailure 处理函数返回该错误时消息直接丢弃，不再重新入队
var ErrPermanentFailure = errors.New("permanent message failure")

var mqTracer = otel.Tracer("resume-matcher/storage/rabbitmq")

// MessageHandler 消费者处理函数，返回 nil 时确认消息
type MessageHandler func(ctx context.Context, body []byte) error

// RabbitMQ 文档处理队列的发布与消费
type RabbitMQ struct {
	conn     *amqp.Connection
	channels sync.Pool
	cfg      *config.RabbitMQConfig
	logger   *log.Logger

	mu       sync.Mutex
	declared map[string]struct{} // 已声明的 exchange/queue/binding

	publishMu sync.Mutex
}

// NewRabbitMQ 连接 broker 并确认可以打开通道
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *log.Logger) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}
	r := &RabbitMQ{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		declared: make(map[string]struct{}),
	}

	ch, err := r.channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.release(ch)
	logger.Printf("成功连接到RabbitMQ服务器")
	return r, nil
}

// channel 优先复用池中未关闭的通道
func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	for {
		v := r.channels.Get()
		if v == nil {
			break
		}
		if ch := v.(*amqp.Channel); !ch.IsClosed() {
			return ch, nil
		}
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("无法获取RabbitMQ通道: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) release(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channels.Put(ch)
	}
}

// Ping 连接已关闭时返回错误
func (r *RabbitMQ) Ping() error {
	if r.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// declare 同一 key 只执行一次声明
func (r *RabbitMQ) declare(key string, fn func(ch *amqp.Channel) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[key]; ok {
		return nil
	}
	ch, err := r.channel()
	if err != nil {
		return err
	}
	defer r.release(ch)
	if err := fn(ch); err != nil {
		return err
	}
	r.declared[key] = struct{}{}
	r.logger.Printf("已声明 %s", key)
	return nil
}

// SetupDocumentTopology 声明文档处理所需的交换机、队列和绑定，均为持久化
func (r *RabbitMQ) SetupDocumentTopology() error {
	exchange, queue, key := r.cfg.DocumentsExchange, r.cfg.ProcessQueue, r.cfg.ProcessRoutingKey
	if exchange == "" || queue == "" {
		return fmt.Errorf("exchange和队列名称不能为空")
	}

	err := r.declare("exchange:"+exchange, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil)
	})
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}
	err = r.declare("queue:"+queue, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}
	err = r.declare(fmt.Sprintf("binding:%s:%s:%s", exchange, queue, key), func(ch *amqp.Channel) error {
		return ch.QueueBind(queue, key, exchange, false, nil)
	})
	if err != nil {
		return fmt.Errorf("绑定队列失败: %w", err)
	}
	return nil
}

// PublishMessage 发布 JSON 消息，并把当前追踪上下文写入消息头
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	ctx, span := mqTracer.Start(ctx, "RabbitMQ.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		semconv.MessagingSystemKey.String("rabbitmq"),
		semconv.MessagingDestinationName(exchangeName),
		semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
		attribute.Int("messaging.message.body.size", len(message)),
	)

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	ch, err := r.channel()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return err
	}
	defer r.release(ch)

	msg := amqp.Publishing{
		Headers:      amqp.Table{},
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Body:         message,
		Timestamp:    time.Now(),
	}
	if persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(msg.Headers))

	if err := ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, msg); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布消息失败: %w", err)
	}
	return nil
}

// StartConsumer 启动 workers 个消费协程处理队列消息。
// ctx 取消后停止消费，返回的通道在所有协程退出后关闭。
func (r *RabbitMQ) StartConsumer(ctx context.Context, queueName string, prefetchCount, workers int, handler MessageHandler) (<-chan struct{}, error) {
	if workers <= 0 {
		workers = 1
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("无法获取RabbitMQ通道: %w", err)
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}
	// 手动确认，消费者标签由 server 生成
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						r.logger.Printf("RabbitMQ投递通道已关闭: %s", queueName)
						return
					}
					r.handleDelivery(ctx, queueName, d, handler)
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		ch.Close()
		r.logger.Printf("RabbitMQ消费者已停止: %s", queueName)
		close(done)
	}()

	r.logger.Printf("RabbitMQ消费者已启动，队列: %s, 预取数量: %d, 并发: %d", queueName, prefetchCount, workers)
	return done, nil
}

// handleDelivery 处理单条消息。
// 成功时确认；永久失败或已重投过的消息直接丢弃；其余失败重新入队一次。
func (r *RabbitMQ) handleDelivery(ctx context.Context, queueName string, d amqp.Delivery, handler MessageHandler) {
	if d.Headers != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(d.Headers))
	}
	ctx, span := mqTracer.Start(ctx, "RabbitMQ.Consume", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		semconv.MessagingSystemKey.String("rabbitmq"),
		attribute.String("messaging.source.name", queueName),
		attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
	)

	err := handler(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			r.logger.Printf("确认消息失败: %v", ackErr)
		}
		return
	}

	requeue := !d.Redelivered && !errors.Is(err, ErrPermanentFailure)
	tracing.RecordNack(span, d.MessageId, err, requeue)
	r.logger.Printf("消息处理失败 (requeue=%v): %v", requeue, err)
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		r.logger.Printf("拒绝消息失败: %v", nackErr)
	}
}

// amqpHeaderCarrier 让 amqp.Table 满足 propagation.TextMapCarrier
type amqpHeaderCarrier amqp.Table

var _ propagation.TextMapCarrier = amqpHeaderCarrier{}

func (c amqpHeaderCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c amqpHeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
