package tracing

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-matcher/internal/types"
)

// ErrorType 写入 span 的 error.type 属性
type ErrorType string

const (
	ErrorTypeHTTP        ErrorType = "http"
	ErrorTypeDB          ErrorType = "db"
	ErrorTypeRedis       ErrorType = "redis"
	ErrorTypeRabbitMQ    ErrorType = "rabbitmq"
	ErrorTypeVectorDB    ErrorType = "vector_db"
	ErrorTypeObjectStore ErrorType = "object_store"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeDocument    ErrorType = "document"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeInternal    ErrorType = "internal"
)

// RecordError 记录错误并把 span 置为失败
func RecordError(span trace.Span, err error, errorType ErrorType, extra ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.type", string(errorType)))
	if len(extra) > 0 {
		span.SetAttributes(extra...)
	}
	span.SetStatus(codes.Error, Truncate(err.Error(), DefaultMaxLength))
}

// RecordStageError 按领域错误分类记录，并带上出错的流水线阶段
func RecordStageError(span trace.Span, err error) {
	if err == nil {
		return
	}
	var extra []attribute.KeyValue
	if stage := types.StageOf(err); stage != "" {
		extra = append(extra, attribute.String("pipeline.stage", string(stage)))
	}
	RecordError(span, err, ClassifyError(err), extra...)
}

// ClassifyError 领域错误到 ErrorType 的映射，未知错误归为 internal
func ClassifyError(err error) ErrorType {
	switch {
	case errors.Is(err, types.ErrEmptyDocument),
		errors.Is(err, types.ErrUnreadableDocument),
		errors.Is(err, types.ErrUnsupportedFormat),
		errors.Is(err, types.ErrDuplicateDocument):
		return ErrorTypeDocument
	case errors.Is(err, types.ErrInvalidWeightConfiguration),
		errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, types.ErrDocumentTooLarge):
		return ErrorTypeValidation
	case errors.Is(err, types.ErrNotFound):
		return ErrorTypeDB
	case errors.Is(err, types.ErrCapabilityTimeout), errors.Is(err, types.ErrBatchTimeout):
		return ErrorTypeTimeout
	}
	return ErrorTypeInternal
}

// RecordHTTPStatus 记录下游 HTTP 接口返回的非 2xx 状态
func RecordHTTPStatus(span trace.Span, err error, status int) {
	class := "server_error"
	if status < 500 {
		class = "client_error"
	}
	RecordError(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", status),
		attribute.String("error.category", class),
	)
}

// RecordNack 记录消息处理失败后被 nack
func RecordNack(span trace.Span, messageID string, err error, requeue bool) {
	RecordError(span, err, ErrorTypeRabbitMQ,
		attribute.String("messaging.message_id", messageID),
		attribute.Bool("messaging.requeue", requeue),
	)
}
