package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"resume-matcher/internal/config"
)

// Storage 聚合各存储组件。MySQL、MinIO 和 Redis 必需，RabbitMQ 和 Qdrant 可缺省。
type Storage struct {
	MinIO    *MinIO
	RabbitMQ *RabbitMQ // nil 时文档只入库不投递
	Qdrant   *Qdrant
	Vectors  *CandidateVectorStore // Qdrant 未配置时写入为空操作，搜索返回 ErrVectorDBNotConfigured
	MySQL    *MySQL
	Redis    *Redis

	logger *log.Logger
}

// NewStorage 按配置初始化存储组件，必需组件失败时关闭已建立的连接并返回错误
func NewStorage(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sub := func(prefix string) *log.Logger {
		return log.New(logger.Writer(), prefix, 0)
	}

	s := &Storage{logger: logger}
	var errs []error
	var err error
	if s.MySQL, err = NewMySQL(&cfg.MySQL); err != nil {
		errs = append(errs, fmt.Errorf("MySQL: %w", err))
	}
	if s.MinIO, err = NewMinIO(&cfg.MinIO, sub("[MinIO] ")); err != nil {
		errs = append(errs, fmt.Errorf("MinIO: %w", err))
	}
	if s.Redis, err = NewRedisAdapter(&cfg.Redis); err != nil {
		errs = append(errs, fmt.Errorf("Redis: %w", err))
	}
	if len(errs) > 0 {
		s.Close()
		return nil, fmt.Errorf("必需的存储组件初始化失败: %w", errors.Join(errs...))
	}

	if cfg.RabbitMQ.URL == "" {
		logger.Printf("RabbitMQ未配置, 文档只入库不投递")
	} else if s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, sub("[RabbitMQ] ")); err != nil {
		logger.Printf("警告: 初始化RabbitMQ失败: %v", err)
	}

	if cfg.Qdrant.Endpoint != "" {
		if s.Qdrant, err = NewQdrant(&cfg.Qdrant, WithQdrantLogger(sub("[Qdrant] "))); err != nil {
			logger.Printf("警告: 初始化Qdrant失败: %v", err)
		}
	}
	// 不能把 nil 的 *Qdrant 直接传入接口参数
	s.Vectors = NewCandidateVectorStore(nil)
	if s.Qdrant != nil {
		s.Vectors = NewCandidateVectorStore(s.Qdrant)
	}
	return s, nil
}

// Ping 返回每个已初始化组件的状态，正常为 "ok"，否则为错误信息
func (s *Storage) Ping(ctx context.Context) map[string]string {
	status := map[string]string{}
	record := func(name string, err error) {
		status[name] = "ok"
		if err != nil {
			status[name] = err.Error()
		}
	}
	if s.MySQL != nil {
		record("mysql", s.MySQL.Ping(ctx))
	}
	if s.Redis != nil {
		record("redis", s.Redis.Ping(ctx))
	}
	if s.RabbitMQ != nil {
		record("rabbitmq", s.RabbitMQ.Ping())
	}
	if s.Qdrant != nil {
		_, err := s.Qdrant.CountPoints(ctx)
		record("qdrant", err)
	}
	return status
}

// Close 关闭所有连接
func (s *Storage) Close() {
	closeOne := func(name string, fn func() error) {
		if err := fn(); err != nil {
			s.logger.Printf("关闭%s连接失败: %v", name, err)
		}
	}
	if s.RabbitMQ != nil {
		closeOne("RabbitMQ", s.RabbitMQ.Close)
	}
	if s.MySQL != nil {
		closeOne("MySQL", s.MySQL.Close)
	}
	if s.Redis != nil {
		closeOne("Redis", s.Redis.Close)
	}
}
