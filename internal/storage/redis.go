package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"resume-matcher/internal/config"
	"resume-matcher/internal/constants"
	"resume-matcher/internal/tracing"
	"resume-matcher/internal/types"
)

// ErrCacheMiss 缓存中不存在该键
var ErrCacheMiss = redis.Nil

var redisTracer = otel.Tracer("resume-matcher/storage/redis")

// checkAndAddMD5Script 原子地检查并登记文件MD5。
// 已存在时返回 {1, 已登记的文档ID}，否则登记后返回 {0, ""}。
var checkAndAddMD5Script = redis.NewScript(`
	if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
		local owner = redis.call('GET', KEYS[2])
		if not owner then owner = '' end
		return {1, owner}
	end
	redis.call('SADD', KEYS[1], ARGV[1])
	redis.call('EXPIRE', KEYS[1], ARGV[3])
	redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
	return {0, ''}
`)

// releaseLockScript 仅当持有者匹配时删除锁
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Redis 打分缓存、JD向量缓存、文件去重和排序锁
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建 Redis 客户端并挂载 OpenTelemetry 钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// md5ExpireDuration 文件MD5登记的保留时长
func (r *Redis) md5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// CheckAndAddRawFileMD5 原子地检查文件MD5是否已登记，未登记时与 documentID 关联。
// exists 为 true 时 ownerID 是最早登记该文件的文档ID（映射过期时可能为空）。
func (r *Redis) CheckAndAddRawFileMD5(ctx context.Context, md5Hex, documentID string) (exists bool, ownerID string, err error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndAddRawFileMD5", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "EVALSHA"),
		attribute.String("db.redis.key", constants.KeyFileMD5Set),
		attribute.String("document.id", documentID),
	)

	if r.Client == nil {
		err = fmt.Errorf("redis client is not initialized")
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, "", err
	}

	keys := []string{constants.KeyFileMD5Set, fmt.Sprintf(constants.KeyFileMD5ToDocument, md5Hex)}
	res, err := checkAndAddMD5Script.Run(ctx, r.Client, keys, md5Hex, documentID, int64(r.md5ExpireDuration().Seconds())).Slice()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, "", fmt.Errorf("执行原子检查和添加操作失败: %w", err)
	}
	if len(res) != 2 {
		err = fmt.Errorf("意外的Redis返回长度: %d", len(res))
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, "", err
	}
	flag, _ := res[0].(int64)
	ownerID, _ = res[1].(string)
	exists = flag == 1

	span.SetAttributes(attribute.Bool("already_exists", exists))
	span.SetStatus(codes.Ok, "")
	return exists, ownerID, nil
}

// RemoveRawFileMD5 撤销文件MD5登记，用于上传失败时回滚
func (r *Redis) RemoveRawFileMD5(ctx context.Context, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	pipe := r.Client.TxPipeline()
	pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToDocument, md5Hex))
	_, err := pipe.Exec(ctx)
	return err
}

// SetJobVector 缓存 JD 向量及生成它的模型版本
func (r *Redis) SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	cacheKey := fmt.Sprintf(constants.KeyJobDescriptionVector, jobID)
	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, cacheKey, "vector", vectorJSON, "model_version", modelVersion)
	pipe.Expire(ctx, cacheKey, constants.JobVectorCacheDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("设置 JD 向量缓存失败: %w", err)
	}
	return nil
}

// GetJobVector 读取 JD 向量缓存，未命中时返回包装 ErrCacheMiss 的错误
func (r *Redis) GetJobVector(ctx context.Context, jobID string) ([]float64, string, error) {
	if r.Client == nil {
		return nil, "", fmt.Errorf("redis client is not initialized")
	}
	vals, err := r.Client.HMGet(ctx, fmt.Sprintf(constants.KeyJobDescriptionVector, jobID), "vector", "model_version").Result()
	if err != nil {
		return nil, "", err
	}
	if len(vals) < 2 || vals[0] == nil {
		return nil, "", fmt.Errorf("未找到JD向量缓存，jobID=%s: %w", jobID, ErrCacheMiss)
	}
	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, "", fmt.Errorf("向量缓存格式错误")
	}
	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		return nil, "", fmt.Errorf("反序列化向量失败: %w", err)
	}
	modelVersion, _ := vals[1].(string)
	return vector, modelVersion, nil
}

// GetMatchScore 读取打分缓存
func (r *Redis) GetMatchScore(ctx context.Context, candidateID, jobID, weightsHash string) (types.MatchScore, bool, error) {
	if r.Client == nil {
		return types.MatchScore{}, false, fmt.Errorf("redis client is not initialized")
	}
	raw, err := r.Client.Get(ctx, fmt.Sprintf(constants.KeyMatchScore, candidateID, jobID, weightsHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.MatchScore{}, false, nil
	}
	if err != nil {
		return types.MatchScore{}, false, err
	}
	var score types.MatchScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return types.MatchScore{}, false, fmt.Errorf("反序列化打分缓存失败: %w", err)
	}
	return score, true, nil
}

// SetMatchScore 写入打分缓存
func (r *Redis) SetMatchScore(ctx context.Context, weightsHash string, score types.MatchScore, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	raw, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("序列化打分失败: %w", err)
	}
	return r.Client.Set(ctx, fmt.Sprintf(constants.KeyMatchScore, score.CandidateID, score.JobID, weightsHash), raw, ttl).Err()
}

// AcquireLock 获取分布式锁，返回持有者标识；未获取到时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

// ReleaseLock 释放分布式锁，只有持有者能释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	released, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}
	return released == 1, nil
}
