package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"resume-matcher/internal/config"
	"resume-matcher/internal/constants"
	"resume-matcher/internal/types"
)

// ObjectStorage 文档对象存储接口
type ObjectStorage interface {
	// UploadOriginal 上传原始文档，返回对象键
	UploadOriginal(ctx context.Context, documentID, fileExt string, data []byte) (string, error)
	// GetOriginal 下载原始文档
	GetOriginal(ctx context.Context, objectKey string) ([]byte, error)
	// DeleteOriginal 删除原始文档
	DeleteOriginal(ctx context.Context, objectKey string) error

	// 解析产物
	UploadParsedText(ctx context.Context, documentID string, text string) (string, error)
	UploadProfile(ctx context.Context, documentID string, profile types.CandidateProfile) (string, error)
	GetProfile(ctx context.Context, objectKey string) (types.CandidateProfile, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	originalBucket  string
	artifactsBucket string
	logger          *log.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] 初始化客户端 endpoint=%s originals=%s artifacts=%s", cfg.Endpoint, cfg.OriginalsBucket, cfg.ArtifactsBucket)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		originalBucket:  cfg.OriginalsBucket,
		artifactsBucket: cfg.ArtifactsBucket,
		logger:          logger,
	}

	ctx := context.Background()
	if err := m.ensureBucketExists(ctx, m.originalBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保原始文档存储桶 %s 存在失败: %w", m.originalBucket, err)
	}
	if err := m.ensureBucketExists(ctx, m.artifactsBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保解析产物存储桶 %s 存在失败: %w", m.artifactsBucket, err)
	}

	if cfg.OriginalFileExpireDays > 0 || cfg.ArtifactExpireDays > 0 {
		if err := m.setupLifecycleRules(ctx); err != nil {
			logger.Printf("[MinIO] 警告: 设置生命周期规则失败: %v", err)
		}
	}
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	m.logger.Printf("[MinIO] 存储桶 %s 不存在，正在创建", bucketName)
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	return nil
}

// setupLifecycleRules 设置对象生命周期规则
func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	if m.cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalBucket, "expire-originals", m.cfg.OriginalFileExpireDays); err != nil {
			return fmt.Errorf("为存储桶 %s 设置生命周期失败: %w", m.originalBucket, err)
		}
	}
	if m.cfg.ArtifactExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.artifactsBucket, "expire-artifacts", m.cfg.ArtifactExpireDays); err != nil {
			return fmt.Errorf("为存储桶 %s 设置生命周期失败: %w", m.artifactsBucket, err)
		}
	}
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lc)
}

// OriginalObjectKey 原始文档的对象键: documents/{documentID}/original{ext}
func OriginalObjectKey(documentID, fileExt string) string {
	return path.Join("documents", documentID, "original"+strings.ToLower(fileExt))
}

// ArtifactObjectKey 解析产物的对象键: documents/{documentID}/{name}
func ArtifactObjectKey(documentID, name string) string {
	return path.Join("documents", documentID, name)
}

func (m *MinIO) put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s/%s 失败: %w", bucket, objectKey, err)
	}
	return nil
}

func (m *MinIO) get(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucket, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("对象 %s/%s: %w", bucket, objectKey, types.ErrNotFound)
		}
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucket, objectKey, err)
	}
	return data, nil
}

// UploadOriginal 上传原始文档到 originals 存储桶
func (m *MinIO) UploadOriginal(ctx context.Context, documentID, fileExt string, data []byte) (string, error) {
	objectKey := OriginalObjectKey(documentID, fileExt)
	if err := m.put(ctx, m.originalBucket, objectKey, data, getContentType(fileExt)); err != nil {
		return "", err
	}
	m.logger.Printf("[MinIO] 原始文档已上传 document=%s key=%s size=%d", documentID, objectKey, len(data))
	return objectKey, nil
}

// GetOriginal 下载原始文档
func (m *MinIO) GetOriginal(ctx context.Context, objectKey string) ([]byte, error) {
	return m.get(ctx, m.originalBucket, objectKey)
}

// DeleteOriginal 删除原始文档，用于入库失败时回滚
func (m *MinIO) DeleteOriginal(ctx context.Context, objectKey string) error {
	if err := m.client.RemoveObject(ctx, m.originalBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// UploadParsedText 上传解析出的纯文本
func (m *MinIO) UploadParsedText(ctx context.Context, documentID string, text string) (string, error) {
	objectKey := ArtifactObjectKey(documentID, constants.ObjectParsedText)
	if err := m.put(ctx, m.artifactsBucket, objectKey, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return objectKey, nil
}

// UploadProfile 以 JSON 形式上传候选人档案
func (m *MinIO) UploadProfile(ctx context.Context, documentID string, profile types.CandidateProfile) (string, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("序列化候选人档案失败: %w", err)
	}
	objectKey := ArtifactObjectKey(documentID, constants.ObjectProfileJSON)
	if err := m.put(ctx, m.artifactsBucket, objectKey, data, "application/json"); err != nil {
		return "", err
	}
	return objectKey, nil
}

// GetProfile 读取候选人档案
func (m *MinIO) GetProfile(ctx context.Context, objectKey string) (types.CandidateProfile, error) {
	var profile types.CandidateProfile
	data, err := m.get(ctx, m.artifactsBucket, objectKey)
	if err != nil {
		return profile, err
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("反序列化候选人档案失败: %w", err)
	}
	return profile, nil
}

// 获取内容类型
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
