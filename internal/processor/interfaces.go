package processor

import (
	"context"
	"time"

	"resume-matcher/internal/normalizer"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/storage/models"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

//
// 流水线各阶段
//

// Decoder 将原始字节解码为带位置信息的文本块
type Decoder interface {
	Decode(ctx context.Context, docID string, data []byte) ([]types.TextBlock, error)
}

// SectionSegmenter 把文本块切分为章节
type SectionSegmenter interface {
	Segment(blocks []types.TextBlock) []types.Section
}

// EntityExtractor 抽取章节中的实体。识别能力超时时返回包装 ErrCapabilityTimeout 的错误
// 以及仅由规则层得到的实体。
type EntityExtractor interface {
	Extract(ctx context.Context, sectionIndex int, section types.Section, vocab *vocabulary.Snapshot) ([]types.ExtractedEntity, error)
}

// ProfileNormalizer 把实体归一化为候选人档案
type ProfileNormalizer interface {
	Normalize(entities []types.ExtractedEntity, vocab *vocabulary.Snapshot) (types.CandidateProfile, normalizer.Stats)
}

// TextArchiver 提取用于归档的纯文本
type TextArchiver interface {
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string, options interface{}) (string, map[string]interface{}, error)
}

//
// 存储相关接口，由 internal/storage 中的具体类型实现
//

// DocumentRepository 文档与候选人档案的持久化
type DocumentRepository interface {
	CreateDocumentWithOutbox(ctx context.Context, doc *models.Document, msg *models.OutboxMessage) error
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, documentID, status, reason string) error
	ClaimDocument(ctx context.Context, documentID string, allowed []string) (bool, error)
	SaveProfile(ctx context.Context, rec *models.CandidateProfile, status, textPath, profilePath string) error
	GetCandidateProfile(ctx context.Context, candidateID string) (*models.CandidateProfile, error)
}

// JobRepository 岗位持久化
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// MatchRepository 排序读取候选人档案并持久化排序结果
type MatchRepository interface {
	GetCandidateProfile(ctx context.Context, candidateID string) (*models.CandidateProfile, error)
	ListCandidateIDs(ctx context.Context) ([]string, error)
	SaveRankingRun(ctx context.Context, run *models.RankingRun, scores []models.MatchScore) error
}

// DedupCache 原始文件去重登记
type DedupCache interface {
	CheckAndAddRawFileMD5(ctx context.Context, md5Hex, documentID string) (bool, string, error)
	RemoveRawFileMD5(ctx context.Context, md5Hex string) error
}

// JobVectorCache JD 向量缓存
type JobVectorCache interface {
	SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error
	GetJobVector(ctx context.Context, jobID string) ([]float64, string, error)
}

// ScoreCache 打分缓存与排序互斥锁
type ScoreCache interface {
	GetMatchScore(ctx context.Context, candidateID, jobID, weightsHash string) (types.MatchScore, bool, error)
	SetMatchScore(ctx context.Context, weightsHash string, score types.MatchScore, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// CandidateIndex 候选人向量索引
type CandidateIndex = storage.VectorIndex

var (
	_ DocumentRepository    = (*storage.MySQL)(nil)
	_ JobRepository         = (*storage.MySQL)(nil)
	_ MatchRepository       = (*storage.MySQL)(nil)
	_ DedupCache            = (*storage.Redis)(nil)
	_ JobVectorCache        = (*storage.Redis)(nil)
	_ ScoreCache            = (*storage.Redis)(nil)
	_ CandidateIndex        = (*storage.CandidateVectorStore)(nil)
	_ storage.ObjectStorage = (*storage.MinIO)(nil)
)
