package storage

import (
	"context"
	"errors"
)

// ErrVectorDBNotConfigured 未配置向量库
var ErrVectorDBNotConfigured = errors.New("vector database not configured")

// VectorIndex 候选人向量索引
type VectorIndex interface {
	UpsertCandidate(ctx context.Context, vector []float64, payload CandidatePayload) error
	SearchCandidates(ctx context.Context, queryVector []float64, limit int) ([]SearchResult, error)
}

var _ VectorIndex = (*Qdrant)(nil)

// CandidateVectorStore 在未配置向量库时让写入成为空操作，搜索返回 ErrVectorDBNotConfigured
type CandidateVectorStore struct {
	VectorDB VectorIndex
}

// NewCandidateVectorStore 创建候选人向量存储，vectorDB 可以为 nil
func NewCandidateVectorStore(vectorDB VectorIndex) *CandidateVectorStore {
	return &CandidateVectorStore{VectorDB: vectorDB}
}

// Enabled 是否配置了向量库
func (s *CandidateVectorStore) Enabled() bool {
	return s != nil && s.VectorDB != nil
}

// UpsertCandidate 写入候选人向量
func (s *CandidateVectorStore) UpsertCandidate(ctx context.Context, vector []float64, payload CandidatePayload) error {
	if !s.Enabled() || len(vector) == 0 {
		return nil
	}
	return s.VectorDB.UpsertCandidate(ctx, vector, payload)
}

// SearchCandidates 搜索相似候选人
func (s *CandidateVectorStore) SearchCandidates(ctx context.Context, queryVector []float64, limit int) ([]SearchResult, error) {
	if !s.Enabled() {
		return nil, ErrVectorDBNotConfigured
	}
	return s.VectorDB.SearchCandidates(ctx, queryVector, limit)
}
