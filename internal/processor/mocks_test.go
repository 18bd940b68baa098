package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"resume-matcher/internal/constants"
	"resume-matcher/internal/normalizer"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/storage/models"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// MockDecoder 模拟解码器
type MockDecoder struct {
	blocks []types.TextBlock
	err    error
}

func (m *MockDecoder) Decode(ctx context.Context, docID string, data []byte) ([]types.TextBlock, error) {
	return m.blocks, m.err
}

// MockSegmenter 每个文本块一个章节
type MockSegmenter struct{}

func (MockSegmenter) Segment(blocks []types.TextBlock) []types.Section {
	sections := make([]types.Section, len(blocks))
	for i, b := range blocks {
		sections[i] = types.Section{Label: types.SectionSkills, Heading: fmt.Sprintf("S%d", i), Blocks: []types.TextBlock{b}}
	}
	return sections
}

// MockExtractor 按章节文本返回一个技能实体，timeouts 记录每个章节要超时的次数
type MockExtractor struct {
	mu       sync.Mutex
	timeouts map[int]int
	calls    map[int]int
	err      error
}

func (m *MockExtractor) Extract(ctx context.Context, idx int, section types.Section, vocab *vocabulary.Snapshot) ([]types.ExtractedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[int]int{}
	}
	m.calls[idx]++
	if m.err != nil {
		return nil, m.err
	}
	entities := []types.ExtractedEntity{{
		Kind:          types.EntitySkill,
		Value:         section.Text(),
		Confidence:    0.9,
		SourceSection: section.Label,
		SectionIndex:  idx,
	}}
	if m.timeouts[idx] > 0 {
		m.timeouts[idx]--
		return entities, types.NewCapabilityTimeoutError(types.StageExtract, "", "detector")
	}
	return entities, nil
}

func (m *MockExtractor) callCount(idx int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[idx]
}

// MockNormalizer 把实体原样收进档案，可信度取平均
type MockNormalizer struct {
	mu   sync.Mutex
	seen []types.ExtractedEntity
}

func (m *MockNormalizer) Normalize(entities []types.ExtractedEntity, vocab *vocabulary.Snapshot) (types.CandidateProfile, normalizer.Stats) {
	m.mu.Lock()
	m.seen = append([]types.ExtractedEntity(nil), entities...)
	m.mu.Unlock()

	var p types.CandidateProfile
	var sum float64
	for _, e := range entities {
		p.Skills = append(p.Skills, e.Value)
		sum += e.Confidence
	}
	if len(entities) > 0 {
		p.ExtractionConfidence = sum / float64(len(entities))
	}
	return p, normalizer.Stats{Input: len(entities), Contributing: len(entities)}
}

// MockArchiver 模拟纯文本提取
type MockArchiver struct {
	text string
	err  error
}

func (m *MockArchiver) ExtractTextFromBytes(ctx context.Context, data []byte, uri string, options interface{}) (string, map[string]interface{}, error) {
	return m.text, nil, m.err
}

// MockObjectStorage 内存对象存储
type MockObjectStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	profiles  map[string]types.CandidateProfile
	uploadErr error
	deleted   []string
}

func NewMockObjectStorage() *MockObjectStorage {
	return &MockObjectStorage{objects: map[string][]byte{}, profiles: map[string]types.CandidateProfile{}}
}

func (m *MockObjectStorage) UploadOriginal(ctx context.Context, documentID, fileExt string, data []byte) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	key := storage.OriginalObjectKey(documentID, fileExt)
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return key, nil
}

func (m *MockObjectStorage) GetOriginal(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	return data, nil
}

func (m *MockObjectStorage) DeleteOriginal(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *MockObjectStorage) UploadParsedText(ctx context.Context, documentID string, text string) (string, error) {
	key := storage.ArtifactObjectKey(documentID, "parsed_text.txt")
	m.mu.Lock()
	m.objects[key] = []byte(text)
	m.mu.Unlock()
	return key, nil
}

func (m *MockObjectStorage) UploadProfile(ctx context.Context, documentID string, profile types.CandidateProfile) (string, error) {
	key := storage.ArtifactObjectKey(documentID, "profile.json")
	m.mu.Lock()
	m.profiles[key] = profile
	m.mu.Unlock()
	return key, nil
}

func (m *MockObjectStorage) GetProfile(ctx context.Context, key string) (types.CandidateProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[key]
	if !ok {
		return p, types.ErrNotFound
	}
	return p, nil
}

// MockRepository 内存版 MySQL
type MockRepository struct {
	mu         sync.Mutex
	documents  map[string]*models.Document
	outbox     []*models.OutboxMessage
	profiles   map[string]*models.CandidateProfile
	jobs       map[string]*models.Job
	runs       []*models.RankingRun
	scores     [][]models.MatchScore
	createErr  error
	saveErr    error
	statusLogs []string
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		documents: map[string]*models.Document{},
		profiles:  map[string]*models.CandidateProfile{},
		jobs:      map[string]*models.Job{},
	}
}

func (m *MockRepository) CreateDocumentWithOutbox(ctx context.Context, doc *models.Document, msg *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.documents[doc.DocumentID] = doc
	m.outbox = append(m.outbox, msg)
	return nil
}

func (m *MockRepository) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return nil, fmt.Errorf("文档 %s: %w", documentID, types.ErrNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (m *MockRepository) UpdateDocumentStatus(ctx context.Context, documentID, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return types.ErrNotFound
	}
	doc.ProcessingStatus = status
	doc.FailureReason = reason
	m.statusLogs = append(m.statusLogs, status)
	return nil
}

func (m *MockRepository) ClaimDocument(ctx context.Context, documentID string, allowed []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return false, nil
	}
	for _, s := range allowed {
		if doc.ProcessingStatus == s {
			doc.ProcessingStatus = constants.StatusProcessing
			m.statusLogs = append(m.statusLogs, doc.ProcessingStatus)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) SaveProfile(ctx context.Context, rec *models.CandidateProfile, status, textPath, profilePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.profiles[rec.CandidateID] = rec
	if doc, ok := m.documents[rec.CandidateID]; ok {
		doc.ProcessingStatus = status
		doc.ParsedTextPathOSS = textPath
		doc.ProfilePathOSS = profilePath
		m.statusLogs = append(m.statusLogs, status)
	}
	return nil
}

func (m *MockRepository) GetCandidateProfile(ctx context.Context, candidateID string) (*models.CandidateProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[candidateID]
	if !ok {
		return nil, fmt.Errorf("候选人 %s: %w", candidateID, types.ErrNotFound)
	}
	return p, nil
}

func (m *MockRepository) ListCandidateIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockRepository) SaveRankingRun(ctx context.Context, run *models.RankingRun, scores []models.MatchScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	m.scores = append(m.scores, scores)
	return nil
}

func (m *MockRepository) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
	return nil
}

func (m *MockRepository) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("岗位 %s: %w", jobID, types.ErrNotFound)
	}
	return j, nil
}

// MockRedis 内存版去重、向量缓存、打分缓存
type MockRedis struct {
	mu      sync.Mutex
	md5s    map[string]string
	vectors map[string][]float64
	scores  map[string]types.MatchScore
	locks   map[string]string
	hits    int
}

func NewMockRedis() *MockRedis {
	return &MockRedis{
		md5s:    map[string]string{},
		vectors: map[string][]float64{},
		scores:  map[string]types.MatchScore{},
		locks:   map[string]string{},
	}
}

func (m *MockRedis) CheckAndAddRawFileMD5(ctx context.Context, md5Hex, documentID string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.md5s[md5Hex]; ok {
		return true, owner, nil
	}
	m.md5s[md5Hex] = documentID
	return false, "", nil
}

func (m *MockRedis) RemoveRawFileMD5(ctx context.Context, md5Hex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.md5s, md5Hex)
	return nil
}

func (m *MockRedis) SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[jobID] = vector
	return nil
}

func (m *MockRedis) GetJobVector(ctx context.Context, jobID string) ([]float64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vectors[jobID]
	if !ok {
		return nil, "", fmt.Errorf("岗位向量 %s: %w", jobID, storage.ErrCacheMiss)
	}
	return v, "mock", nil
}

func scoreKey(candidateID, jobID, hash string) string {
	return candidateID + "|" + jobID + "|" + hash
}

func (m *MockRedis) GetMatchScore(ctx context.Context, candidateID, jobID, weightsHash string) (types.MatchScore, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[scoreKey(candidateID, jobID, weightsHash)]
	if ok {
		m.hits++
	}
	return s, ok, nil
}

func (m *MockRedis) SetMatchScore(ctx context.Context, weightsHash string, score types.MatchScore, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[scoreKey(score.CandidateID, score.JobID, weightsHash)] = score
	return nil
}

func (m *MockRedis) AcquireLock(ctx context.Context, key string, exp time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return "", nil
	}
	m.locks[key] = "token"
	return "token", nil
}

func (m *MockRedis) ReleaseLock(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] != value {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// MockIndex 模拟候选人向量索引
type MockIndex struct {
	mu      sync.Mutex
	upserts map[string][]float64
	results []storage.SearchResult
	err     error
}

func (m *MockIndex) UpsertCandidate(ctx context.Context, vector []float64, payload storage.CandidatePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upserts == nil {
		m.upserts = map[string][]float64{}
	}
	m.upserts[payload.CandidateID] = vector
	return m.err
}

func (m *MockIndex) SearchCandidates(ctx context.Context, vector []float64, limit int) ([]storage.SearchResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.results) > limit {
		return m.results[:limit], nil
	}
	return m.results, nil
}

// fakeEmbedder 根据文本中关键词生成确定性的向量
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := []float64{1, 0, 0, 0}
		if len(t)%2 == 1 {
			v = []float64{0.8, 0.6, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}
