package processor

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/config"
	"resume-matcher/internal/ranking"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

func nopLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestLoadVocabulary(t *testing.T) {
	cfg := &config.Config{}
	store, err := LoadVocabulary(cfg, nopLogger())
	require.NoError(t, err)
	assert.Equal(t, vocabulary.DefaultVersion, store.Snapshot().Version())

	cfg.Extractor.VocabularyPath = filepath.Join(t.TempDir(), "missing.yaml")
	store, err = LoadVocabulary(cfg, nopLogger())
	require.NoError(t, err, "文件不存在时回退到内置词表")
	assert.Equal(t, vocabulary.DefaultVersion, store.Snapshot().Version())

	path := filepath.Join(t.TempDir(), "skills.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v9\nskills:\n  - id: go\n    aliases: [golang]\n"), 0o644))
	cfg.Extractor.VocabularyPath = path
	store, err = LoadVocabulary(cfg, nopLogger())
	require.NoError(t, err)
	assert.Equal(t, "v9", store.Snapshot().Version())

	require.NoError(t, os.WriteFile(path, []byte("skills: [[["), 0o644))
	_, err = LoadVocabulary(cfg, nopLogger())
	assert.Error(t, err)
}

func TestBuildComponents(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.Workers = 2
	floor := 0.2
	cfg.Ranking.ConfidenceFloor = &floor

	repo := NewMockRepository()
	redis := NewMockRedis()
	comps, err := BuildComponents(cfg, Dependencies{
		Objects:        NewMockObjectStorage(),
		Repository:     repo,
		Cache:          redis,
		Index:          &MockIndex{},
		Embedder:       &fakeEmbedder{},
		EmbeddingModel: "m1",
	}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, comps.Documents)
	assert.Same(t, comps.Vocabulary, comps.Pipeline.Vocabulary(), "流水线与岗位服务共享同一个词表")

	job, err := comps.Jobs.CreateJob(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.Contains(t, redis.vectors, job.ID)

	addProfile(t, repo, "cand-a", []string{"go", "sql"}, 0.9)
	result, err := comps.Matches.Rank(context.Background(), RankRequest{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, result.Ranked, 1)
}

func TestBuildComponents_InvalidConfiguredWeights(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scoring.Weights = types.Weights{Skill: 0.9, Semantic: 0.3, Experience: 0.2}
	_, err := BuildComponents(cfg, Dependencies{
		Objects:    NewMockObjectStorage(),
		Repository: NewMockRepository(),
		Cache:      NewMockRedis(),
		Embedder:   &fakeEmbedder{},
	}, nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidWeightConfiguration)
}

// TestBuildAggregator_ConfidenceFloorOff 配置为 0 时低可信度候选人留在主列表
func TestBuildAggregator_ConfidenceFloorOff(t *testing.T) {
	scores := []types.MatchScore{
		{CandidateID: "a", Overall: 0.8, ExtractionConfidence: 0.9},
		{CandidateID: "b", Overall: 0.7, ExtractionConfidence: 0.05},
	}

	cfg := &config.Config{}
	result := BuildAggregator(cfg, nil).Rank("job-1", scores, ranking.Filter{})
	assert.Len(t, result.Ranked, 1, "未配置时使用默认阈值")
	assert.Len(t, result.LowConfidence, 1)

	off := 0.0
	cfg.Ranking.ConfidenceFloor = &off
	result = BuildAggregator(cfg, nil).Rank("job-1", scores, ranking.Filter{})
	assert.Len(t, result.Ranked, 2)
	assert.Empty(t, result.LowConfidence)
}

func TestBuildComponents_RequiresStorage(t *testing.T) {
	_, err := BuildComponents(&config.Config{}, Dependencies{}, nil, nil)
	assert.Error(t, err)
	_, err = BuildComponents(nil, Dependencies{}, nil, nil)
	assert.Error(t, err)
}
