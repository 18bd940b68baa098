package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/config"
	"resume-matcher/internal/ranking"
	"resume-matcher/internal/testutil"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

func TestRankLocal_EndToEnd(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.Workers = 2
	vocab := vocabulary.NewStore(vocabulary.Default())

	pipeline, err := BuildPipeline(cfg, vocab, nil, nil)
	require.NoError(t, err)

	resume := testutil.BuildPDF([]testutil.PDFText{
		testutil.Line(72, 740, 20, "Jane Doe"),
		testutil.Line(72, 720, 11, "Backend engineer"),
		testutil.Line(72, 700, 14, "Skills"),
		testutil.Line(72, 680, 11, "Go, Python, SQL"),
		testutil.Line(72, 660, 11, "Docker"),
	})
	results, err := pipeline.ProcessBatch(context.Background(), []BatchDocument{
		{ID: "jane", Data: resume},
		{ID: "broken", Data: []byte("not a pdf")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Subset(t, results[0].Profile.Skills, []string{"go", "sql"})
	assert.ErrorIs(t, results[1].Err, types.ErrUnreadableDocument)

	job := types.JobDescription{
		ID:             "job-local",
		RequiredSkills: []string{"Golang", "SQL"},
		RawText:        "Go and SQL backend engineer",
	}
	result, err := RankLocal(context.Background(), BuildScorer(cfg, nil, nil), BuildAggregator(cfg, nil), vocab,
		job, types.DefaultWeights(), results, ranking.Filter{})
	require.NoError(t, err)

	all := append(append([]types.MatchScore{}, result.Ranked...), result.LowConfidence...)
	require.Len(t, all, 1)
	assert.Equal(t, "jane", all[0].CandidateID)
	assert.InDelta(t, 1.0, all[0].SubScores.SkillOverlap, 1e-9, "岗位技能经过词表规范化后全部命中")
	assert.True(t, all[0].Degraded, "没有 embedder 时语义分降级")

	require.Len(t, result.Missing, 1)
	assert.Equal(t, "broken", result.Missing[0].CandidateID)
	assert.True(t, result.Partial, "有失败文档时结果标记为不完整")
}

func TestRankLocal_InvalidWeights(t *testing.T) {
	cfg := &config.Config{}
	_, err := RankLocal(context.Background(), BuildScorer(cfg, nil, nil), BuildAggregator(cfg, nil), nil,
		types.JobDescription{ID: "j"}, types.Weights{Skill: 1, Semantic: 1}, nil, ranking.Filter{})
	assert.ErrorIs(t, err, types.ErrInvalidWeightConfiguration)
}
