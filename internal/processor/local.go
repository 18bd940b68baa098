package processor

import (
	"context"
	"fmt"

	"resume-matcher/internal/ranking"
	"resume-matcher/internal/scoring"
	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// RankLocal 对本地处理结果打分排序，不读写任何存储。
// 处理失败的文档列入 Missing；权重非法时整个调用失败。
func RankLocal(ctx context.Context, scorer *scoring.Scorer, aggregator *ranking.Aggregator, vocab *vocabulary.Store,
	job types.JobDescription, w types.Weights, results []DocumentResult, filter ranking.Filter) (types.RankedResult, error) {
	if err := scoring.ValidateWeights(w); err != nil {
		return types.RankedResult{}, err
	}
	if vocab != nil {
		snapshot := vocab.Snapshot()
		job.RequiredSkills = scoring.CanonicalSkills(job.RequiredSkills, snapshot)
		job.PreferredSkills = scoring.CanonicalSkills(job.PreferredSkills, snapshot)
	}

	scores := make([]types.MatchScore, 0, len(results))
	var missing []types.MissingCandidate
	for _, res := range results {
		if res.Err != nil {
			missing = append(missing, types.MissingCandidate{CandidateID: res.DocumentID, Reason: res.Err.Error()})
			continue
		}
		score, err := scorer.Score(ctx, res.DocumentID, res.Profile, job, w)
		if err != nil {
			if ctx.Err() != nil {
				return types.RankedResult{}, ctx.Err()
			}
			missing = append(missing, types.MissingCandidate{CandidateID: res.DocumentID, Reason: fmt.Sprintf("stage=%s: %v", types.StageScore, err)})
			continue
		}
		scores = append(scores, score)
	}

	result := aggregator.Rank(job.ID, scores, filter)
	result.Missing = missing
	result.Partial = len(missing) > 0
	return result, nil
}
