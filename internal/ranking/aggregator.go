// Package ranking 对同一岗位的一批匹配分进行确定性排序。
package ranking

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"resume-matcher/internal/types"
)

const (
	// DefaultConfidenceFloor 低于该抽取可信度的候选人进入低可信度分组
	DefaultConfidenceFloor = 0.2
	// DefaultBatchTimeout 等待整批分数的默认时长
	DefaultBatchTimeout = 30 * time.Second

	reasonBatchTimeout = "batch timeout"
	reasonNoScore      = "no score produced"
)

// Outcome 单个候选人的打分结果，Err 非空表示该候选人失败
type Outcome struct {
	CandidateID string
	Score       types.MatchScore
	Err         error
}

// Filter 主列表的过滤条件，不作用于低可信度分组
type Filter struct {
	MinScore float64
	Limit    int
}

// Aggregator 排序聚合器
type Aggregator struct {
	confidenceFloor float64
	batchTimeout    time.Duration
	logger          *log.Logger
}

// Option 聚合器配置
type Option func(*Aggregator)

// WithConfidenceFloor 设置低可信度阈值，0 表示关闭分组
func WithConfidenceFloor(floor float64) Option {
	return func(a *Aggregator) {
		if floor >= 0 && floor <= 1 {
			a.confidenceFloor = floor
		}
	}
}

// WithBatchTimeout 设置批次超时
func WithBatchTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.batchTimeout = d
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *log.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator 创建聚合器
func NewAggregator(options ...Option) *Aggregator {
	a := &Aggregator{
		confidenceFloor: DefaultConfidenceFloor,
		batchTimeout:    DefaultBatchTimeout,
		logger:          log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// BatchTimeout 当前配置的批次超时
func (a *Aggregator) BatchTimeout() time.Duration {
	return a.batchTimeout
}

// Less 排序规则: overall 降序，skill_overlap 降序，候选人ID升序
func Less(x, y types.MatchScore) bool {
	if x.Overall != y.Overall {
		return x.Overall > y.Overall
	}
	if x.SubScores.SkillOverlap != y.SubScores.SkillOverlap {
		return x.SubScores.SkillOverlap > y.SubScores.SkillOverlap
	}
	return x.CandidateID < y.CandidateID
}

// Rank 对完整批次排序。结果与输入顺序无关；同一候选人出现多次时保留排序更靠前的一条。
func (a *Aggregator) Rank(jobID string, scores []types.MatchScore, filter Filter) types.RankedResult {
	best := make(map[string]types.MatchScore, len(scores))
	for _, s := range scores {
		if prev, ok := best[s.CandidateID]; !ok || Less(s, prev) {
			best[s.CandidateID] = s
		}
	}

	result := types.RankedResult{
		JobID:         jobID,
		Ranked:        []types.MatchScore{},
		LowConfidence: []types.MatchScore{},
	}
	for _, s := range best {
		if s.ExtractionConfidence < a.confidenceFloor {
			result.LowConfidence = append(result.LowConfidence, s)
		} else {
			result.Ranked = append(result.Ranked, s)
		}
	}
	sortScores(result.Ranked)
	sortScores(result.LowConfidence)

	if filter.MinScore > 0 {
		kept := result.Ranked[:0]
		for _, s := range result.Ranked {
			if s.Overall >= filter.MinScore {
				kept = append(kept, s)
			}
		}
		result.Ranked = kept
	}
	if filter.Limit > 0 && len(result.Ranked) > filter.Limit {
		result.Ranked = result.Ranked[:filter.Limit]
	}
	return result
}

func sortScores(s []types.MatchScore) {
	sort.Slice(s, func(i, j int) bool { return Less(s[i], s[j]) })
}

// Collect 等待 expected 中的每个候选人都报告结果（或批次超时）后再排序。
// 超时时返回部分结果（未到达的候选人列在 Missing 中）以及包装 ErrBatchTimeout 的错误。
func (a *Aggregator) Collect(ctx context.Context, jobID string, expected []string, outcomes <-chan Outcome, filter Filter) (types.RankedResult, error) {
	pending := make(map[string]bool, len(expected))
	for _, id := range expected {
		pending[id] = true
	}

	timer := time.NewTimer(a.batchTimeout)
	defer timer.Stop()

	var (
		scores  []types.MatchScore
		missing []types.MissingCandidate
		waitErr error
	)

	failures := make(map[string]string)
loop:
	for len(pending) > 0 {
		select {
		case o, ok := <-outcomes:
			if !ok {
				break loop
			}
			if !pending[o.CandidateID] {
				a.logger.Printf("忽略批次外或重复的候选人结果: job=%s candidate=%s", jobID, o.CandidateID)
				continue
			}
			delete(pending, o.CandidateID)
			if o.Err != nil {
				failures[o.CandidateID] = o.Err.Error()
				continue
			}
			scores = append(scores, o.Score)
		case <-timer.C:
			waitErr = types.NewBatchTimeoutError(jobID, len(pending))
			break loop
		case <-ctx.Done():
			waitErr = types.NewStageError(types.StageRank, jobID, "collection aborted", ctx.Err())
			break loop
		}
	}

	for id, reason := range failures {
		missing = append(missing, types.MissingCandidate{CandidateID: id, Reason: reason})
	}
	reason := reasonNoScore
	if waitErr != nil {
		reason = reasonBatchTimeout
		if ctx.Err() != nil {
			reason = fmt.Sprintf("canceled: %v", ctx.Err())
		}
	}
	for id := range pending {
		missing = append(missing, types.MissingCandidate{CandidateID: id, Reason: reason})
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].CandidateID < missing[j].CandidateID })

	result := a.Rank(jobID, scores, filter)
	result.Missing = missing
	result.Partial = len(missing) > 0
	if waitErr != nil {
		a.logger.Printf("批次未完整到达: job=%s 已收到=%d 缺失=%d err=%v", jobID, len(scores), len(pending), waitErr)
	}
	return result, waitErr
}
