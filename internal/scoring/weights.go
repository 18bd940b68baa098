package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"resume-matcher/internal/types"
)

const weightTolerance = 1e-9

// ValidateWeights 每个权重在 [0,1] 内且总和为1
func ValidateWeights(w types.Weights) error {
	fields := []struct {
		name  string
		value float64
	}{{"skill_weight", w.Skill}, {"semantic_weight", w.Semantic}, {"experience_weight", w.Experience}}
	for _, f := range fields {
		if math.IsNaN(f.value) || f.value < 0 || f.value > 1 {
			return types.NewInvalidWeightsError(fmt.Sprintf("%s=%v out of [0,1]", f.name, f.value))
		}
	}
	if sum := w.Skill + w.Semantic + w.Experience; math.Abs(sum-1) > weightTolerance {
		return types.NewInvalidWeightsError(fmt.Sprintf("weights sum to %v, want 1.0", sum))
	}
	return nil
}

// WeightsHash 权重配置的稳定哈希，用作分数缓存键的一部分
func WeightsHash(w types.Weights) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%.6f|%.6f|%.6f", w.Skill, w.Semantic, w.Experience)))
	return hex.EncodeToString(sum[:8])
}
