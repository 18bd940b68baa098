package scoring

import (
	"fmt"
	"sort"
	"strings"

	"resume-matcher/internal/types"
)

// 按条件检索时各项的权重，只有请求中提供的条件参与加权平均
const (
	criteriaSkillWeight      = 0.6
	criteriaLocationWeight   = 0.2
	criteriaExperienceWeight = 0.2
)

// Criteria 不依赖岗位的检索条件。Skills 应为词表规范化后的ID
type Criteria struct {
	Skills          []string
	ExperienceYears float64
	Location        string
}

// Empty 没有任何条件
func (c Criteria) Empty() bool {
	return len(c.Skills) == 0 && c.ExperienceYears <= 0 && strings.TrimSpace(c.Location) == ""
}

// ScoreCriteria 按检索条件给档案打分，Overall 为已提供条件的加权平均。
// 档案没有所在地时地点分为0。
func (s *Scorer) ScoreCriteria(candidateID string, profile types.CandidateProfile, c Criteria) types.MatchScore {
	var (
		sub         types.SubScores
		total, sumW float64
		lines       []string
	)

	if len(c.Skills) > 0 {
		sub.SkillOverlap = SkillOverlap(profile.Skills, c.Skills, nil)
		total += criteriaSkillWeight * sub.SkillOverlap
		sumW += criteriaSkillWeight

		have := toSet(profile.Skills)
		var matched, missing []string
		for id := range toSet(c.Skills) {
			if have[id] {
				matched = append(matched, id)
			} else {
				missing = append(missing, id)
			}
		}
		sort.Strings(matched)
		sort.Strings(missing)
		if len(matched) > 0 {
			lines = append(lines, "top matched skills: "+strings.Join(head(matched, s.topSkills), ", "))
		}
		if len(missing) > 0 {
			lines = append(lines, "top missing skills: "+strings.Join(head(missing, s.topSkills), ", "))
		}
	}

	if loc := strings.TrimSpace(c.Location); loc != "" {
		sub.LocationMatch = LocationMatch(loc, profile.Location)
		total += criteriaLocationWeight * sub.LocationMatch
		sumW += criteriaLocationWeight
		if profile.Location == "" {
			lines = append(lines, "location unknown")
		} else {
			lines = append(lines, fmt.Sprintf("location %q vs %q: %.2f", profile.Location, loc, sub.LocationMatch))
		}
	}

	if c.ExperienceYears > 0 {
		years := ExperienceYears(profile.Experience, s.now())
		sub.ExperienceFit = ExperienceFit(years, c.ExperienceYears)
		total += criteriaExperienceWeight * sub.ExperienceFit
		sumW += criteriaExperienceWeight
		lines = append(lines, fmt.Sprintf("experience %.1f years vs requested %.1f years", years, c.ExperienceYears))
	}

	overall := 0.0
	if sumW > 0 {
		overall = clamp01(total / sumW)
	}
	lines = append([]string{fmt.Sprintf("overall %.3f over %d criteria", overall, criteriaCount(c))}, lines...)
	if profile.NeedsReview {
		lines = append(lines, "profile extraction confidence is 0: flagged for review")
	}

	return types.MatchScore{
		CandidateID:          candidateID,
		Overall:              overall,
		SubScores:            sub,
		Explanation:          lines,
		ExtractionConfidence: profile.ExtractionConfidence,
	}
}

func criteriaCount(c Criteria) int {
	n := 0
	if len(c.Skills) > 0 {
		n++
	}
	if strings.TrimSpace(c.Location) != "" {
		n++
	}
	if c.ExperienceYears > 0 {
		n++
	}
	return n
}
