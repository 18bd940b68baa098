package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// MockDetector 可编程的识别能力
type MockDetector struct {
	DetectFunc func(ctx context.Context, text string) ([]types.Detection, error)
	calls      int
}

func (m *MockDetector) Detect(ctx context.Context, text string) ([]types.Detection, error) {
	m.calls++
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, text)
	}
	return nil, nil
}

func section(label types.SectionLabel, lines ...string) types.Section {
	s := types.Section{Label: label}
	for _, l := range lines {
		s.Blocks = append(s.Blocks, types.TextBlock{Text: l, Page: 1, FontSize: 11})
	}
	return s
}

func byKind(entities []types.ExtractedEntity, kind types.EntityKind) []types.ExtractedEntity {
	var out []types.ExtractedEntity
	for _, e := range entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func values(entities []types.ExtractedEntity) []string {
	var out []string
	for _, e := range entities {
		out = append(out, e.Value)
	}
	return out
}

func TestExtract_ContactRules(t *testing.T) {
	ex := New(nil)
	sec := section(types.SectionContact, "Jane Doe", "Email: Jane.Doe@Example.com | (201) 555-0123", "Worked 2018 - 2020")

	entities, err := ex.Extract(context.Background(), 0, sec, vocabulary.Default())
	require.NoError(t, err)

	emails := byKind(entities, types.EntityEmail)
	require.Len(t, emails, 1)
	assert.Equal(t, "jane.doe@example.com", emails[0].Value)
	assert.Equal(t, 1.0, emails[0].Confidence, "正则命中的邮箱可信度固定为1.0")

	phones := byKind(entities, types.EntityPhone)
	require.Len(t, phones, 1, "日期区间不应被识别为电话")
	assert.Equal(t, "+12015550123", phones[0].Value)
	assert.Equal(t, 1.0, phones[0].Confidence)

	names := byKind(entities, types.EntityName)
	require.Len(t, names, 1)
	assert.Equal(t, "Jane Doe", names[0].Value)

	for _, e := range entities {
		assert.Equal(t, types.SectionContact, e.SourceSection)
		assert.Equal(t, 0, e.SectionIndex)
	}
}

func TestExtract_SkillVocabularyFuzzy(t *testing.T) {
	ex := New(nil)
	sec := section(types.SectionSkills, "Skills", "Pyhton, Kubernetis, Machine Learning, pxtxxn, Go")

	entities, err := ex.Extract(context.Background(), 2, sec, vocabulary.Default())
	require.NoError(t, err)

	skills := byKind(entities, types.EntitySkill)
	assert.ElementsMatch(t, []string{"python", "kubernetes", "machine learning", "go"}, values(skills))
	for _, s := range skills {
		switch s.Value {
		case "python":
			assert.InDelta(t, 1-2.0/7.0, s.Confidence, 1e-9)
		case "go", "machine learning":
			assert.Equal(t, 1.0, s.Confidence)
		}
	}
}

func TestExtract_FuzzyOnlyInSkillSections(t *testing.T) {
	ex := New(nil)
	sec := section(types.SectionExperience, "Fixed a dockr image and wrote Python")
	entities, err := ex.Extract(context.Background(), 1, sec, vocabulary.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, values(byKind(entities, types.EntitySkill)))
}

func TestExtract_ModelDetectionsMergedWithRules(t *testing.T) {
	text := "Acme Corp, Senior Engineer\nJan 2018 - Present\nBuilt services in Golang and SQL"
	det := &MockDetector{DetectFunc: func(ctx context.Context, got string) ([]types.Detection, error) {
		require.Equal(t, text, got)
		i := strings.Index(got, "Golang")
		return []types.Detection{
			{Span: types.Span{Start: i, End: i + len("Golang")}, Kind: types.EntitySkill, Confidence: 0.8},
			{Span: types.Span{Start: 0, End: 9}, Kind: types.EntityOrganization, Confidence: 1.7},
			{Span: types.Span{Start: 5, End: 500}, Kind: types.EntitySkill, Confidence: 0.9},
			{Span: types.Span{Start: 0, End: 4}, Kind: "hobby", Confidence: 0.9},
		}, nil
	}}
	ex := New(det)
	sec := section(types.SectionExperience, strings.Split(text, "\n")...)

	entities, err := ex.Extract(context.Background(), 1, sec, vocabulary.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, det.calls)

	skills := byKind(entities, types.EntitySkill)
	// 模型已识别 Golang，规则层只补充 SQL
	assert.ElementsMatch(t, []string{"Golang", "sql"}, values(skills))

	orgs := byKind(entities, types.EntityOrganization)
	require.NotEmpty(t, orgs)
	assert.Equal(t, "Acme Corp", orgs[0].Value)
	assert.Equal(t, 1.0, orgs[0].Confidence, "可信度被截断到[0,1]")

	titles := byKind(entities, types.EntityTitle)
	require.Len(t, titles, 1)
	assert.Equal(t, "Senior Engineer", titles[0].Value)

	dates := byKind(entities, types.EntityDateRange)
	require.Len(t, dates, 1)
	assert.Equal(t, "Jan 2018 - Present", dates[0].Value)

	for i := 1; i < len(entities); i++ {
		assert.LessOrEqual(t, entities[i-1].Offset, entities[i].Offset, "实体按出现位置排序")
	}
}

func TestExtract_EducationLayout(t *testing.T) {
	ex := New(nil)
	sec := section(types.SectionEducation, "Education", "MIT, BSc Computer Science, 2016")
	entities, err := ex.Extract(context.Background(), 3, sec, vocabulary.Default())
	require.NoError(t, err)

	assert.Equal(t, []string{"MIT"}, values(byKind(entities, types.EntityOrganization)))
	assert.Equal(t, []string{"BSc Computer Science"}, values(byKind(entities, types.EntityDegree)))
	assert.Equal(t, []string{"2016"}, values(byKind(entities, types.EntityDateRange)))
}

func TestExtract_Location(t *testing.T) {
	ex := New(nil)

	sec := section(types.SectionSummary, "Jane Doe", "Berlin, Germany | jane@example.com", "Backend engineer")
	entities, err := ex.Extract(context.Background(), 0, sec, vocabulary.Default())
	require.NoError(t, err)
	locs := byKind(entities, types.EntityLocation)
	require.Len(t, locs, 1)
	assert.Equal(t, "Berlin, Germany", locs[0].Value)
	assert.Equal(t, strings.Index(sec.Text(), "Berlin"), locs[0].Offset)

	// 带标签的地点在任何章节都识别，值截断到下一个分隔符
	sec = section(types.SectionExperience, "Location: San Francisco, CA | Remote OK")
	entities, err = ex.Extract(context.Background(), 2, sec, vocabulary.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"San Francisco, CA"}, values(byKind(entities, types.EntityLocation)))
	assert.Equal(t, 0.8, byKind(entities, types.EntityLocation)[0].Confidence)

	// 非开头章节中的 "A, B" 不是地点
	sec = section(types.SectionSummary, "Senior Engineer, Platform Team")
	entities, err = ex.Extract(context.Background(), 3, sec, vocabulary.Default())
	require.NoError(t, err)
	assert.Empty(t, byKind(entities, types.EntityLocation))
}

func TestExtract_DetectorTimeout(t *testing.T) {
	det := &MockDetector{DetectFunc: func(ctx context.Context, text string) ([]types.Detection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ex := New(det, WithDetectTimeout(10*time.Millisecond))
	sec := section(types.SectionContact, "reach me at a@b.io")

	entities, err := ex.Extract(context.Background(), 0, sec, vocabulary.Default())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCapabilityTimeout))
	assert.Equal(t, []string{"a@b.io"}, values(byKind(entities, types.EntityEmail)), "超时时仍返回规则层结果")
}

func TestExtract_DetectorFailureFallsBackToRules(t *testing.T) {
	det := &MockDetector{DetectFunc: func(ctx context.Context, text string) ([]types.Detection, error) {
		return nil, errors.New("model unavailable")
	}}
	ex := New(det)
	entities, err := ex.Extract(context.Background(), 0, section(types.SectionSkills, "Docker"), vocabulary.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"docker"}, values(byKind(entities, types.EntitySkill)))
}

func TestExtract_ParentContextCanceled(t *testing.T) {
	det := &MockDetector{DetectFunc: func(ctx context.Context, text string) ([]types.Detection, error) {
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(det).Extract(ctx, 0, section(types.SectionSkills, "Docker"), vocabulary.Default())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtract_EmptySection(t *testing.T) {
	det := &MockDetector{}
	entities, err := New(det).Extract(context.Background(), 0, section(types.SectionOther, "   "), vocabulary.Default())
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, 0, det.calls)
}

func TestExtract_NoVocabulary(t *testing.T) {
	entities, err := New(nil).Extract(context.Background(), 1, section(types.SectionSkills, "Go, Python"), nil)
	require.NoError(t, err)
	assert.Empty(t, byKind(entities, types.EntitySkill))
}
