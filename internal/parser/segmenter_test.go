package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-matcher/internal/types"
)

func block(text string, size float64) types.TextBlock {
	return types.TextBlock{Text: text, Page: 1, FontSize: size}
}

func TestSegmenter_Sections(t *testing.T) {
	blocks := []types.TextBlock{
		block("Jane Doe", 20),
		block("Backend engineer", 11),
		block("Experience", 14),
		block("Acme Corp, Senior Engineer", 11),
		block("Jan 2018 - Present", 11),
		block("Skills:", 14),
		block("Go, Python, SQL", 11),
		block("ÉDUCATION", 14),
		block("MIT, BSc Computer Science, 2016", 11),
	}

	sections := NewSegmenter().Segment(blocks)
	require.Len(t, sections, 4)

	assert.Equal(t, types.SectionSummary, sections[0].Label, "第一个标题之前的内容归入 summary")
	assert.Len(t, sections[0].Blocks, 2)

	assert.Equal(t, types.SectionExperience, sections[1].Label)
	assert.Equal(t, "Experience", sections[1].Heading)
	assert.Len(t, sections[1].Blocks, 3, "标题块属于它开启的章节")

	assert.Equal(t, types.SectionSkills, sections[2].Label)
	assert.Equal(t, types.SectionEducation, sections[3].Label)

	total := 0
	for _, s := range sections {
		total += len(s.Blocks)
	}
	assert.Equal(t, len(blocks), total, "章节必须完整划分所有文本块")
}

func TestSegmenter_NoHeadings(t *testing.T) {
	blocks := []types.TextBlock{
		block("Jane Doe", 11),
		block("jane@example.com", 11),
		block("I have worked on many things", 11),
	}
	sections := NewSegmenter().Segment(blocks)
	require.Len(t, sections, 1)
	assert.Equal(t, types.SectionOther, sections[0].Label)
	assert.Equal(t, blocks, sections[0].Blocks)
}

func TestSegmenter_HeadingWordInBodyTextIsIgnored(t *testing.T) {
	// 正文字号的 "experience" 不是标题
	blocks := []types.TextBlock{
		block("Summary", 16),
		block("experience", 11),
		block("lots of it", 11),
		block("more body text", 11),
	}
	sections := NewSegmenter().Segment(blocks)
	require.Len(t, sections, 1)
	assert.Equal(t, types.SectionSummary, sections[0].Label)
	assert.Len(t, sections[0].Blocks, 4)
}

func TestSegmenter_AllCapsHeadingInSingleFontDocument(t *testing.T) {
	blocks := []types.TextBlock{
		block("Jane Doe", 11),
		block("WORK HISTORY", 11),
		block("Acme Corp", 11),
	}
	sections := NewSegmenter().Segment(blocks)
	require.Len(t, sections, 2)
	assert.Equal(t, types.SectionSummary, sections[0].Label)
	assert.Equal(t, types.SectionExperience, sections[1].Label)
}

func TestSegmenter_CustomHeadings(t *testing.T) {
	seg := NewSegmenter(
		WithHeadingFontRatio(1.5),
		WithSectionHeadings(map[string]types.SectionLabel{"Berufserfahrung": types.SectionExperience}),
	)
	blocks := []types.TextBlock{
		block("Berufserfahrung", 18),
		block("Skills", 12), // 1.09倍，低于阈值，且不是全大写
		block("body", 11),
	}
	sections := seg.Segment(blocks)
	require.Len(t, sections, 1)
	assert.Equal(t, types.SectionExperience, sections[0].Label)
}

func TestSegmenter_Empty(t *testing.T) {
	assert.Empty(t, NewSegmenter().Segment(nil))
}

func TestNormalizeHeading(t *testing.T) {
	assert.Equal(t, "work experience", NormalizeHeading("  WORK-EXPERIENCE: "))
	assert.Equal(t, "education", NormalizeHeading("Éducation"))
	assert.Equal(t, "skills and technologies", NormalizeHeading("Skills & Technologies"))
}
