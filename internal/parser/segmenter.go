package parser

import (
	"sort"
	"strings"
	"unicode"

	"resume-matcher/internal/types"
	"resume-matcher/internal/vocabulary"
)

// DefaultHeadingFontRatio 标题字号相对文档字号中位数的最小倍数
const DefaultHeadingFontRatio = 1.15

// 单字体文档中全大写的短行也视为标题候选
const maxCapsHeadingWords = 4

// DefaultSectionHeadings 规范化后的章节标题词表
var DefaultSectionHeadings = map[string]types.SectionLabel{
	"contact":                 types.SectionContact,
	"contact information":     types.SectionContact,
	"contact info":            types.SectionContact,
	"personal information":    types.SectionContact,
	"personal details":        types.SectionContact,
	"skills":                  types.SectionSkills,
	"technical skills":        types.SectionSkills,
	"core competencies":       types.SectionSkills,
	"technologies":            types.SectionSkills,
	"skills and technologies": types.SectionSkills,
	"experience":              types.SectionExperience,
	"work experience":         types.SectionExperience,
	"work history":            types.SectionExperience,
	"employment":              types.SectionExperience,
	"employment history":      types.SectionExperience,
	"professional experience": types.SectionExperience,
	"education":               types.SectionEducation,
	"academic background":     types.SectionEducation,
	"qualifications":          types.SectionEducation,
	"education and training":  types.SectionEducation,
	"summary":                 types.SectionSummary,
	"profile":                 types.SectionSummary,
	"professional summary":    types.SectionSummary,
	"objective":               types.SectionSummary,
	"about me":                types.SectionSummary,
}

// Segmenter 按标题把文本块切分为章节
type Segmenter struct {
	headingRatio float64
	headings     map[string]types.SectionLabel
}

// SegmenterOption 章节切分器的配置选项
type SegmenterOption func(*Segmenter)

// WithHeadingFontRatio 设置标题字号阈值
func WithHeadingFontRatio(ratio float64) SegmenterOption {
	return func(s *Segmenter) {
		if ratio > 0 {
			s.headingRatio = ratio
		}
	}
}

// WithSectionHeadings 追加或覆盖标题词表，键会先做规范化
func WithSectionHeadings(headings map[string]types.SectionLabel) SegmenterOption {
	return func(s *Segmenter) {
		for k, v := range headings {
			s.headings[NormalizeHeading(k)] = v
		}
	}
}

// NewSegmenter 创建章节切分器
func NewSegmenter(options ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		headingRatio: DefaultHeadingFontRatio,
		headings:     make(map[string]types.SectionLabel, len(DefaultSectionHeadings)),
	}
	for k, v := range DefaultSectionHeadings {
		s.headings[k] = v
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Segment 切分文本块。第一个标题之前的内容归入 summary；
// 一个标题都没有识别到时整篇文档作为单个 other 章节返回。
func (s *Segmenter) Segment(blocks []types.TextBlock) []types.Section {
	if len(blocks) == 0 {
		return nil
	}

	median := medianFontSize(blocks)
	var sections []types.Section
	var current *types.Section

	for _, b := range blocks {
		if label, ok := s.headingLabel(b, median); ok {
			sections = append(sections, types.Section{Label: label, Heading: b.Text, Blocks: []types.TextBlock{b}})
			current = &sections[len(sections)-1]
			continue
		}
		if current == nil {
			sections = append(sections, types.Section{Label: types.SectionSummary})
			current = &sections[len(sections)-1]
		}
		current.Blocks = append(current.Blocks, b)
	}

	// 没有任何标题：只有一个前导 summary 章节
	if len(sections) == 1 && sections[0].Heading == "" {
		sections[0].Label = types.SectionOther
	}
	return sections
}

func (s *Segmenter) headingLabel(b types.TextBlock, median float64) (types.SectionLabel, bool) {
	if !s.isHeadingCandidate(b, median) {
		return "", false
	}
	label, ok := s.headings[NormalizeHeading(b.Text)]
	return label, ok
}

func (s *Segmenter) isHeadingCandidate(b types.TextBlock, median float64) bool {
	if median > 0 && b.FontSize >= median*s.headingRatio {
		return true
	}
	return isShortAllCaps(b.Text)
}

func isShortAllCaps(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > maxCapsHeadingWords {
		return false
	}
	hasLetter := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// NormalizeHeading 小写、去除变音符号和标点、压缩空白
func NormalizeHeading(text string) string {
	folded := vocabulary.Fold(text)
	folded = strings.ReplaceAll(folded, "&", " and ")
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func medianFontSize(blocks []types.TextBlock) float64 {
	sizes := make([]float64, 0, len(blocks))
	for _, b := range blocks {
		if b.FontSize > 0 {
			sizes = append(sizes, b.FontSize)
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	sort.Float64s(sizes)
	mid := len(sizes) / 2
	if len(sizes)%2 == 0 {
		return (sizes[mid-1] + sizes[mid]) / 2
	}
	return sizes[mid]
}
