package types

import "time"

// BoundingBox 文本块的位置（单位: point，原点在页面左上角）
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// TextBlock 解码器输出的最小文本单元
type TextBlock struct {
	Text     string      `json:"text"`
	Page     int         `json:"page"` // 从1开始
	BBox     BoundingBox `json:"bbox"`
	FontSize float64     `json:"font_size"`
}

// RawDocument 原始文档，解析完成后不再保留
type RawDocument struct {
	ID     string
	Data   []byte
	Blocks []TextBlock
}

// SectionLabel 表示简历章节类型
type SectionLabel string

const (
	// SectionContact 联系方式
	SectionContact SectionLabel = "contact"
	// SectionSkills 技能
	SectionSkills SectionLabel = "skills"
	// SectionExperience 工作经历
	SectionExperience SectionLabel = "experience"
	// SectionEducation 教育经历
	SectionEducation SectionLabel = "education"
	// SectionSummary 个人简介，也用于第一个标题之前的内容
	SectionSummary SectionLabel = "summary"
	// SectionOther 未识别任何标题时的整篇文档
	SectionOther SectionLabel = "other"
)

// Section 一组连续的文本块
type Section struct {
	Label   SectionLabel `json:"label"`
	Heading string       `json:"heading,omitempty"`
	Blocks  []TextBlock  `json:"blocks"`
}

// Text 将章节内的文本块按顺序拼接，每块一行
func (s Section) Text() string {
	n := 0
	for _, b := range s.Blocks {
		n += len(b.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, b := range s.Blocks {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, b.Text...)
	}
	return string(buf)
}

// EntityKind 实体类型
type EntityKind string

const (
	EntityName         EntityKind = "name"
	EntityEmail        EntityKind = "email"
	EntityPhone        EntityKind = "phone"
	EntitySkill        EntityKind = "skill"
	EntityOrganization EntityKind = "organization"
	EntityDegree       EntityKind = "degree"
	EntityDateRange    EntityKind = "date_range"
	EntityTitle        EntityKind = "title"
	EntityLocation     EntityKind = "location"
)

// Valid 判断实体类型是否被识别
func (k EntityKind) Valid() bool {
	switch k {
	case EntityName, EntityEmail, EntityPhone, EntitySkill, EntityOrganization, EntityDegree, EntityDateRange, EntityTitle, EntityLocation:
		return true
	}
	return false
}

// Span 文本中的半开区间 [Start, End)，按字节偏移
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Detection 实体识别能力的原始输出
type Detection struct {
	Span       Span       `json:"span"`
	Kind       EntityKind `json:"kind"`
	Confidence float64    `json:"confidence"`
}

// ExtractedEntity 抽取出的实体，归一化之前可能重复或冲突
type ExtractedEntity struct {
	Kind          EntityKind   `json:"kind"`
	Value         string       `json:"value"`
	Confidence    float64      `json:"confidence"`
	SourceSection SectionLabel `json:"source_section"`
	SectionIndex  int          `json:"section_index"`
	Offset        int          `json:"offset"`
}

// ExperienceEntry 一段工作经历，End 为 nil 表示至今
type ExperienceEntry struct {
	Organization string     `json:"organization"`
	Title        string     `json:"title,omitempty"`
	Start        time.Time  `json:"start_date"`
	End          *time.Time `json:"end_date"`
}

// EducationEntry 一段教育经历
type EducationEntry struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree,omitempty"`
	Year        *int   `json:"year"`
}

// CandidateProfile 归一化后的候选人档案，生成后不可修改
type CandidateProfile struct {
	Name                 string            `json:"name"`
	Contacts             []string          `json:"contacts"`
	Location             string            `json:"location,omitempty"`
	Skills               []string          `json:"skills"`
	Experience           []ExperienceEntry `json:"experience"`
	Education            []EducationEntry  `json:"education"`
	ExtractionConfidence float64           `json:"extraction_confidence"`
	NeedsReview          bool              `json:"needs_review"`
}

// JobDescription 结构化岗位描述，由外部提供
type JobDescription struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title" validate:"max=255"`
	RequiredSkills     []string `json:"required_skills" validate:"dive,required"`
	PreferredSkills    []string `json:"preferred_skills" validate:"dive,required"`
	MinExperienceYears float64  `json:"min_experience_years" validate:"gte=0,lte=60"`
	RawText            string   `json:"raw_text" validate:"required"`
}

// Weights 打分权重，三者之和必须为1
type Weights struct {
	Skill      float64 `json:"skill_weight" yaml:"skill_weight"`
	Semantic   float64 `json:"semantic_weight" yaml:"semantic_weight"`
	Experience float64 `json:"experience_weight" yaml:"experience_weight"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{Skill: 0.5, Semantic: 0.3, Experience: 0.2}
}

// SubScores 各项子分数，均在 [0,1]
type SubScores struct {
	SkillOverlap       float64 `json:"skill_overlap"`
	SemanticSimilarity float64 `json:"semantic_similarity"`
	ExperienceFit      float64 `json:"experience_fit"`
	LocationMatch      float64 `json:"location_match,omitempty"` // 仅按条件检索时填写
}

// MatchScore 单个候选人与岗位的匹配结果
type MatchScore struct {
	CandidateID          string    `json:"candidate_id"`
	JobID                string    `json:"job_id"`
	Overall              float64   `json:"overall"`
	SubScores            SubScores `json:"sub_scores"`
	Explanation          []string  `json:"explanation"`
	ExtractionConfidence float64   `json:"extraction_confidence"`
	Degraded             bool      `json:"degraded,omitempty"`
}

// MissingCandidate 未能进入排序的候选人
type MissingCandidate struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}

// RankedResult 某个岗位的排序结果
type RankedResult struct {
	JobID         string             `json:"job_id"`
	Ranked        []MatchScore       `json:"ranked"`
	LowConfidence []MatchScore       `json:"low_confidence"`
	Missing       []MissingCandidate `json:"missing,omitempty"`
	Partial       bool               `json:"partial"`
}
