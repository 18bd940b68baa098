package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Document 上传的简历文档
type Document struct {
	DocumentID          string    `gorm:"type:char(36);primaryKey"`
	OriginalFilename    string    `gorm:"type:varchar(255)"`
	OriginalFilePathOSS string    `gorm:"type:varchar(1024)"`
	RawFileMD5          string    `gorm:"type:char(32);index:idx_documents_raw_file_md5"`
	SizeBytes           int64     `gorm:"not null"`
	ProcessingStatus    string    `gorm:"type:varchar(50);default:'QUEUED';index:idx_documents_processing_status"`
	FailureReason       string    `gorm:"type:text"`
	ParsedTextPathOSS   string    `gorm:"type:varchar(1024)"`
	ProfilePathOSS      string    `gorm:"type:varchar(1024)"`
	CreatedAt           time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt           time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}

// Job 岗位信息表
type Job struct {
	JobID                 string         `gorm:"type:char(36);primaryKey"`
	JobTitle              string         `gorm:"type:varchar(255)"`
	JobDescriptionText    string         `gorm:"type:text;not null"`
	RequiredSkillsJSON    datatypes.JSON `gorm:"type:json"`
	PreferredSkillsJSON   datatypes.JSON `gorm:"type:json"`
	MinExperienceYears    float64        `gorm:"not null;default:0"`
	EmbeddingModelVersion string         `gorm:"type:varchar(100)"`
	Status                string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedAt             time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt             time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// RankingRun 一次排序请求
type RankingRun struct {
	RunID          string         `gorm:"type:char(36);primaryKey"`
	JobID          string         `gorm:"type:char(36);not null;index:idx_rr_job_id"`
	WeightsHash    string         `gorm:"type:char(16);not null"`
	WeightsJSON    datatypes.JSON `gorm:"type:json"`
	CandidateCount int            `gorm:"not null"`
	RankedCount    int            `gorm:"not null"`
	LowConfCount   int            `gorm:"not null"`
	MissingJSON    datatypes.JSON `gorm:"type:json"`
	Partial        bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_rr_created_at"`

	Job *Job `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (RankingRun) TableName() string {
	return "ranking_runs"
}

// MatchScore 排序结果中的单个候选人分数
type MatchScore struct {
	MatchID              uint64         `gorm:"primaryKey;autoIncrement"`
	RunID                string         `gorm:"type:char(36);not null;uniqueIndex:idx_ms_run_candidate,priority:1"`
	CandidateID          string         `gorm:"type:char(36);not null;uniqueIndex:idx_ms_run_candidate,priority:2;index:idx_ms_candidate_id"`
	JobID                string         `gorm:"type:char(36);not null;index:idx_ms_job_overall,priority:1"`
	Position             int            `gorm:"not null"` // 主列表中的名次，低可信度分组为 0
	LowConfidence        bool           `gorm:"not null;default:false"`
	Overall              float64        `gorm:"type:double;index:idx_ms_job_overall,priority:2"`
	SkillOverlap         float64        `gorm:"type:double"`
	SemanticSimilarity   float64        `gorm:"type:double"`
	ExperienceFit        float64        `gorm:"type:double"`
	ExtractionConfidence float64        `gorm:"type:double"`
	Degraded             bool           `gorm:"not null;default:false"`
	ExplanationJSON      datatypes.JSON `gorm:"type:json"`
	CreatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	RankingRun *RankingRun `gorm:"foreignKey:RunID;references:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (MatchScore) TableName() string {
	return "match_scores"
}

// ToJSON 将任意值序列化为 datatypes.JSON
func ToJSON(v interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// StringsFromJSON 解析字符串数组，空值返回空切片
func StringsFromJSON(j datatypes.JSON) []string {
	out := []string{}
	if len(j) > 0 {
		_ = json.Unmarshal(j, &out)
	}
	return out
}
