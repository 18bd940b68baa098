package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"resume-matcher/internal/types"
)

// CandidateProfile 归一化后的候选人档案，候选人ID即文档ID
type CandidateProfile struct {
	CandidateID          string         `gorm:"type:char(36);primaryKey"`
	Name                 string         `gorm:"type:varchar(255)"`
	ContactsJSON         datatypes.JSON `gorm:"type:json"`
	Location             string         `gorm:"type:varchar(255)"`
	SkillsJSON           datatypes.JSON `gorm:"type:json"`
	ExperienceJSON       datatypes.JSON `gorm:"type:json"`
	EducationJSON        datatypes.JSON `gorm:"type:json"`
	ExtractionConfidence float64        `gorm:"type:double;index:idx_cp_confidence"`
	NeedsReview          bool           `gorm:"not null;default:false;index:idx_cp_needs_review"`
	VocabularyVersion    string         `gorm:"type:varchar(64)"`
	CreatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Document *Document `gorm:"foreignKey:CandidateID;references:DocumentID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (CandidateProfile) TableName() string {
	return "candidate_profiles"
}

// NewCandidateProfile 将领域模型转换为数据库模型
func NewCandidateProfile(candidateID, vocabularyVersion string, p types.CandidateProfile) (*CandidateProfile, error) {
	contacts, err := ToJSON(nonNil(p.Contacts))
	if err != nil {
		return nil, err
	}
	skills, err := ToJSON(nonNil(p.Skills))
	if err != nil {
		return nil, err
	}
	experience, err := ToJSON(p.Experience)
	if err != nil {
		return nil, err
	}
	education, err := ToJSON(p.Education)
	if err != nil {
		return nil, err
	}
	return &CandidateProfile{
		CandidateID:          candidateID,
		Name:                 p.Name,
		ContactsJSON:         contacts,
		Location:             p.Location,
		SkillsJSON:           skills,
		ExperienceJSON:       experience,
		EducationJSON:        education,
		ExtractionConfidence: p.ExtractionConfidence,
		NeedsReview:          p.NeedsReview,
		VocabularyVersion:    vocabularyVersion,
	}, nil
}

// ToProfile 将数据库模型转换为领域模型
func (r *CandidateProfile) ToProfile() types.CandidateProfile {
	p := types.CandidateProfile{
		Name:                 r.Name,
		Contacts:             StringsFromJSON(r.ContactsJSON),
		Location:             r.Location,
		Skills:               StringsFromJSON(r.SkillsJSON),
		ExtractionConfidence: r.ExtractionConfidence,
		NeedsReview:          r.NeedsReview,
	}
	if len(r.ExperienceJSON) > 0 {
		_ = json.Unmarshal(r.ExperienceJSON, &p.Experience)
	}
	if len(r.EducationJSON) > 0 {
		_ = json.Unmarshal(r.EducationJSON, &p.Education)
	}
	return p
}

// NewJob 将岗位描述转换为数据库模型
func NewJob(job types.JobDescription, modelVersion string) (*Job, error) {
	required, err := ToJSON(nonNil(job.RequiredSkills))
	if err != nil {
		return nil, err
	}
	preferred, err := ToJSON(nonNil(job.PreferredSkills))
	if err != nil {
		return nil, err
	}
	return &Job{
		JobID:                 job.ID,
		JobTitle:              job.Title,
		JobDescriptionText:    job.RawText,
		RequiredSkillsJSON:    required,
		PreferredSkillsJSON:   preferred,
		MinExperienceYears:    job.MinExperienceYears,
		EmbeddingModelVersion: modelVersion,
		Status:                "ACTIVE",
	}, nil
}

// ToJobDescription 将数据库模型转换为岗位描述
func (j *Job) ToJobDescription() types.JobDescription {
	return types.JobDescription{
		ID:                 j.JobID,
		Title:              j.JobTitle,
		RequiredSkills:     StringsFromJSON(j.RequiredSkillsJSON),
		PreferredSkills:    StringsFromJSON(j.PreferredSkillsJSON),
		MinExperienceYears: j.MinExperienceYears,
		RawText:            j.JobDescriptionText,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
