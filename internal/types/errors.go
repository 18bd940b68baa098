package types

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrUnreadableDocument         = errors.New("unreadable document")
	ErrEmptyDocument              = errors.New("empty document")
	ErrInvalidWeightConfiguration = errors.New("invalid weight configuration")
	ErrCapabilityTimeout          = errors.New("capability timeout")
	ErrBatchTimeout               = errors.New("batch timeout")
	ErrUnsupportedFormat          = errors.New("unsupported document format")
	ErrDuplicateDocument          = errors.New("duplicate document")
	ErrNotFound                   = errors.New("not found")
	ErrDocumentTooLarge           = errors.New("document too large")
	ErrInvalidRequest             = errors.New("invalid request")
)

// Stage 流水线阶段
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageDecode    Stage = "decode"
	StageSegment   Stage = "segment"
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageEmbed     Stage = "embed"
	StageScore     Stage = "score"
	StageRank      Stage = "rank"
	StagePersist   Stage = "persist"
)

// StageError 携带失败阶段和原因的错误，面向用户的错误信息都应包含这两项
type StageError struct {
	Stage   Stage
	Subject string // 文档ID、候选人ID或岗位ID
	Reason  string
	Err     error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage=%s", e.Stage)
	if e.Subject != "" {
		msg += " subject=" + e.Subject
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStageError 通用构造函数
func NewStageError(stage Stage, subject, reason string, err error) error {
	return &StageError{Stage: stage, Subject: subject, Reason: reason, Err: err}
}

// 错误构造函数

func NewUnreadableError(docID, reason string) error {
	return NewStageError(StageDecode, docID, reason, ErrUnreadableDocument)
}

func NewEmptyDocumentError(docID, reason string) error {
	return NewStageError(StageDecode, docID, reason, ErrEmptyDocument)
}

func NewInvalidWeightsError(reason string) error {
	return NewStageError(StageScore, "", reason, ErrInvalidWeightConfiguration)
}

func NewCapabilityTimeoutError(stage Stage, subject, reason string) error {
	return NewStageError(stage, subject, reason, ErrCapabilityTimeout)
}

func NewBatchTimeoutError(jobID string, missing int) error {
	return NewStageError(StageRank, jobID, fmt.Sprintf("%d candidates did not report in time", missing), ErrBatchTimeout)
}

// StageOf 返回错误链上第一个 StageError 的阶段，没有则返回空
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
