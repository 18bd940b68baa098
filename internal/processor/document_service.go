package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-matcher/internal/constants"
	"resume-matcher/internal/scoring"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/storage/models"
	"resume-matcher/internal/tracing"
	"resume-matcher/internal/types"
)

// DefaultMaxDocumentBytes 单个文档的默认大小上限
const DefaultMaxDocumentBytes int64 = 10 << 20

// 文档ID与数据库主键 char(36) 对齐
const maxDocumentIDLength = 36

var tracer = otel.Tracer("resume-matcher/processor")

// SubmitResult 文档提交结果
type SubmitResult struct {
	DocumentID string `json:"document_id"`
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
}

// ProfileView 文档处理状态及其候选人档案
type ProfileView struct {
	DocumentID        string                  `json:"document_id"`
	Status            string                  `json:"status"`
	FailureReason     string                  `json:"failure_reason,omitempty"`
	VocabularyVersion string                  `json:"vocabulary_version,omitempty"`
	Profile           *types.CandidateProfile `json:"profile,omitempty"`
}

// DocumentService 文档入库与异步处理。
// 入库写 MinIO 和 MySQL（文档行与 outbox 同事务），消费端运行流水线并落库。
type DocumentService struct {
	pipeline   *Pipeline
	objects    storage.ObjectStorage
	repo       DocumentRepository
	dedup      DedupCache
	archiver   TextArchiver       // 可选，缺省时用章节文本归档
	embedder   embedding.Embedder // 可选，与 index 同时存在时写入候选人向量
	index      CandidateIndex
	exchange   string
	routingKey string
	maxBytes   int64
	logger     *zerolog.Logger
}

// DocumentServiceOption 文档服务配置
type DocumentServiceOption func(*DocumentService)

// WithTextArchiver 设置归档纯文本的提取器
func WithTextArchiver(a TextArchiver) DocumentServiceOption {
	return func(s *DocumentService) {
		s.archiver = a
	}
}

// WithCandidateIndex 设置候选人向量索引及其向量化器
func WithCandidateIndex(embedder embedding.Embedder, index CandidateIndex) DocumentServiceOption {
	return func(s *DocumentService) {
		s.embedder = embedder
		s.index = index
	}
}

// WithProcessRoute 设置处理消息的交换机和路由键
func WithProcessRoute(exchange, routingKey string) DocumentServiceOption {
	return func(s *DocumentService) {
		if exchange != "" {
			s.exchange = exchange
		}
		if routingKey != "" {
			s.routingKey = routingKey
		}
	}
}

// WithMaxDocumentBytes 设置文档大小上限
func WithMaxDocumentBytes(n int64) DocumentServiceOption {
	return func(s *DocumentService) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithDocumentLogger 设置日志记录器
func WithDocumentLogger(logger *zerolog.Logger) DocumentServiceOption {
	return func(s *DocumentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDocumentService 创建文档服务
func NewDocumentService(pipeline *Pipeline, objects storage.ObjectStorage, repo DocumentRepository, dedup DedupCache, options ...DocumentServiceOption) (*DocumentService, error) {
	if pipeline == nil || objects == nil || repo == nil || dedup == nil {
		return nil, ErrStorageNotInit
	}
	nop := zerolog.Nop()
	s := &DocumentService{
		pipeline:   pipeline,
		objects:    objects,
		repo:       repo,
		dedup:      dedup,
		exchange:   "resume.documents.exchange",
		routingKey: "resume.process",
		maxBytes:   DefaultMaxDocumentBytes,
		logger:     &nop,
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// ErrStorageNotInit 必需的存储组件缺失
var ErrStorageNotInit = errors.New("storage is not initialized")

func reject(docID string, reason string, err error) (SubmitResult, error) {
	return SubmitResult{DocumentID: docID, Accepted: false, Reason: reason},
		types.NewStageError(types.StageIngest, docID, reason, err)
}

// validateUpload 检查大小、扩展名和 PDF 文件头
func (s *DocumentService) validateUpload(docID string, data []byte, filename string) (SubmitResult, error) {
	if len(docID) > maxDocumentIDLength {
		return reject(docID, fmt.Sprintf("document_id longer than %d characters", maxDocumentIDLength), types.ErrInvalidRequest)
	}
	if len(data) == 0 {
		return reject(docID, "empty upload", types.ErrEmptyDocument)
	}
	if int64(len(data)) > s.maxBytes {
		return reject(docID, fmt.Sprintf("document is %d bytes, limit is %d", len(data), s.maxBytes), types.ErrDocumentTooLarge)
	}
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
	case ".docx":
		return reject(docID, "docx resumes are not supported yet", types.ErrUnsupportedFormat)
	default:
		return reject(docID, fmt.Sprintf("unsupported file extension %q", ext), types.ErrUnsupportedFormat)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return reject(docID, "missing %PDF header", types.ErrUnsupportedFormat)
	}
	return SubmitResult{DocumentID: docID, Accepted: true}, nil
}

// SubmitDocument 校验并登记上传的文档。documentID 为空时自动生成。
// 被拒绝时同时返回 Accepted=false 的结果和说明原因的错误。
func (s *DocumentService) SubmitDocument(ctx context.Context, data []byte, documentID, filename string) (SubmitResult, error) {
	if documentID == "" {
		documentID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "DocumentService.SubmitDocument", trace.WithAttributes(
		attribute.String("document.id", documentID),
		tracing.Attr("document.filename", filename),
		attribute.Int("document.size", len(data)),
	))
	defer span.End()

	if res, err := s.validateUpload(documentID, data, filename); err != nil {
		s.logger.Info().Str("document_id", documentID).Str("reason", res.Reason).Msg("拒绝文档")
		tracing.RecordStageError(span, err)
		return res, err
	}

	sum := md5.Sum(data)
	md5Hex := hex.EncodeToString(sum[:])
	span.SetAttributes(attribute.String("document.md5", md5Hex))

	exists, owner, err := s.dedup.CheckAndAddRawFileMD5(ctx, md5Hex, documentID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return SubmitResult{DocumentID: documentID}, types.NewStageError(types.StageIngest, documentID, "dedup check failed", err)
	}
	if exists {
		reason := "duplicate document"
		if owner != "" {
			reason = "duplicate of document " + owner
		}
		s.logger.Info().Str("document_id", documentID).Str("md5", md5Hex).Str("owner", owner).Msg("重复文档")
		span.SetAttributes(attribute.Bool("document.duplicate", true))
		return reject(documentID, reason, types.ErrDuplicateDocument)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	objectKey, err := s.objects.UploadOriginal(ctx, documentID, ext, data)
	if err != nil {
		s.undoDedup(ctx, md5Hex)
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return SubmitResult{DocumentID: documentID}, types.NewStageError(types.StageIngest, documentID, "upload original failed", err)
	}

	msg := storage.DocumentProcessMessage{
		DocumentID:          documentID,
		SubmittedAt:         time.Now(),
		OriginalFilename:    filename,
		OriginalFilePathOSS: objectKey,
		RawFileMD5:          md5Hex,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.rollbackUpload(ctx, objectKey, md5Hex)
		return SubmitResult{DocumentID: documentID}, types.NewStageError(types.StageIngest, documentID, "marshal message failed", err)
	}

	doc := &models.Document{
		DocumentID:          documentID,
		OriginalFilename:    filename,
		OriginalFilePathOSS: objectKey,
		RawFileMD5:          md5Hex,
		SizeBytes:           int64(len(data)),
		ProcessingStatus:    constants.StatusQueued,
	}
	outboxMsg := &models.OutboxMessage{
		AggregateID:      documentID,
		EventType:        constants.EventDocumentSubmitted,
		Payload:          string(payload),
		TargetExchange:   s.exchange,
		TargetRoutingKey: s.routingKey,
		Status:           models.OutboxStatusPending,
	}
	if err := s.repo.CreateDocumentWithOutbox(ctx, doc, outboxMsg); err != nil {
		s.rollbackUpload(ctx, objectKey, md5Hex)
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return SubmitResult{DocumentID: documentID}, types.NewStageError(types.StagePersist, documentID, "create document failed", err)
	}

	s.logger.Info().Str("document_id", documentID).Str("object", objectKey).Int("size", len(data)).Msg("文档已入库，等待处理")
	span.SetStatus(codes.Ok, "")
	return SubmitResult{DocumentID: documentID, Accepted: true}, nil
}

func (s *DocumentService) undoDedup(ctx context.Context, md5Hex string) {
	if err := s.dedup.RemoveRawFileMD5(ctx, md5Hex); err != nil {
		s.logger.Warn().Err(err).Str("md5", md5Hex).Msg("撤销MD5登记失败")
	}
}

func (s *DocumentService) rollbackUpload(ctx context.Context, objectKey, md5Hex string) {
	if err := s.objects.DeleteOriginal(ctx, objectKey); err != nil {
		s.logger.Warn().Err(err).Str("object", objectKey).Msg("回滚原始文档失败")
	}
	s.undoDedup(ctx, md5Hex)
}

// HandleMessage 处理一条文档消息。返回 storage.ErrPermanentFailure 包装的错误时消息不再重投。
// 已处理过的文档直接确认，重复投递不会重复落库。
func (s *DocumentService) HandleMessage(ctx context.Context, body []byte) error {
	var msg storage.DocumentProcessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("解析文档消息失败: %v: %w", err, storage.ErrPermanentFailure)
	}
	if msg.DocumentID == "" || msg.OriginalFilePathOSS == "" {
		return fmt.Errorf("文档消息缺少必要字段: %w", storage.ErrPermanentFailure)
	}

	ctx, span := tracer.Start(ctx, "DocumentService.HandleMessage", trace.WithAttributes(
		attribute.String("document.id", msg.DocumentID),
	))
	defer span.End()
	log := s.logger.With().Str("document_id", msg.DocumentID).Logger()

	claimed, err := s.repo.ClaimDocument(ctx, msg.DocumentID, constants.AllowedStatusList(constants.AllowedStatusesForProcessing))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("认领文档失败: %w", err)
	}
	if !claimed {
		log.Info().Msg("文档不处于可处理状态，跳过")
		span.SetAttributes(attribute.Bool("document.skipped", true))
		return nil
	}

	data, err := s.objects.GetOriginal(ctx, msg.OriginalFilePathOSS)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			s.markFailed(ctx, msg.DocumentID, constants.StatusParseFailed, "original object missing")
			return fmt.Errorf("原始文档不存在: %v: %w", err, storage.ErrPermanentFailure)
		}
		s.markFailed(ctx, msg.DocumentID, constants.StatusPersistFailed, err.Error())
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return fmt.Errorf("下载原始文档失败: %w", err)
	}

	result, err := s.pipeline.Process(ctx, msg.DocumentID, data)
	if err != nil {
		tracing.RecordStageError(span, err)
		if errors.Is(err, types.ErrUnreadableDocument) || errors.Is(err, types.ErrEmptyDocument) {
			log.Warn().Err(err).Msg("文档无法解析")
			s.markFailed(ctx, msg.DocumentID, constants.StatusParseFailed, err.Error())
			if msg.RawFileMD5 != "" {
				s.undoDedup(ctx, msg.RawFileMD5)
			}
			return fmt.Errorf("%v: %w", err, storage.ErrPermanentFailure)
		}
		s.markFailed(ctx, msg.DocumentID, constants.StatusParseFailed, err.Error())
		return err
	}

	if err := s.persist(ctx, msg.DocumentID, data, result); err != nil {
		tracing.RecordStageError(span, err)
		log.Error().Err(err).Msg("档案落库失败")
		s.markFailed(ctx, msg.DocumentID, constants.StatusPersistFailed, err.Error())
		return err
	}

	s.indexCandidate(ctx, msg.DocumentID, result)

	log.Info().
		Int("sections", len(result.Sections)).
		Int("skills", len(result.Profile.Skills)).
		Float64("confidence", result.Profile.ExtractionConfidence).
		Bool("needs_review", result.Profile.NeedsReview).
		Ints("degraded_sections", result.DegradedSections).
		Msg("文档处理完成")
	span.SetStatus(codes.Ok, "")
	return nil
}

// persist 写入解析文本、档案 JSON 和 candidate_profiles 行
func (s *DocumentService) persist(ctx context.Context, docID string, data []byte, result DocumentResult) error {
	text := s.archiveText(ctx, docID, data, result)
	textPath, err := s.objects.UploadParsedText(ctx, docID, text)
	if err != nil {
		return types.NewStageError(types.StagePersist, docID, "upload parsed text failed", err)
	}
	profilePath, err := s.objects.UploadProfile(ctx, docID, result.Profile)
	if err != nil {
		return types.NewStageError(types.StagePersist, docID, "upload profile failed", err)
	}

	rec, err := models.NewCandidateProfile(docID, result.VocabularyVersion, result.Profile)
	if err != nil {
		return types.NewStageError(types.StagePersist, docID, "encode profile failed", err)
	}
	status := constants.StatusProcessed
	if result.Profile.NeedsReview {
		status = constants.StatusNeedsReview
	}
	if err := s.repo.SaveProfile(ctx, rec, status, textPath, profilePath); err != nil {
		return types.NewStageError(types.StagePersist, docID, "save profile failed", err)
	}
	return nil
}

// archiveText 优先使用纯文本提取器，失败时退回章节文本
func (s *DocumentService) archiveText(ctx context.Context, docID string, data []byte, result DocumentResult) string {
	if s.archiver != nil {
		text, _, err := s.archiver.ExtractTextFromBytes(ctx, data, docID+".pdf", nil)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		if err != nil {
			s.logger.Debug().Err(err).Str("document_id", docID).Msg("纯文本提取失败，使用章节文本")
		}
	}
	return SectionsText(result.Sections)
}

// indexCandidate 写入候选人向量，失败只记录日志
func (s *DocumentService) indexCandidate(ctx context.Context, docID string, result DocumentResult) {
	if s.embedder == nil || s.index == nil {
		return
	}
	text := scoring.CandidateText(result.Profile)
	if text == "" {
		return
	}
	vectors, err := s.embedder.EmbedStrings(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		s.logger.Warn().Err(err).Str("document_id", docID).Msg("候选人向量化失败，跳过索引")
		return
	}
	payload := storage.CandidatePayload{
		CandidateID:          docID,
		Name:                 result.Profile.Name,
		Skills:               result.Profile.Skills,
		ExtractionConfidence: result.Profile.ExtractionConfidence,
		VocabularyVersion:    result.VocabularyVersion,
	}
	if err := s.index.UpsertCandidate(ctx, vectors[0], payload); err != nil {
		s.logger.Warn().Err(err).Str("document_id", docID).Msg("写入候选人向量失败")
	}
}

func (s *DocumentService) markFailed(ctx context.Context, docID, status, reason string) {
	if err := s.repo.UpdateDocumentStatus(ctx, docID, status, tracing.Truncate(reason, 1000)); err != nil {
		s.logger.Error().Err(err).Str("document_id", docID).Str("status", status).Msg("更新文档状态失败")
	}
}

// GetProfile 返回文档状态和档案，档案尚未生成时 Profile 为空
func (s *DocumentService) GetProfile(ctx context.Context, documentID string) (ProfileView, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return ProfileView{}, err
	}
	view := ProfileView{
		DocumentID:    doc.DocumentID,
		Status:        doc.ProcessingStatus,
		FailureReason: doc.FailureReason,
	}
	rec, err := s.repo.GetCandidateProfile(ctx, documentID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return view, nil
		}
		return view, err
	}
	profile := rec.ToProfile()
	view.Profile = &profile
	view.VocabularyVersion = rec.VocabularyVersion
	return view, nil
}

// ProcessLocal 同步处理本地文档，不经过存储层
func (s *DocumentService) ProcessLocal(ctx context.Context, docs []BatchDocument) ([]DocumentResult, error) {
	return s.pipeline.ProcessBatch(ctx, docs)
}
