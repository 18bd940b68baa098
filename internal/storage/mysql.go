package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"resume-matcher/internal/config"
	"resume-matcher/internal/constants"
	"resume-matcher/internal/storage/models"
	"resume-matcher/internal/tracing"
	"resume-matcher/internal/types"
)

var mysqlTracer = otel.Tracer("resume-matcher/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin GORM插件，为每个数据库操作创建 OpenTelemetry span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	dbSystem       string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 为增删改查及 Row/Raw 注册前后回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}
	return nil
}

// before 在操作前开启 span 并放入语句上下文
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		attrs := []attribute.KeyValue{
			semconv.DBSystemMySQL,
			attribute.String("db.name", p.dbName),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		}
		if stmt := db.Statement.SQL.String(); stmt != "" {
			attrs = append(attrs, attribute.String("db.statement", tracing.Statement(stmt)))
		}
		newCtx, span := p.tracer.Start(ctx, operation+" "+table,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

// after 结束 span；记录未找到不视为错误
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
		}
	}
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		dbSystem:       "mysql",
		disableErrSkip: true,
	}
}

// MySQL 关系数据库：文档、岗位、候选人档案、排序记录、outbox
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 连接 MySQL、注册追踪插件并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// NewMySQLWithDB 使用已有连接创建，主要用于测试
func NewMySQLWithDB(db *gorm.DB) *MySQL {
	return &MySQL{db: db, cfg: &config.MySQLConfig{}}
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 2:
		return logger.Error
	case 3:
		return logger.Warn
	default:
		return logger.Info
	}
}

// autoMigrateSchema 以静默日志迁移全部模型
func (m *MySQL) autoMigrateSchema() error {
	silentDB := m.db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Silent)})
	err := silentDB.AutoMigrate(
		&models.Document{},
		&models.Job{},
		&models.CandidateProfile{},
		&models.RankingRun{},
		&models.MatchScore{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Ping 检查数据库连接
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// notFound 将 gorm 的未找到错误映射为 ErrNotFound
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, types.ErrNotFound)
	}
	return err
}

// CreateDocumentWithOutbox 在同一事务中写入文档记录和待发布消息
func (m *MySQL) CreateDocumentWithOutbox(ctx context.Context, doc *models.Document, msg *models.OutboxMessage) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.CreateDocumentWithOutbox", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("document.id", doc.DocumentID))

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("插入文档记录失败: %w", err)
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("插入outbox记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
	}
	return err
}

// GetDocument 查询文档记录
func (m *MySQL) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	if err := m.db.WithContext(ctx).Where("document_id = ?", documentID).First(&doc).Error; err != nil {
		return nil, notFound(err, "document", documentID)
	}
	return &doc, nil
}

// UpdateDocumentStatus 更新文档处理状态及失败原因
func (m *MySQL) UpdateDocumentStatus(ctx context.Context, documentID, status, reason string) error {
	return m.db.WithContext(ctx).Model(&models.Document{}).
		Where("document_id = ?", documentID).
		Updates(map[string]interface{}{"processing_status": status, "failure_reason": reason}).Error
}

// ClaimDocument 在文档处于可处理状态时将其标记为处理中，返回是否成功领取
func (m *MySQL) ClaimDocument(ctx context.Context, documentID string, allowed []string) (bool, error) {
	var claimed bool
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", documentID).First(&doc).Error; err != nil {
			return notFound(err, "document", documentID)
		}
		ok := false
		for _, s := range allowed {
			if doc.ProcessingStatus == s {
				ok = true
				break
			}
		}
		if !ok {
			return nil
		}
		claimed = true
		return tx.Model(&doc).Update("processing_status", constants.StatusProcessing).Error
	})
	return claimed, err
}

// SaveProfile 写入候选人档案并更新文档状态与产物路径
func (m *MySQL) SaveProfile(ctx context.Context, rec *models.CandidateProfile, status, textPath, profilePath string) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveProfile", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "candidate_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "contacts_json", "location", "skills_json", "experience_json", "education_json",
				"extraction_confidence", "needs_review", "vocabulary_version", "updated_at",
			}),
		}).Create(rec).Error
		if err != nil {
			return fmt.Errorf("写入候选人档案失败: %w", err)
		}
		return tx.Model(&models.Document{}).
			Where("document_id = ?", rec.CandidateID).
			Updates(map[string]interface{}{
				"processing_status":    status,
				"failure_reason":       "",
				"parsed_text_path_oss": textPath,
				"profile_path_oss":     profilePath,
			}).Error
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
	}
	return err
}

// GetCandidateProfile 查询候选人档案
func (m *MySQL) GetCandidateProfile(ctx context.Context, candidateID string) (*models.CandidateProfile, error) {
	var rec models.CandidateProfile
	if err := m.db.WithContext(ctx).Where("candidate_id = ?", candidateID).First(&rec).Error; err != nil {
		return nil, notFound(err, "candidate", candidateID)
	}
	return &rec, nil
}

// ListCandidateIDs 返回全部候选人ID，按ID排序
func (m *MySQL) ListCandidateIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.db.WithContext(ctx).Model(&models.CandidateProfile{}).Order("candidate_id").Pluck("candidate_id", &ids).Error
	return ids, err
}

// CreateJob 写入岗位
func (m *MySQL) CreateJob(ctx context.Context, job *models.Job) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// GetJob 查询岗位
func (m *MySQL) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, notFound(err, "job", jobID)
	}
	return &job, nil
}

// SaveRankingRun 在同一事务中写入排序记录及其全部分数
func (m *MySQL) SaveRankingRun(ctx context.Context, run *models.RankingRun, scores []models.MatchScore) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveRankingRun", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", run.JobID),
		attribute.Int("batch.size", len(scores)),
	)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("插入排序记录失败: %w", err)
		}
		if len(scores) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(scores, 200).Error; err != nil {
			return fmt.Errorf("插入匹配分数失败: %w", err)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
	}
	return err
}
