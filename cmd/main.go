package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resume-matcher/internal/api/handler"
	"resume-matcher/internal/api/router"
	"resume-matcher/internal/config"
	"resume-matcher/internal/constants"
	appCoreLogger "resume-matcher/internal/logger"
	"resume-matcher/internal/outbox"
	"resume-matcher/internal/parser"
	"resume-matcher/internal/processor"
	"resume-matcher/internal/ratelimit"
	"resume-matcher/internal/storage"
	"resume-matcher/internal/tracing"
)

var (
	version     = "1.0.0"          //nolint:gochecknoglobals
	serviceName = "resume-matcher" //nolint:gochecknoglobals
)

const logFilePath = "logs/app.log"

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logFile := initLogger(cfg)
	if logFile != nil {
		defer logFile.Close()
	}
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, version, cfg.Tracing.SampleRatio)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg, appCoreLogger.Std("[Storage] "))
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	var messageRelay *outbox.MessageRelay
	if storageManager.RabbitMQ != nil {
		if err := storageManager.RabbitMQ.SetupDocumentTopology(); err != nil {
			glog.Fatalf("声明RabbitMQ拓扑失败: %v", err)
		}
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ,
			appCoreLogger.Std("[MessageRelay] "),
			outbox.WithPollingInterval(config.GetDuration(cfg.RabbitMQ.OutboxPollInterval, 2*time.Second)),
			outbox.WithBatchSize(cfg.RabbitMQ.OutboxBatchSize),
			outbox.WithMaxRetries(cfg.RabbitMQ.MaxRetries),
		)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	}

	// 接口类型的变量保持为 nil，避免把空指针包装成非 nil 接口
	var (
		embedder  embedding.Embedder
		chatModel model.BaseChatModel
	)
	if cfg.Aliyun.APIKey != "" {
		aliyunEmbedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding,
			parser.WithEmbedderLogger(appCoreLogger.Std("[Embedder] ")))
		if err != nil {
			glog.Fatalf("初始化阿里云Embedder失败: %v", err)
		}
		embedder = aliyunEmbedder
		if qpm := cfg.QPMFor(aliyunEmbedder.Model()); qpm > 0 {
			embedder = ratelimit.NewEmbedder(aliyunEmbedder, qpm, ratelimit.WithRetryOn(isRateLimited))
		}
		glog.Infof("阿里云Embedder初始化成功, 模型: %s", aliyunEmbedder.Model())

		detectorModel := cfg.GetModelForTask(constants.TaskEntityDetection)
		qwen, err := parser.NewQwenChatModel(cfg.Aliyun.APIKey, detectorModel, cfg.Aliyun.APIURL,
			parser.WithQwenJSONOutput(),
			parser.WithQwenLogger(appCoreLogger.Std("[Qwen] ")))
		if err != nil {
			glog.Fatalf("初始化通义千问模型失败: %v", err)
		}
		chatModel = qwen
		if qpm := cfg.QPMFor(detectorModel); qpm > 0 {
			chatModel = ratelimit.NewChatModel(qwen, qpm, ratelimit.WithRetryOn(isRateLimited))
		}
	} else {
		glog.Warn("未配置阿里云API Key，语义相似度将降级，实体识别只使用规则")
	}

	var archiver processor.TextArchiver
	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(appCoreLogger.Std("[EinoPDF] ")))
	if err != nil {
		glog.Warnf("创建Eino PDF提取器失败，不归档纯文本: %v", err)
	} else {
		archiver = pdfExtractor
	}

	zl := appCoreLogger.Logger.With().Str("service", serviceName).Logger()
	components, err := processor.BuildComponents(cfg, processor.Dependencies{
		Objects:        storageManager.MinIO,
		Repository:     storageManager.MySQL,
		Cache:          storageManager.Redis,
		Index:          storageManager.Vectors,
		Embedder:       embedder,
		EmbeddingModel: cfg.Aliyun.Embedding.Model,
		ChatModel:      chatModel,
		Archiver:       archiver,
	}, appCoreLogger.Std, &zl)
	if err != nil {
		glog.Fatalf("装配服务失败: %v", err)
	}
	glog.Infof("服务装配完成, 词表版本: %s", components.Vocabulary.Snapshot().Version())

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	var consumerDone <-chan struct{}
	if storageManager.RabbitMQ != nil {
		consumerDone, err = storageManager.RabbitMQ.StartConsumer(consumerCtx,
			cfg.RabbitMQ.ProcessQueue,
			cfg.RabbitMQ.PrefetchCount,
			cfg.RabbitMQ.ConsumerWorkers,
			components.Documents.HandleMessage,
		)
		if err != nil {
			glog.Fatalf("启动文档处理消费者失败: %v", err)
		}
		glog.Infof("文档处理消费者已启动, 队列: %s, 工作协程: %d", cfg.RabbitMQ.ProcessQueue, cfg.RabbitMQ.ConsumerWorkers)
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(int(cfg.Pipeline.MaxDocumentBytes)+1<<20),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		glog.CtxInfof(c, "%s %s -> %d (%s)", string(ctx.Method()), string(ctx.Path()), ctx.Response.StatusCode(), time.Since(start))
	})

	apiHandler := handler.NewHandler(components.Documents, components.Jobs, components.Matches,
		handler.WithHealthChecker(storageManager),
		handler.WithLogger(&zl),
	)
	router.RegisterRoutes(h, apiHandler, cfg.Auth.Keys)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}

	stopConsumer()
	if consumerDone != nil {
		select {
		case <-consumerDone:
			glog.Info("文档处理消费者已停止")
		case <-shutdownCtx.Done():
			glog.Warn("等待消费者退出超时")
		}
	}
	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化全局日志，同时写入控制台和日志文件，并让 Hertz 使用同一个 zerolog 实例
func initLogger(cfg *config.Config) *os.File {
	var extra []io.Writer
	var fileWriter *os.File
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
		fileWriter, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Printf("无法打开日志文件 %s: %v", logFilePath, err)
		} else {
			extra = append(extra, fileWriter)
		}
	}

	appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	}, extra...)

	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	glog.SetLevel(hertzLevel(cfg.Logger.Level))
	return fileWriter
}

func isRateLimited(err error) bool {
	return errors.Is(err, parser.ErrRateLimited)
}

func hertzLevel(level string) glog.Level {
	switch level {
	case "debug":
		return glog.LevelDebug
	case "warn":
		return glog.LevelWarn
	case "error":
		return glog.LevelError
	default:
		return glog.LevelInfo
	}
}
