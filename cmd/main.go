package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/paragraph-migrate/api"
	"github.com/fyerfyer/paragraph-migrate/api/handler"
	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/api/model"
	pmconfig "github.com/fyerfyer/paragraph-migrate/config"
	"github.com/fyerfyer/paragraph-migrate/internal/cache"
	"github.com/fyerfyer/paragraph-migrate/internal/database"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/fetch"
	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/fyerfyer/paragraph-migrate/pkg/storage"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 命令行选项
type options struct {
	ConfigFile string // 配置文件路径
	Port       int    // 服务端口
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	LogFile    string // 日志文件
	BaseURL    string // 相对图片地址的基准URL
	Queue      bool   // 是否启用任务队列
	RedisAddr  string // Redis 地址
	NoWorker   bool   // 只入队不在本进程处理
}

func main() {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Failed to load .env: %v", err)
	}

	opts := parseFlags()

	appConfig, err := pmconfig.Load(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(opts, appConfig)

	gin.SetMode(appConfig.Server.Mode)

	logger := setupLogger(appConfig.Log)
	logger.Info("Starting paragraph migration service...")

	if err := model.RegisterValidators(); err != nil {
		logger.Fatalf("Failed to register validators: %v", err)
	}

	// 初始化数据库
	if err := setupDatabase(appConfig.Database, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// 创建文件存储服务
	fileStorage, err := setupStorage(appConfig.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// 创建缓存服务
	var fileCache cache.Cache
	if appConfig.Cache.Enable {
		fileCache, err = setupCache(appConfig.Cache)
		if err != nil {
			logger.Fatalf("Failed to initialize cache: %v", err)
		}
	}

	m := metrics.New()

	fetcher, err := fetch.NewImageFetcher(fetch.Config{
		BaseURL:   appConfig.Fetch.BaseURL,
		Timeout:   appConfig.Fetch.Timeout,
		UserAgent: appConfig.Fetch.UserAgent,
		MaxBytes:  appConfig.Fetch.MaxBytes,
	}, fileStorage, fetch.WithLogger(logger))
	if err != nil {
		logger.Fatalf("Failed to initialize image fetcher: %v", err)
	}

	paragraphRepo := repository.NewParagraphRepository()
	mediaRepo := repository.NewMediaRepository()
	migrationRepo := repository.NewMigrationRepository()

	materializerOpts := []services.MaterializerOption{
		services.WithMaterializerMetrics(m),
		services.WithMaterializerLogger(logger),
	}
	if fileCache != nil {
		materializerOpts = append(materializerOpts, services.WithFileCache(fileCache))
	}
	materializer := services.NewMaterializer(paragraphRepo, mediaRepo, fetcher, services.MaterializerConfig{
		TextFormat:  appConfig.Migration.TextFormat,
		OwnerID:     appConfig.Migration.MediaOwnerID,
		Concurrency: appConfig.Migration.Concurrency,
		CacheTTL:    time.Duration(appConfig.Cache.TTL) * time.Second,
	}, materializerOpts...)

	migrationOpts := []services.MigrationOption{
		services.WithLogger(logger),
		services.WithMetrics(m),
		services.WithTimeout(appConfig.Migration.Timeout),
		services.WithMigrationRepository(migrationRepo),
	}

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	if appConfig.Queue.Enable {
		queue, err = setupTaskQueue(appConfig.Queue, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		migrationOpts = append(migrationOpts, services.WithTaskQueue(queue))
		logger.Info("Task queue initialized successfully")
	}

	splitter := document.NewFragmentSplitter(document.WithLogger(logger))
	migrationService := services.NewMigrationService(splitter, materializer, migrationOpts...)
	paragraphService := services.NewParagraphService(paragraphRepo, mediaRepo, migrationRepo, logger)

	// 启动工作者
	if queue != nil && appConfig.Queue.Worker {
		worker, err := setupWorker(queue, appConfig.Queue, logger, services.NewMigrationTaskHandler(migrationService))
		if err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
		defer worker.Stop()
	}

	// 设置路由
	var extra []gin.HandlerFunc
	if appConfig.Server.Cors {
		extra = append(extra, api.Cors())
	}
	r := api.SetupRouter(api.Handlers{
		Split:     handler.NewSplitHandler(migrationService),
		Migration: handler.NewMigrationHandler(migrationService, paragraphService),
		Paragraph: handler.NewParagraphHandler(paragraphService),
		Task:      handler.NewTaskHandler(migrationService),
		Health:    handler.NewHealthHandler(database.DB, queue != nil),
	}, m, extra...)

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port),
		Handler:      r,
		ReadTimeout:  appConfig.Server.ReadTimeout,
		WriteTimeout: appConfig.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() options {
	opts := options{}

	flag.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.IntVar(&opts.Port, "port", 8080, "Server port")
	flag.StringVar(&opts.Mode, "mode", "release", "Run mode (debug/release)")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&opts.LogFile, "log-file", "", "Rotating log file, empty for stdout only")
	flag.StringVar(&opts.BaseURL, "base-url", "", "Base URL for relative image sources")
	flag.BoolVar(&opts.Queue, "queue", false, "Enable task queue")
	flag.StringVar(&opts.RedisAddr, "redis-addr", "localhost:6379", "Redis address for task queue")
	flag.BoolVar(&opts.NoWorker, "no-worker", false, "Enqueue only, do not process tasks in this process")

	flag.Parse()
	return opts
}

// applyFlags 用命令行上明确设置的参数覆盖配置文件
func applyFlags(opts options, cfg *pmconfig.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = opts.Port
		case "mode":
			cfg.Server.Mode = opts.Mode
		case "log-level":
			cfg.Log.Level = opts.LogLevel
		case "log-file":
			cfg.Log.File = opts.LogFile
		case "base-url":
			cfg.Fetch.BaseURL = opts.BaseURL
		case "queue":
			cfg.Queue.Enable = opts.Queue
		case "redis-addr":
			cfg.Queue.RedisAddr = opts.RedisAddr
		case "no-worker":
			cfg.Queue.Worker = !opts.NoWorker
		}
	})

	if os.Getenv("DEBUG") == "true" {
		cfg.Log.Level = "debug"
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Queue.RedisAddr = redisAddr
	}
}

// setupLogger 设置日志系统
// 配置了日志文件时同时输出到标准输出和按大小滚动的文件
func setupLogger(cfg pmconfig.LogConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}))
	}

	return logger
}

// setupStorage 设置文件存储服务
func setupStorage(cfg pmconfig.StorageConfig) (storage.Storage, error) {
	return storage.New(storage.Config{
		Type:  cfg.Type,
		Local: storage.LocalConfig{Path: cfg.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		},
	})
}

// setupCache 设置缓存服务
func setupCache(cfg pmconfig.CacheConfig) (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Type
	cacheConfig.RedisAddr = cfg.Address
	cacheConfig.RedisPassword = cfg.Password
	cacheConfig.RedisDB = cfg.DB
	if cfg.KeyPrefix != "" {
		cacheConfig.KeyPrefix = cfg.KeyPrefix
	}
	if cfg.TTL > 0 {
		cacheConfig.DefaultTTL = time.Duration(cfg.TTL) * time.Second
	}

	return cache.NewCache(cacheConfig)
}

// setupDatabase 设置数据库
func setupDatabase(cfg pmconfig.DatabaseConfig, logger *logrus.Logger) error {
	dbConfig := database.DefaultConfig()
	if cfg.Type != "" {
		dbConfig.Type = cfg.Type
	}
	if cfg.DSN != "" {
		dbConfig.DSN = cfg.DSN
	}

	return database.Setup(dbConfig, logger)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg pmconfig.QueueConfig, logger *logrus.Logger) (taskqueue.Queue, error) {
	queueConfig := queueConfigFrom(cfg, logger)

	logger.WithFields(logrus.Fields{
		"type":        cfg.Type,
		"redis_addr":  cfg.RedisAddr,
		"concurrency": cfg.Concurrency,
		"retry_limit": cfg.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue(cfg.Type, queueConfig)
}

// setupWorker 注册迁移任务处理器并启动工作者
func setupWorker(queue taskqueue.Queue, cfg pmconfig.QueueConfig, logger *logrus.Logger, h taskqueue.Handler) (taskqueue.Worker, error) {
	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		return nil, fmt.Errorf("worker requires a redis queue, got %T", queue)
	}

	worker := taskqueue.NewRedisWorker(redisQueue, queueConfigFrom(cfg, logger))
	for _, t := range h.GetTaskTypes() {
		worker.RegisterHandler(t, h)
	}

	// Start 会阻塞直到服务器启动完成
	if err := worker.Start(); err != nil {
		return nil, err
	}
	logger.WithField("concurrency", cfg.Concurrency).Info("Task worker started")
	return worker, nil
}

func queueConfigFrom(cfg pmconfig.QueueConfig, logger *logrus.Logger) *taskqueue.Config {
	return &taskqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Concurrency:   cfg.Concurrency,
		RetryLimit:    cfg.RetryLimit,
		RetryDelay:    time.Duration(cfg.RetryDelay) * time.Second,
		Logger:        logger,
	}
}
