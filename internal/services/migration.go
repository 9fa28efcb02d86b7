package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptySourceID 源记录ID为空
	ErrEmptySourceID = errors.New("source ID cannot be empty")
	// ErrMigrationInProgress 同一源记录正在迁移
	ErrMigrationInProgress = errors.New("migration already in progress")
	// ErrAlreadyMigrated 源记录已迁移完成且未要求强制重跑
	ErrAlreadyMigrated = errors.New("record already migrated")
	// ErrAsyncDisabled 没有配置任务队列
	ErrAsyncDisabled = errors.New("async migration is not enabled")
)

// MigrateRequest 迁移请求
type MigrateRequest struct {
	SourceID string              // 源记录ID
	Body     string              // 正文
	Format   document.BodyFormat // 正文格式
	Force    bool                // 已完成的记录是否重新迁移
}

// MigrateResult 迁移结果
type MigrateResult struct {
	SourceID    string                 `json:"source_id"`
	Status      models.MigrationStatus `json:"status"`
	References  []Reference            `json:"references"`
	TextBlocks  int                    `json:"text_blocks"`
	ImageBlocks int                    `json:"image_blocks"`
	Skipped     bool                   `json:"skipped"` // 已迁移过，直接返回保存的结果
}

// MigrationService 迁移服务
// 负责协调正文分割、段落创建和迁移记录
type MigrationService struct {
	splitter     document.Splitter              // 正文分割器
	materializer BlockMaterializer              // 段落创建器
	records      repository.MigrationRepository // 迁移记录仓储
	taskQueue    taskqueue.Queue                // 任务队列
	metrics      metrics.Metrics                // 指标
	timeout      time.Duration                  // 单条记录的处理超时
	logger       *logrus.Logger                 // 日志记录器
}

// MigrationOption 迁移服务配置选项
type MigrationOption func(*MigrationService)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) MigrationOption {
	return func(s *MigrationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMigrationRepository 设置迁移记录仓储
func WithMigrationRepository(repo repository.MigrationRepository) MigrationOption {
	return func(s *MigrationService) {
		s.records = repo
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) MigrationOption {
	return func(s *MigrationService) {
		s.taskQueue = queue
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m metrics.Metrics) MigrationOption {
	return func(s *MigrationService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTimeout 设置处理超时时间
func WithTimeout(timeout time.Duration) MigrationOption {
	return func(s *MigrationService) {
		s.timeout = timeout
	}
}

// NewMigrationService 创建迁移服务
func NewMigrationService(splitter document.Splitter, materializer BlockMaterializer, opts ...MigrationOption) *MigrationService {
	s := &MigrationService{
		splitter:     splitter,
		materializer: materializer,
		metrics:      metrics.Nop(),
		timeout:      5 * time.Minute,
		logger:       logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.records == nil {
		s.records = repository.NewMigrationRepository()
	}
	return s
}

// AsyncEnabled 是否可以异步迁移
func (s *MigrationService) AsyncEnabled() bool {
	return s.taskQueue != nil
}

// Preview 只分割正文，不做任何持久化
func (s *MigrationService) Preview(body string, format document.BodyFormat) ([]document.Block, error) {
	html, err := document.NormalizeBody(body, format)
	if err != nil {
		return nil, err
	}
	blocks, err := s.splitter.Split(html)
	if err != nil {
		return nil, err
	}
	text, image := document.CountBlocks(blocks)
	s.metrics.ObserveBlocks(text, image)
	return blocks, nil
}

// Migrate 同步迁移一条源记录
// 已完成的记录在没有Force时直接返回保存的引用
func (s *MigrationService) Migrate(ctx context.Context, req MigrateRequest) (*MigrateResult, error) {
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		return nil, ErrEmptySourceID
	}
	format, err := document.ParseFormat(string(req.Format))
	if err != nil {
		return nil, err
	}

	log := s.logger.WithField("source_id", req.SourceID)

	blocked := []models.MigrationStatus{models.MigrationProcessing}
	if !req.Force {
		blocked = append(blocked, models.MigrationCompleted)
	}
	claimed, err := s.records.Claim(&models.MigrationRecord{
		SourceID: req.SourceID,
		Status:   models.MigrationProcessing,
		Format:   string(format),
	}, s.staleBefore(), blocked...)
	if err != nil {
		return nil, fmt.Errorf("failed to record migration start: %w", err)
	}
	if !claimed {
		existing, err := s.records.GetBySourceID(req.SourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load migration record: %w", err)
		}
		if existing.Status == models.MigrationCompleted {
			log.Debug("Record already migrated, returning stored references")
			return storedResult(existing)
		}
		return nil, fmt.Errorf("%w: %s", ErrMigrationInProgress, req.SourceID)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.run(ctx, req.SourceID, req.Body, format)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.ObserveMigration(string(models.MigrationFailed), elapsed)
		if updateErr := s.records.UpdateStatus(req.SourceID, models.MigrationFailed, err.Error()); updateErr != nil {
			log.WithError(updateErr).Error("Failed to mark migration as failed")
		}
		log.WithError(err).Warn("Migration failed")
		return nil, err
	}

	s.metrics.ObserveMigration(string(models.MigrationCompleted), elapsed)
	log.WithFields(logrus.Fields{
		"paragraphs":   len(result.References),
		"text_blocks":  result.TextBlocks,
		"image_blocks": result.ImageBlocks,
	}).Info("Record migrated")

	return result, nil
}

// run 分割并创建段落，成功后保存结果
func (s *MigrationService) run(ctx context.Context, sourceID, body string, format document.BodyFormat) (*MigrateResult, error) {
	blocks, err := s.Preview(body, format)
	if err != nil {
		return nil, fmt.Errorf("split failed: %w", err)
	}
	text, image := document.CountBlocks(blocks)

	refs, err := s.materializer.Materialize(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("materialize failed: %w", err)
	}

	if err := s.records.SaveResult(sourceID, refs, text, image); err != nil {
		return nil, fmt.Errorf("failed to save migration result: %w", err)
	}

	return &MigrateResult{
		SourceID:    sourceID,
		Status:      models.MigrationCompleted,
		References:  refs,
		TextBlocks:  text,
		ImageBlocks: image,
	}, nil
}

// Enqueue 把迁移放入任务队列，返回任务ID
func (s *MigrationService) Enqueue(ctx context.Context, req MigrateRequest) (string, error) {
	if s.taskQueue == nil {
		return "", ErrAsyncDisabled
	}
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		return "", ErrEmptySourceID
	}
	format, err := document.ParseFormat(string(req.Format))
	if err != nil {
		return "", err
	}

	// 排队中和处理中的记录都不重复入队
	blocked := []models.MigrationStatus{models.MigrationPending, models.MigrationProcessing}
	if !req.Force {
		blocked = append(blocked, models.MigrationCompleted)
	}
	claimed, err := s.records.Claim(&models.MigrationRecord{
		SourceID: req.SourceID,
		Status:   models.MigrationPending,
		Format:   string(format),
	}, s.staleBefore(), blocked...)
	if err != nil {
		return "", fmt.Errorf("failed to record pending migration: %w", err)
	}
	if !claimed {
		existing, err := s.records.GetBySourceID(req.SourceID)
		if err != nil {
			return "", fmt.Errorf("failed to load migration record: %w", err)
		}
		if existing.Status == models.MigrationCompleted {
			return "", fmt.Errorf("%w: %s", ErrAlreadyMigrated, req.SourceID)
		}
		return "", fmt.Errorf("%w: %s", ErrMigrationInProgress, req.SourceID)
	}

	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskMigrateRecord, req.SourceID, &taskqueue.MigrateRecordPayload{
		SourceID: req.SourceID,
		Body:     req.Body,
		Format:   string(format),
		Force:    req.Force,
	})
	if err != nil {
		_ = s.records.UpdateStatus(req.SourceID, models.MigrationFailed, err.Error())
		return "", fmt.Errorf("failed to enqueue migration: %w", err)
	}

	if err := s.records.SetTaskID(req.SourceID, taskID); err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to attach task to migration record")
	}

	s.logger.WithFields(logrus.Fields{
		"source_id": req.SourceID,
		"task_id":   taskID,
	}).Info("Migration enqueued")

	return taskID, nil
}

// GetRecord 获取迁移记录
func (s *MigrationService) GetRecord(sourceID string) (*models.MigrationRecord, error) {
	return s.records.GetBySourceID(sourceID)
}

// ListRecords 分页列出迁移记录
func (s *MigrationService) ListRecords(offset, limit int, status models.MigrationStatus) ([]*models.MigrationRecord, int64, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrInvalidMigrationStatus, status)
	}
	filters := map[string]interface{}{}
	if status != "" {
		filters["status"] = status
	}
	return s.records.List(offset, limit, filters)
}

// GetTask 获取异步任务信息
func (s *MigrationService) GetTask(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	if s.taskQueue == nil {
		return nil, ErrAsyncDisabled
	}
	return s.taskQueue.GetTask(ctx, taskID)
}

// ListTasks 列出源记录的异步任务
func (s *MigrationService) ListTasks(ctx context.Context, sourceID string) ([]*taskqueue.Task, error) {
	if s.taskQueue == nil {
		return nil, ErrAsyncDisabled
	}
	return s.taskQueue.GetTasksBySource(ctx, sourceID)
}

// WaitTask 等待任务结束，超时后返回任务的当前状态
func (s *MigrationService) WaitTask(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	if s.taskQueue == nil {
		return nil, ErrAsyncDisabled
	}
	if timeout <= 0 {
		return s.taskQueue.GetTask(ctx, taskID)
	}
	task, err := s.taskQueue.WaitForTask(ctx, taskID, timeout)
	if errors.Is(err, taskqueue.ErrTaskTimeout) {
		return s.taskQueue.GetTask(ctx, taskID)
	}
	return task, err
}

// DeleteTask 删除异步任务
// 处理中的任务不能删除；删除还在排队的任务时，对应的pending记录标记为失败，之后可以重新入队
func (s *MigrationService) DeleteTask(ctx context.Context, taskID string) error {
	if s.taskQueue == nil {
		return ErrAsyncDisabled
	}
	task, err := s.taskQueue.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == taskqueue.StatusProcessing {
		return fmt.Errorf("%w: task %s", ErrMigrationInProgress, taskID)
	}
	if err := s.taskQueue.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"source_id": task.SourceID,
		"task_id":   taskID,
	})
	if task.Status.Finished() {
		log.Info("Finished task deleted")
		return nil
	}

	record, err := s.records.GetBySourceID(task.SourceID)
	if err != nil {
		if errors.Is(err, models.ErrMigrationNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load migration record: %w", err)
	}
	if record.TaskID != taskID {
		return nil
	}
	released, err := s.records.Claim(&models.MigrationRecord{
		SourceID: record.SourceID,
		Status:   models.MigrationFailed,
		Format:   record.Format,
		Error:    "task deleted before it ran",
	}, time.Time{}, models.MigrationProcessing, models.MigrationCompleted, models.MigrationFailed)
	if err != nil {
		return fmt.Errorf("failed to release migration record: %w", err)
	}
	log.WithField("released", released).Info("Pending task deleted")
	return nil
}

// staleBefore 返回处理中记录的过期时间点，早于它未更新的记录视为已中断
// 没有设置超时时不判断过期
func (s *MigrationService) staleBefore() time.Time {
	if s.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-2 * s.timeout)
}

// storedResult 从已完成的迁移记录构建结果
func storedResult(record *models.MigrationRecord) (*MigrateResult, error) {
	refs, err := repository.DecodeReferences(record)
	if err != nil {
		return nil, err
	}
	return &MigrateResult{
		SourceID:    record.SourceID,
		Status:      record.Status,
		References:  refs,
		TextBlocks:  record.TextBlocks,
		ImageBlocks: record.ImageBlocks,
		Skipped:     true,
	}, nil
}
