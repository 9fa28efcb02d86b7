package services

import (
	"context"
	"errors"

	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/fetch"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
)

// MigrationTaskHandler 处理 migrate_record 任务
type MigrationTaskHandler struct {
	svc *MigrationService
}

// NewMigrationTaskHandler 创建迁移任务处理器
func NewMigrationTaskHandler(svc *MigrationService) *MigrationTaskHandler {
	return &MigrationTaskHandler{svc: svc}
}

// GetTaskTypes 返回支持的任务类型
func (h *MigrationTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskMigrateRecord}
}

// ProcessTask 执行迁移
// 输入本身有问题的错误不会因重试而改变，标记为不可重试
func (h *MigrationTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.MigrateRecordPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, taskqueue.Permanent(err)
	}
	if payload.SourceID == "" {
		payload.SourceID = task.SourceID
	}

	result, err := h.svc.Migrate(ctx, MigrateRequest{
		SourceID: payload.SourceID,
		Body:     payload.Body,
		Format:   document.BodyFormat(payload.Format),
		Force:    payload.Force,
	})
	if err != nil {
		if isPermanent(err) {
			return nil, taskqueue.Permanent(err)
		}
		return nil, err
	}

	refs := make([]taskqueue.ParagraphRef, len(result.References))
	for i, r := range result.References {
		refs[i] = taskqueue.ParagraphRef{TargetID: r.TargetID, TargetRevisionID: r.TargetRevisionID}
	}
	return &taskqueue.MigrateRecordResult{
		SourceID:    result.SourceID,
		References:  refs,
		TextBlocks:  result.TextBlocks,
		ImageBlocks: result.ImageBlocks,
	}, nil
}

// isPermanent 判断错误是否由输入决定
func isPermanent(err error) bool {
	return errors.Is(err, document.ErrNoImageFound) ||
		errors.Is(err, document.ErrUnsupportedFormat) ||
		errors.Is(err, fetch.ErrInvalidSource) ||
		errors.Is(err, fetch.ErrTooLarge) ||
		errors.Is(err, ErrEmptySourceID)
}
