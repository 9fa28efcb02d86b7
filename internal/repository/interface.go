package repository

import (
	"context"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/models"
)

// ParagraphRepository 段落仓储接口
// 负责段落及其修订的存储和检索
type ParagraphRepository interface {
	// CreateText 创建富文本段落及其首个修订
	CreateText(value, format string) (*models.Paragraph, error)

	// CreateMedia 创建引用媒体的段落及其首个修订
	CreateMedia(mediaID uint) (*models.Paragraph, error)

	// GetByID 根据ID获取段落，包含修订
	GetByID(id uint) (*models.Paragraph, error)

	// ListByIDs 按给定顺序批量获取段落，不存在的ID被忽略
	ListByIDs(ids []uint) ([]*models.Paragraph, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) ParagraphRepository
}

// MediaRepository 媒体仓储接口
// 负责托管文件和图片媒体的存储和检索
type MediaRepository interface {
	// CreateFile 创建文件记录，ID为空时自动生成
	CreateFile(file *models.File) error

	// GetFileBySource 根据来源URL获取最早下载的文件
	GetFileBySource(sourceURL string) (*models.File, error)

	// CreateImageMedia 创建图片媒体
	CreateImageMedia(fileID, alt string, ownerID uint) (*models.Media, error)

	// GetByID 根据ID获取媒体，包含关联文件
	GetByID(id uint) (*models.Media, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) MediaRepository
}

// MigrationRepository 迁移记录仓储接口
type MigrationRepository interface {
	// Claim 原子地抢占迁移记录，当前状态被阻塞时返回false
	Claim(record *models.MigrationRecord, staleBefore time.Time, blocked ...models.MigrationStatus) (bool, error)

	// GetBySourceID 根据源记录ID获取迁移记录
	GetBySourceID(sourceID string) (*models.MigrationRecord, error)

	// UpdateStatus 更新迁移状态
	UpdateStatus(sourceID string, status models.MigrationStatus, errorMsg string) error

	// SetTaskID 设置关联的任务ID
	SetTaskID(sourceID, taskID string) error

	// SaveResult 保存迁移结果并标记为完成
	SaveResult(sourceID string, refs []models.ParagraphRef, textBlocks, imageBlocks int) error

	// List 列出迁移记录，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.MigrationRecord, int64, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) MigrationRepository
}
