package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/database"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// migrationRepo 迁移记录仓储实现
type migrationRepo struct {
	db *gorm.DB // 数据库连接
}

// NewMigrationRepository 创建迁移记录仓储实例
func NewMigrationRepository() MigrationRepository {
	return &migrationRepo{
		db: database.MustDB(),
	}
}

// NewMigrationRepositoryWithDB 使用指定的数据库连接创建迁移记录仓储实例
func NewMigrationRepositoryWithDB(db *gorm.DB) MigrationRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &migrationRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *migrationRepo) WithContext(ctx context.Context) MigrationRepository {
	return &migrationRepo{
		db: r.db.WithContext(ctx),
	}
}

// Claim 原子地把记录切换到record.Status，记录不存在时直接创建
// 当前状态在blocked中时不做修改并返回false；staleBefore非零时，更新时间早于它的processing记录视为中断，可以被接管
func (r *migrationRepo) Claim(record *models.MigrationRecord, staleBefore time.Time, blocked ...models.MigrationStatus) (bool, error) {
	if record.SourceID == "" {
		return false, errors.New("source ID cannot be empty")
	}
	if !record.Status.Valid() {
		return false, fmt.Errorf("%w: %s", models.ErrInvalidMigrationStatus, record.Status)
	}

	created := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		DoNothing: true,
	}).Create(record)
	if created.Error != nil {
		return false, fmt.Errorf("failed to create migration record: %w", created.Error)
	}
	if created.RowsAffected > 0 {
		return true, nil
	}

	query := r.db.Model(&models.MigrationRecord{}).Where("source_id = ?", record.SourceID)
	if len(blocked) > 0 {
		statuses := make([]string, len(blocked))
		for i, st := range blocked {
			statuses[i] = string(st)
		}
		if staleBefore.IsZero() {
			query = query.Where("status NOT IN ?", statuses)
		} else {
			query = query.Where(r.db.Where("status NOT IN ?", statuses).
				Or("status = ? AND updated_at < ?", models.MigrationProcessing, staleBefore))
		}
	}

	updated := query.Updates(map[string]interface{}{
		"status":     record.Status,
		"format":     record.Format,
		"error":      record.Error,
		"updated_at": time.Now(),
	})
	if updated.Error != nil {
		return false, fmt.Errorf("failed to claim migration record: %w", updated.Error)
	}
	return updated.RowsAffected > 0, nil
}

// GetBySourceID 根据源记录ID获取迁移记录
func (r *migrationRepo) GetBySourceID(sourceID string) (*models.MigrationRecord, error) {
	var record models.MigrationRecord
	err := r.db.Where("source_id = ?", sourceID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrMigrationNotFound, sourceID)
		}
		return nil, err
	}
	return &record, nil
}

// UpdateStatus 更新迁移状态
func (r *migrationRepo) UpdateStatus(sourceID string, status models.MigrationStatus, errorMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidMigrationStatus, status)
	}

	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	if status == models.MigrationCompleted || status == models.MigrationFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}

	return r.updates(sourceID, updates)
}

// SetTaskID 设置关联的任务ID
func (r *migrationRepo) SetTaskID(sourceID, taskID string) error {
	return r.updates(sourceID, map[string]interface{}{
		"task_id":    taskID,
		"updated_at": time.Now(),
	})
}

// SaveResult 保存迁移结果
func (r *migrationRepo) SaveResult(sourceID string, refs []models.ParagraphRef, textBlocks, imageBlocks int) error {
	if refs == nil {
		refs = []models.ParagraphRef{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to marshal references: %w", err)
	}

	now := time.Now()
	return r.updates(sourceID, map[string]interface{}{
		"status":         models.MigrationCompleted,
		"block_count":    textBlocks + imageBlocks,
		"text_blocks":    textBlocks,
		"image_blocks":   imageBlocks,
		"paragraph_refs": datatypes.JSON(data),
		"error":          "",
		"updated_at":     now,
		"completed_at":   &now,
	})
}

// updates 按SourceID更新字段，记录不存在时返回ErrMigrationNotFound
func (r *migrationRepo) updates(sourceID string, updates map[string]interface{}) error {
	result := r.db.Model(&models.MigrationRecord{}).
		Where("source_id = ?", sourceID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrMigrationNotFound, sourceID)
	}
	return nil
}

// List 列出迁移记录
func (r *migrationRepo) List(offset, limit int, filters map[string]interface{}) ([]*models.MigrationRecord, int64, error) {
	var records []*models.MigrationRecord
	var total int64

	// 创建查询构造器
	query := r.db.Model(&models.MigrationRecord{})

	// 应用筛选条件
	if filters != nil {
		switch s := filters["status"].(type) {
		case models.MigrationStatus:
			if s != "" {
				query = query.Where("status = ?", string(s))
			}
		case string:
			if s != "" {
				query = query.Where("status = ?", s)
			}
		}

		if prefix, ok := filters["source_prefix"].(string); ok && prefix != "" {
			query = query.Where("source_id LIKE ?", prefix+"%")
		}
	}

	// 获取总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 应用排序、分页并执行查询
	err := query.Order("created_at DESC").Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// DecodeReferences 解析迁移记录中保存的段落引用
func DecodeReferences(record *models.MigrationRecord) ([]models.ParagraphRef, error) {
	refs := []models.ParagraphRef{}
	if record == nil || len(record.References) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(record.References, &refs); err != nil {
		return nil, fmt.Errorf("failed to decode references: %w", err)
	}
	return refs, nil
}
