package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MigrationStatus 迁移状态
type MigrationStatus string

const (
	// MigrationPending 等待处理
	MigrationPending MigrationStatus = "pending"
	// MigrationProcessing 处理中
	MigrationProcessing MigrationStatus = "processing"
	// MigrationCompleted 处理完成
	MigrationCompleted MigrationStatus = "completed"
	// MigrationFailed 处理失败
	MigrationFailed MigrationStatus = "failed"
)

// Valid 判断状态是否合法
func (s MigrationStatus) Valid() bool {
	switch s {
	case MigrationPending, MigrationProcessing, MigrationCompleted, MigrationFailed:
		return true
	}
	return false
}

// ParagraphRef 段落引用，宿主实体的段落字段按此顺序保存
type ParagraphRef struct {
	TargetID         uint `json:"target_id"`
	TargetRevisionID uint `json:"target_revision_id"`
}

// MigrationRecord 一条源记录的迁移状态
type MigrationRecord struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`       // 主键ID
	SourceID    string          `gorm:"not null;uniqueIndex"`           // 源记录ID
	Status      MigrationStatus `gorm:"size:20;not null;index"`         // 迁移状态
	Format      string          `gorm:"size:20"`                        // 正文格式
	BlockCount  int             `gorm:"not null;default:0"`             // 内容块数量
	TextBlocks  int             `gorm:"not null;default:0"`             // 文本块数量
	ImageBlocks int             `gorm:"not null;default:0"`             // 图片块数量
	References  datatypes.JSON  `gorm:"column:paragraph_refs;type:json"` // 段落引用列表
	Error       string          `gorm:"type:text"`                      // 错误信息
	TaskID      string          `gorm:"size:50;index"`                  // 关联的任务ID
	CreatedAt   time.Time       `gorm:"not null;index"`                 // 创建时间
	UpdatedAt   time.Time       `gorm:"not null"`                       // 更新时间
	CompletedAt *time.Time      `gorm:""`                               // 完成时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (m *MigrationRecord) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = MigrationPending
	}
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (m *MigrationRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	m.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (MigrationRecord) TableName() string {
	return "migration_records"
}
