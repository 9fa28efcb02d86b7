package models

import (
	"time"

	"gorm.io/gorm"
)

// MediaBundle 媒体类型
type MediaBundle string

const (
	// BundleImage 图片媒体
	BundleImage MediaBundle = "image"
)

// File 托管文件
// URI 形如 public://2024-05/cat.jpg，SourceURL 记录下载来源用于去重
type File struct {
	ID          string    `gorm:"primaryKey;size:36"` // 文件ID
	URI         string    `gorm:"not null"`           // 文件URI
	StoragePath string    `gorm:"not null"`           // 存储后端中的路径
	Filename    string    `gorm:"not null"`           // 文件名
	MimeType    string    `gorm:"size:100"`           // MIME类型
	Size        int64     `gorm:"not null;default:0"` // 文件大小（字节）
	SourceURL   string    `gorm:"index;size:2048"`    // 来源URL
	CreatedAt   time.Time `gorm:"not null;index"`     // 创建时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (f *File) BeforeCreate(tx *gorm.DB) (err error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (File) TableName() string {
	return "files"
}

// Media 媒体实体
type Media struct {
	ID        uint        `gorm:"primaryKey;autoIncrement"` // 媒体ID
	Bundle    MediaBundle `gorm:"size:20;not null;index"`   // 媒体类型
	OwnerID   uint        `gorm:"not null;default:0"`       // 所有者用户ID
	FileID    string      `gorm:"size:36;not null;index"`   // 关联文件ID
	File      *File       `gorm:"foreignKey:FileID"`        // 关联文件
	Alt       string      `gorm:"type:text"`                // 替代文本
	CreatedAt time.Time   `gorm:"not null"`                 // 创建时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (m *Media) BeforeCreate(tx *gorm.DB) (err error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (Media) TableName() string {
	return "media"
}
