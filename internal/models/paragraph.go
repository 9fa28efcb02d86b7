package models

import (
	"time"

	"gorm.io/gorm"
)

// ParagraphType 段落类型
type ParagraphType string

const (
	// ParagraphTextArea 富文本段落
	ParagraphTextArea ParagraphType = "text_area"
	// ParagraphMedia 媒体段落
	ParagraphMedia ParagraphType = "media"
)

// Paragraph 段落实体
// RevisionID 指向当前修订版本，宿主实体通过 (ID, RevisionID) 引用段落
type Paragraph struct {
	ID         uint                `gorm:"primaryKey;autoIncrement"` // 段落ID
	Type       ParagraphType       `gorm:"size:20;not null;index"`   // 段落类型
	RevisionID uint                `gorm:"not null;default:0;index"` // 当前修订ID
	CreatedAt  time.Time           `gorm:"not null"`                 // 创建时间
	UpdatedAt  time.Time           `gorm:"not null"`                 // 更新时间
	Revisions  []ParagraphRevision `gorm:"foreignKey:ParagraphID"`   // 修订列表
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (p *Paragraph) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (p *Paragraph) BeforeUpdate(tx *gorm.DB) (err error) {
	p.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Paragraph) TableName() string {
	return "paragraphs"
}

// Current 返回当前修订，没有加载修订时返回nil
func (p *Paragraph) Current() *ParagraphRevision {
	for i := range p.Revisions {
		if p.Revisions[i].ID == p.RevisionID {
			return &p.Revisions[i]
		}
	}
	return nil
}

// ParagraphRevision 段落修订
// text_area 段落使用 TextValue/TextFormat，media 段落使用 MediaID
type ParagraphRevision struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"` // 修订ID
	ParagraphID uint      `gorm:"not null;index"`           // 所属段落ID
	TextValue   string    `gorm:"type:text"`                // 文本内容（HTML）
	TextFormat  string    `gorm:"size:50"`                  // 文本格式
	MediaID     *uint     `gorm:"index"`                    // 引用的媒体ID
	CreatedAt   time.Time `gorm:"not null"`                 // 创建时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (r *ParagraphRevision) BeforeCreate(tx *gorm.DB) (err error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (ParagraphRevision) TableName() string {
	return "paragraph_revisions"
}
