package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskMigrateRecord 迁移单条源记录：分割正文并创建段落
	TaskMigrateRecord TaskType = "migrate_record"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Finished 判断任务是否已结束
func (s TaskStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	SourceID    string          `json:"source_id"`    // 关联的源记录ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据
	Result      json.RawMessage `json:"result"`       // 任务结果数据
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// MigrateRecordPayload 迁移任务载荷
type MigrateRecordPayload struct {
	SourceID string `json:"source_id"` // 源记录ID
	Body     string `json:"body"`      // 正文
	Format   string `json:"format"`    // 正文格式：html, markdown
	Force    bool   `json:"force"`     // 已完成的记录是否重新迁移
}

// ParagraphRef 段落引用
type ParagraphRef struct {
	TargetID         uint `json:"target_id"`
	TargetRevisionID uint `json:"target_revision_id"`
}

// MigrateRecordResult 迁移任务结果
type MigrateRecordResult struct {
	SourceID    string         `json:"source_id"`    // 源记录ID
	References  []ParagraphRef `json:"references"`   // 按正文顺序排列的段落引用
	TextBlocks  int            `json:"text_blocks"`  // 文本块数量
	ImageBlocks int            `json:"image_blocks"` // 图片块数量
}
