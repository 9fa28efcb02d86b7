package model

import (
	"encoding/json"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// BlockInfo 内容块
type BlockInfo struct {
	Kind string `json:"kind"`           // text 或 image
	HTML string `json:"html,omitempty"` // 文本块的HTML
	Src  string `json:"src,omitempty"`  // 图片地址
	Alt  string `json:"alt,omitempty"`  // 图片替代文本
}

// SplitResponse 分割预览响应
type SplitResponse struct {
	Blocks      []BlockInfo `json:"blocks"`
	TextBlocks  int         `json:"text_blocks"`
	ImageBlocks int         `json:"image_blocks"`
}

// NewSplitResponse 把内容块转换为响应
func NewSplitResponse(blocks []document.Block) SplitResponse {
	infos := make([]BlockInfo, 0, len(blocks))
	for _, b := range blocks {
		switch blk := b.(type) {
		case document.TextBlock:
			infos = append(infos, BlockInfo{Kind: string(document.KindText), HTML: blk.HTML})
		case document.ImageBlock:
			infos = append(infos, BlockInfo{Kind: string(document.KindImage), Src: blk.Src, Alt: blk.Alt})
		}
	}
	text, image := document.CountBlocks(blocks)
	return SplitResponse{Blocks: infos, TextBlocks: text, ImageBlocks: image}
}

// MigrationAcceptedResponse 异步迁移已入队
type MigrationAcceptedResponse struct {
	SourceID string `json:"source_id"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
}

// MigrationRecordResponse 迁移记录
type MigrationRecordResponse struct {
	SourceID    string                `json:"source_id"`
	Status      string                `json:"status"`
	Format      string                `json:"format"`
	BlockCount  int                   `json:"block_count"`
	TextBlocks  int                   `json:"text_blocks"`
	ImageBlocks int                   `json:"image_blocks"`
	References  []models.ParagraphRef `json:"references"`
	Error       string                `json:"error,omitempty"`
	TaskID      string                `json:"task_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// NewMigrationRecordResponse 转换迁移记录，引用无法解析时返回空列表
func NewMigrationRecordResponse(r *models.MigrationRecord) MigrationRecordResponse {
	refs, err := repository.DecodeReferences(r)
	if err != nil || refs == nil {
		refs = []models.ParagraphRef{}
	}
	return MigrationRecordResponse{
		SourceID:    r.SourceID,
		Status:      string(r.Status),
		Format:      r.Format,
		BlockCount:  r.BlockCount,
		TextBlocks:  r.TextBlocks,
		ImageBlocks: r.ImageBlocks,
		References:  refs,
		Error:       r.Error,
		TaskID:      r.TaskID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// MigrationListResponse 迁移记录列表响应
type MigrationListResponse struct {
	PaginationResponse
	Records []MigrationRecordResponse `json:"records"`
}

// TaskResponse 任务状态响应
type TaskResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SourceID  string          `json:"source_id"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewTaskResponse 转换任务信息
func NewTaskResponse(t *taskqueue.Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Type:      string(t.Type),
		SourceID:  t.SourceID,
		Status:    string(t.Status),
		Attempts:  t.Attempts,
		Error:     t.Error,
		Result:    t.Result,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}
