package model

import "time"

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 计算偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// SplitRequest 正文分割预览请求
type SplitRequest struct {
	Body   string `json:"body"`                                     // 正文
	Format string `json:"format" binding:"omitempty,body_format"` // 正文格式：html、markdown
}

// MigrationRequest 迁移请求
type MigrationRequest struct {
	SourceID string `json:"source_id" binding:"required,max=255"`   // 源记录ID
	Body     string `json:"body"`                                   // 正文
	Format   string `json:"format" binding:"omitempty,body_format"` // 正文格式
	Async    bool   `json:"async"`                                  // 是否异步迁移
	Force    bool   `json:"force"`                                  // 已完成的记录是否重新迁移
}

// MigrationListRequest 迁移记录列表请求
type MigrationListRequest struct {
	PaginationRequest
	Status string `form:"status" json:"status" binding:"omitempty,oneof=pending processing completed failed"` // 迁移状态
}

// SourceRequest 按源记录ID访问的请求
type SourceRequest struct {
	SourceID string `uri:"source_id" binding:"required"` // 源记录ID
}

// ParagraphRequest 段落查询请求
type ParagraphRequest struct {
	ID uint `uri:"id" binding:"required,min=1"` // 段落ID
}

// TaskRequest 任务查询请求
type TaskRequest struct {
	ID string `uri:"id" binding:"required,uuid"` // 任务ID
}

// TaskWaitQuery 任务等待参数，最长等待一分钟
type TaskWaitQuery struct {
	Wait time.Duration `form:"wait" binding:"omitempty,max=1m"` // 等待任务结束的时长
}
