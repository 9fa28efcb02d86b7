package handler

import (
	"net/http"

	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/api/model"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MigrationHandler 处理迁移相关的API请求
type MigrationHandler struct {
	migrations *services.MigrationService
	paragraphs *services.ParagraphService
	logger     *logrus.Logger
}

// NewMigrationHandler 创建迁移处理器
func NewMigrationHandler(migrations *services.MigrationService, paragraphs *services.ParagraphService) *MigrationHandler {
	return &MigrationHandler{
		migrations: migrations,
		paragraphs: paragraphs,
		logger:     middleware.GetLogger(),
	}
}

// Migrate 迁移一条源记录
// async=true 时入队并返回 202 和任务ID，否则同步迁移并返回段落引用
// POST /api/migrations
func (h *MigrationHandler) Migrate(c *gin.Context) {
	var req model.MigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid migration request")
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	migrateReq := services.MigrateRequest{
		SourceID: req.SourceID,
		Body:     req.Body,
		Format:   document.BodyFormat(req.Format),
		Force:    req.Force,
	}

	if req.Async {
		taskID, err := h.migrations.Enqueue(c.Request.Context(), migrateReq)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.MigrationAcceptedResponse{
			SourceID: req.SourceID,
			TaskID:   taskID,
			Status:   string(models.MigrationPending),
		}))
		return
	}

	result, err := h.migrations.Migrate(c.Request.Context(), migrateReq)
	if err != nil {
		fail(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		middleware.FieldSourceID: result.SourceID,
		"paragraphs":             len(result.References),
		"skipped":                result.Skipped,
	}).Info("Migration request served")

	c.JSON(http.StatusOK, model.NewSuccessResponse(result))
}

// ListMigrations 分页列出迁移记录
// GET /api/migrations
func (h *MigrationHandler) ListMigrations(c *gin.Context) {
	var req model.MigrationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	records, total, err := h.migrations.ListRecords(req.Offset(), req.GetPageSize(), models.MigrationStatus(req.Status))
	if err != nil {
		fail(c, err)
		return
	}

	items := make([]model.MigrationRecordResponse, len(records))
	for i, r := range records {
		items[i] = model.NewMigrationRecordResponse(r)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.MigrationListResponse{
		PaginationResponse: model.PaginationResponse{
			Total:    int(total),
			Page:     req.GetPage(),
			PageSize: req.GetPageSize(),
		},
		Records: items,
	}))
}

// GetMigration 获取单条迁移记录
// GET /api/migrations/:source_id
func (h *MigrationHandler) GetMigration(c *gin.Context) {
	var req model.SourceRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("source ID is required"))
		return
	}

	record, err := h.migrations.GetRecord(req.SourceID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewMigrationRecordResponse(record)))
}

// ListParagraphs 按正文顺序返回迁移出的段落
// GET /api/migrations/:source_id/paragraphs
func (h *MigrationHandler) ListParagraphs(c *gin.Context) {
	var req model.SourceRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("source ID is required"))
		return
	}

	views, err := h.paragraphs.ListForSource(req.SourceID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"source_id":  req.SourceID,
		"paragraphs": views,
	}))
}
