package handler

import (
	"net/http"

	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/api/model"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SplitHandler 处理正文分割预览请求
type SplitHandler struct {
	migrations *services.MigrationService
	logger     *logrus.Logger
}

// NewSplitHandler 创建分割预览处理器
func NewSplitHandler(migrations *services.MigrationService) *SplitHandler {
	return &SplitHandler{
		migrations: migrations,
		logger:     middleware.GetLogger(),
	}
}

// Split 预览正文分割结果，不写入任何数据
// POST /api/split
func (h *SplitHandler) Split(c *gin.Context) {
	var req model.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid split request")
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	format, err := document.ParseFormat(req.Format)
	if err != nil {
		fail(c, err)
		return
	}

	blocks, err := h.migrations.Preview(req.Body, format)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewSplitResponse(blocks)))
}
