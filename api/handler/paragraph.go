package handler

import (
	"net/http"

	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/api/model"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/gin-gonic/gin"
)

// ParagraphHandler 处理段落查询请求
type ParagraphHandler struct {
	paragraphs *services.ParagraphService
}

// NewParagraphHandler 创建段落处理器
func NewParagraphHandler(paragraphs *services.ParagraphService) *ParagraphHandler {
	return &ParagraphHandler{paragraphs: paragraphs}
}

// GetParagraph 获取段落及其当前修订
// GET /api/paragraphs/:id
func (h *ParagraphHandler) GetParagraph(c *gin.Context) {
	var req model.ParagraphRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid paragraph ID", err.Error()))
		return
	}

	view, err := h.paragraphs.Get(req.ID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(view))
}
