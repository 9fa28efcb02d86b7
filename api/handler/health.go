package handler

import (
	"net/http"

	"github.com/fyerfyer/paragraph-migrate/api/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查
type HealthHandler struct {
	db    *gorm.DB
	async bool
}

// NewHealthHandler 创建健康检查处理器，db为nil时跳过数据库检查
func NewHealthHandler(db *gorm.DB, async bool) *HealthHandler {
	return &HealthHandler{db: db, async: async}
}

// Health 返回服务状态
// GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	status := gin.H{
		"status":   "ok",
		"database": "ok",
		"async":    h.async,
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, model.NewSuccessResponse(status))
			return
		}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(status))
}
