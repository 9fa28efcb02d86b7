package handler

import (
	"net/http"

	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/api/model"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	migrations *services.MigrationService // 迁移服务，任务操作经由它访问队列
	logger     *logrus.Logger             // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(migrations *services.MigrationService) *TaskHandler {
	return &TaskHandler{
		migrations: migrations,
		logger:     middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态，wait参数大于0时等待任务结束
// GET /api/tasks/:id?wait=10s
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var req model.TaskRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid task ID", err.Error()))
		return
	}
	var query model.TaskWaitQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid wait duration", err.Error()))
		return
	}

	task, err := h.migrations.WaitTask(c.Request.Context(), req.ID, query.Wait)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", req.ID).Debug("Failed to get task")
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewTaskResponse(task)))
}

// DeleteTask 删除任务
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	var req model.TaskRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid task ID", err.Error()))
		return
	}

	if err := h.migrations.DeleteTask(c.Request.Context(), req.ID); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{"task_id": req.ID}))
}

// GetSourceTasks 获取源记录相关的所有任务
// GET /api/migrations/:source_id/tasks
func (h *TaskHandler) GetSourceTasks(c *gin.Context) {
	var req model.SourceRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("source ID is required"))
		return
	}

	tasks, err := h.migrations.ListTasks(c.Request.Context(), req.SourceID)
	if err != nil {
		h.logger.WithError(err).WithField(middleware.FieldSourceID, req.SourceID).Warn("Failed to get source tasks")
		fail(c, err)
		return
	}

	items := make([]model.TaskResponse, len(tasks))
	for i, t := range tasks {
		items[i] = model.NewTaskResponse(t)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"source_id": req.SourceID,
		"tasks":     items,
	}))
}
