package api

import (
	"github.com/fyerfyer/paragraph-migrate/api/handler"
	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Handlers 路由使用的全部处理器
type Handlers struct {
	Split     *handler.SplitHandler
	Migration *handler.MigrationHandler
	Paragraph *handler.ParagraphHandler
	Task      *handler.TaskHandler
	Health    *handler.HealthHandler
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件，extra 在内置中间件之前执行
func SetupRouter(h Handlers, m metrics.Metrics, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(extra...)
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics(m))
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api")
	{
		// 分割预览 - POST /api/split
		api.POST("/split", h.Split.Split)

		migrations := api.Group("/migrations")
		{
			// 迁移源记录 - POST /api/migrations
			migrations.POST("", h.Migration.Migrate)

			// 迁移记录列表 - GET /api/migrations
			migrations.GET("", h.Migration.ListMigrations)

			// 迁移记录 - GET /api/migrations/:source_id
			migrations.GET("/:source_id", h.Migration.GetMigration)

			// 迁移出的段落 - GET /api/migrations/:source_id/paragraphs
			migrations.GET("/:source_id/paragraphs", h.Migration.ListParagraphs)

			// 源记录的任务 - GET /api/migrations/:source_id/tasks
			migrations.GET("/:source_id/tasks", h.Task.GetSourceTasks)
		}

		// 段落 - GET /api/paragraphs/:id
		api.GET("/paragraphs/:id", h.Paragraph.GetParagraph)

		// 任务状态 - GET /api/tasks/:id
		api.GET("/tasks/:id", h.Task.GetTaskStatus)

		// 删除任务 - DELETE /api/tasks/:id
		api.DELETE("/tasks/:id", h.Task.DeleteTask)

		// 健康检查 - GET /api/health
		api.GET("/health", h.Health.Health)
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
