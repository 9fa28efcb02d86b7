package middleware

import (
	"strconv"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics 记录每个路由的请求耗时
// 未匹配路由的请求统一记为 unmatched，避免标签基数失控
func Metrics(m metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTPRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
