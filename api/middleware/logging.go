package middleware

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 常用日志字段
const (
	FieldTraceID  = "trace_id"    // 追踪ID
	FieldSourceID = "source_id"   // 源记录ID
	FieldRoute    = "route"       // 路由模板
	FieldPath     = "path"        // 请求路径
	FieldMethod   = "method"      // 请求方法
	FieldStatus   = "status_code" // 状态码
	FieldLatency  = "latency"     // 延迟时间
	FieldClientIP = "client_ip"   // 客户端IP
	FieldError    = "error"       // 错误信息
)

// traceIDKey 追踪ID在gin上下文中的键
const traceIDKey = "TraceID"

// maxLoggedBody 调试日志中请求体和响应体的最大字节数，迁移正文可能很大
const maxLoggedBody = 4096

var log = logrus.New()

func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// GetLogger 返回API层共用的日志记录器
func GetLogger() *logrus.Logger {
	return log
}

// SetLogger 替换API层的日志记录器，通常在启动时用配置好的记录器调用
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// SetTraceID 沿用请求头中的X-Trace-ID，没有时生成新的追踪ID
func SetTraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}
		c.Set(traceIDKey, traceID)
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

// Logger 访问日志中间件
// 按路由模板记录请求，带source_id参数的路由额外记录源记录ID；4xx记为Warn，5xx记为Error
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			FieldTraceID:  traceIDOf(c),
			FieldMethod:   c.Request.Method,
			FieldRoute:    c.FullPath(),
			FieldPath:     c.Request.URL.Path,
			FieldStatus:   status,
			FieldLatency:  time.Since(start).String(),
			FieldClientIP: c.ClientIP(),
		}
		if sourceID := c.Param("source_id"); sourceID != "" {
			fields[FieldSourceID] = sourceID
		}
		entry := log.WithFields(fields)

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("HTTP request")
		case status >= http.StatusBadRequest:
			entry.Warn("HTTP request")
		case c.FullPath() == "/metrics" || c.FullPath() == "/api/health":
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}

// RequestBodyLog 在Debug级别记录请求体，超过maxLoggedBody的部分截断
func RequestBodyLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !log.IsLevelEnabled(logrus.DebugLevel) || c.Request.Body == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			log.WithError(err).WithField(FieldTraceID, traceIDOf(c)).Debug("Failed to read request body")
		} else if len(body) > 0 {
			log.WithFields(logrus.Fields{
				FieldTraceID: traceIDOf(c),
				FieldMethod:  c.Request.Method,
				FieldPath:    c.Request.URL.Path,
				"size":       len(body),
				"body":       truncate(body),
			}).Debug("Request body")
		}

		c.Next()
	}
}

// ResponseLogger 在Debug级别记录响应体，指标端点除外
func ResponseLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !log.IsLevelEnabled(logrus.DebugLevel) || c.FullPath() == "/metrics" {
			c.Next()
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		log.WithFields(logrus.Fields{
			FieldTraceID: traceIDOf(c),
			FieldMethod:  c.Request.Method,
			FieldPath:    c.Request.URL.Path,
			FieldStatus:  c.Writer.Status(),
			"size":       capture.size,
			"response":   truncate(capture.buf.Bytes()),
		}).Debug("Response body")
	}
}

// bodyCapture 转发响应的同时保留前maxLoggedBody字节
type bodyCapture struct {
	gin.ResponseWriter
	buf  bytes.Buffer
	size int
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.size += len(b)
	if room := maxLoggedBody + 1 - w.buf.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.buf.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// truncate 截断过长的日志内容
func truncate(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	return string(b[:maxLoggedBody]) + "...(truncated)"
}
