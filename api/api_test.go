package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/paragraph-migrate/api/handler"
	"github.com/fyerfyer/paragraph-migrate/api/model"
	"github.com/fyerfyer/paragraph-migrate/internal/database"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/fetch"
	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/fyerfyer/paragraph-migrate/pkg/storage"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := model.RegisterValidators(); err != nil {
		panic(err)
	}
}

// 测试环境配置
type testEnv struct {
	Router     *gin.Engine
	Queue      taskqueue.Queue
	Migrations *services.MigrationService
}

// setupTestEnv 创建测试环境，withQueue 决定是否启用异步迁移
func setupTestEnv(t *testing.T, withQueue bool) *testEnv {
	// 内存数据库
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:memdb_%d?mode=memory", time.Now().UnixNano())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(database.Models()...))
	originalDB := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = originalDB
		_ = sqlDB.Close()
	})

	// 图片服务器
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	t.Cleanup(images.Close)

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	fetcher, err := fetch.NewImageFetcher(fetch.Config{BaseURL: images.URL}, store)
	require.NoError(t, err)

	m := metrics.New()
	paragraphRepo := repository.NewParagraphRepository()
	mediaRepo := repository.NewMediaRepository()
	migrationRepo := repository.NewMigrationRepository()

	materializer := services.NewMaterializer(paragraphRepo, mediaRepo, fetcher, services.DefaultMaterializerConfig(),
		services.WithMaterializerMetrics(m))

	opts := []services.MigrationOption{
		services.WithMetrics(m),
		services.WithMigrationRepository(migrationRepo),
	}

	var queue taskqueue.Queue
	if withQueue {
		mr := miniredis.RunT(t)
		queue, err = taskqueue.NewRedisQueue(&taskqueue.Config{RedisAddr: mr.Addr(), RetryLimit: 1, RetryDelay: time.Second})
		require.NoError(t, err)
		t.Cleanup(func() { _ = queue.Close() })
		opts = append(opts, services.WithTaskQueue(queue))
	}

	migrations := services.NewMigrationService(document.NewFragmentSplitter(), materializer, opts...)
	paragraphs := services.NewParagraphService(paragraphRepo, mediaRepo, migrationRepo, nil)

	router := SetupRouter(Handlers{
		Split:     handler.NewSplitHandler(migrations),
		Migration: handler.NewMigrationHandler(migrations, paragraphs),
		Paragraph: handler.NewParagraphHandler(paragraphs),
		Task:      handler.NewTaskHandler(migrations),
		Health:    handler.NewHealthHandler(db, withQueue),
	}, m)

	return &testEnv{Router: router, Queue: queue, Migrations: migrations}
}

// doJSON 发送请求并解析通用响应
func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, model.Response) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp model.Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// decodeData 把响应的Data重新解码为指定类型
func decodeData(t *testing.T, resp model.Response, v interface{}) {
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

// TestSplitAPI 测试分割预览接口
func TestSplitAPI(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", model.SplitRequest{
		Body: `<p>Hello</p><p><img src="/a.jpg" alt="A cat"></p><p>World</p>`,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	var split model.SplitResponse
	decodeData(t, resp, &split)
	assert.Equal(t, []model.BlockInfo{
		{Kind: "text", HTML: "<p>Hello</p>"},
		{Kind: "image", Src: "/a.jpg", Alt: "A cat"},
		{Kind: "text", HTML: "<p>World</p>"},
	}, split.Blocks)
	assert.Equal(t, 2, split.TextBlocks)
	assert.Equal(t, 1, split.ImageBlocks)

	t.Run("markdown", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", model.SplitRequest{
			Body:   "![B](/b.png)\n",
			Format: "Markdown",
		})
		require.Equal(t, http.StatusOK, w.Code)
		var split model.SplitResponse
		decodeData(t, resp, &split)
		require.NotEmpty(t, split.Blocks)
		assert.Equal(t, model.BlockInfo{Kind: "image", Src: "/b.png", Alt: "B"}, split.Blocks[0])
		assert.Equal(t, 1, split.ImageBlocks)
		for _, b := range split.Blocks[1:] {
			assert.Equal(t, "text", b.Kind)
			assert.Empty(t, strings.TrimSpace(b.HTML))
		}
	})

	t.Run("empty body", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", model.SplitRequest{})
		require.Equal(t, http.StatusOK, w.Code)
		var split model.SplitResponse
		decodeData(t, resp, &split)
		assert.Empty(t, split.Blocks)
	})

	t.Run("unknown format", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodPost, "/api/split", model.SplitRequest{Body: "x", Format: "docx"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.NotEmpty(t, resp.TraceID)
	})
}

// TestMigrationAPI 测试同步迁移及查询接口
func TestMigrationAPI(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{
		SourceID: "node-1",
		Body:     `<p>Hello</p><p><img src="/a.jpg" alt="A cat"></p><p>World</p>`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result services.MigrateResult
	decodeData(t, resp, &result)
	require.Len(t, result.References, 3)
	assert.Equal(t, "completed", string(result.Status))

	t.Run("get record", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodGet, "/api/migrations/node-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var record model.MigrationRecordResponse
		decodeData(t, resp, &record)
		assert.Equal(t, "completed", record.Status)
		assert.Equal(t, 3, record.BlockCount)
		assert.Equal(t, result.References, record.References)
	})

	t.Run("list paragraphs in order", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodGet, "/api/migrations/node-1/paragraphs", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Paragraphs []services.ParagraphView `json:"paragraphs"`
		}
		decodeData(t, resp, &body)
		require.Len(t, body.Paragraphs, 3)
		assert.Equal(t, "<p>Hello</p>", body.Paragraphs[0].Text)
		require.NotNil(t, body.Paragraphs[1].Image)
		assert.Equal(t, "A cat", body.Paragraphs[1].Image.Alt)
		assert.Equal(t, "<p>World</p>", body.Paragraphs[2].Text)
	})

	t.Run("get paragraph", func(t *testing.T) {
		path := fmt.Sprintf("/api/paragraphs/%d", result.References[0].TargetID)
		w, resp := doJSON(t, env.Router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var view services.ParagraphView
		decodeData(t, resp, &view)
		assert.Equal(t, result.References[0].TargetRevisionID, view.RevisionID)

		w, _ = doJSON(t, env.Router, http.MethodGet, "/api/paragraphs/99999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w, _ = doJSON(t, env.Router, http.MethodGet, "/api/paragraphs/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rerun returns stored references", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{SourceID: "node-1", Body: "<p>changed</p>"})
		require.Equal(t, http.StatusOK, w.Code)
		var again services.MigrateResult
		decodeData(t, resp, &again)
		assert.True(t, again.Skipped)
		assert.Equal(t, result.References, again.References)
	})

	t.Run("failed image", func(t *testing.T) {
		w, _ := doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{
			SourceID: "node-2",
			Body:     `<img src="/missing.jpg">`,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, resp := doJSON(t, env.Router, http.MethodGet, "/api/migrations?status=failed", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list model.MigrationListResponse
		decodeData(t, resp, &list)
		assert.Equal(t, 1, list.Total)
		require.Len(t, list.Records, 1)
		assert.Equal(t, "node-2", list.Records[0].SourceID)
		assert.NotEmpty(t, list.Records[0].Error)
	})

	t.Run("validation", func(t *testing.T) {
		w, _ := doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{Body: "<p>x</p>"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, _ = doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{SourceID: "x", Format: "rtf"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, _ = doJSON(t, env.Router, http.MethodGet, "/api/migrations?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, _ = doJSON(t, env.Router, http.MethodGet, "/api/migrations/unknown", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("async disabled", func(t *testing.T) {
		w, _ := doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{SourceID: "node-3", Async: true})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w, _ = doJSON(t, env.Router, http.MethodGet, "/api/tasks/0b8a3f4e-8a55-4d6b-9d3b-2a8e8b1f1c11", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

// TestAsyncMigrationAPI 测试异步迁移入队与任务查询
func TestAsyncMigrationAPI(t *testing.T) {
	env := setupTestEnv(t, true)

	w, resp := doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{
		SourceID: "node-async",
		Body:     "<p>queued</p>",
		Async:    true,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted model.MigrationAcceptedResponse
	decodeData(t, resp, &accepted)
	require.NotEmpty(t, accepted.TaskID)
	assert.Equal(t, "pending", accepted.Status)

	w, resp = doJSON(t, env.Router, http.MethodGet, "/api/tasks/"+accepted.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var task model.TaskResponse
	decodeData(t, resp, &task)
	assert.Equal(t, "migrate_record", task.Type)
	assert.Equal(t, "node-async", task.SourceID)
	assert.Equal(t, "pending", task.Status)

	w, resp = doJSON(t, env.Router, http.MethodGet, "/api/migrations/node-async/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks struct {
		Tasks []model.TaskResponse `json:"tasks"`
	}
	decodeData(t, resp, &tasks)
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, accepted.TaskID, tasks.Tasks[0].ID)

	w, _ = doJSON(t, env.Router, http.MethodGet, "/api/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	t.Run("wait returns current state on timeout", func(t *testing.T) {
		w, resp := doJSON(t, env.Router, http.MethodGet, "/api/tasks/"+accepted.TaskID+"?wait=100ms", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var task model.TaskResponse
		decodeData(t, resp, &task)
		assert.Equal(t, "pending", task.Status)

		for _, wait := range []string{"5m", "soon"} {
			w, _ = doJSON(t, env.Router, http.MethodGet, "/api/tasks/"+accepted.TaskID+"?wait="+wait, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, wait)
		}
	})

	w, _ = doJSON(t, env.Router, http.MethodGet, "/api/tasks/0b8a3f4e-8a55-4d6b-9d3b-2a8e8b1f1c11", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 处理任务后记录完成
	stored, err := env.Queue.GetTask(t.Context(), accepted.TaskID)
	require.NoError(t, err)
	_, err = services.NewMigrationTaskHandler(env.Migrations).ProcessTask(t.Context(), stored)
	require.NoError(t, err)

	w, resp = doJSON(t, env.Router, http.MethodGet, "/api/migrations/node-async", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var record model.MigrationRecordResponse
	decodeData(t, resp, &record)
	assert.Equal(t, "completed", record.Status)
	assert.Equal(t, accepted.TaskID, record.TaskID)

	w, _ = doJSON(t, env.Router, http.MethodPost, "/api/migrations", model.MigrationRequest{SourceID: "node-async", Async: true})
	assert.Equal(t, http.StatusConflict, w.Code)

	t.Run("finished task can be awaited and deleted", func(t *testing.T) {
		require.NoError(t, env.Queue.UpdateTaskStatus(t.Context(), accepted.TaskID, taskqueue.StatusCompleted, nil, ""))

		w, resp := doJSON(t, env.Router, http.MethodGet, "/api/tasks/"+accepted.TaskID+"?wait=5s", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var task model.TaskResponse
		decodeData(t, resp, &task)
		assert.Equal(t, "completed", task.Status)

		w, _ = doJSON(t, env.Router, http.MethodDelete, "/api/tasks/"+accepted.TaskID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w, _ = doJSON(t, env.Router, http.MethodGet, "/api/tasks/"+accepted.TaskID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w, _ = doJSON(t, env.Router, http.MethodDelete, "/api/tasks/"+accepted.TaskID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// TestHealthAndMetrics 测试健康检查和指标端点
func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t, false)

	w, resp := doJSON(t, env.Router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decodeData(t, resp, &health)
	assert.Equal(t, "ok", health["status"])

	_, _ = doJSON(t, env.Router, http.MethodPost, "/api/split", model.SplitRequest{Body: "<p>x</p>"})

	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `paragraph_migrate_split_blocks_total{kind="text"} 1`)
	assert.Contains(t, body, `route="/api/split"`)
}
