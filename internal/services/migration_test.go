package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `<p>Hello</p><p><img src="/a.jpg" alt="A cat"></p><p>World</p>`

func setupTestQueue(t *testing.T) taskqueue.Queue {
	mr := miniredis.RunT(t)
	queue, err := taskqueue.NewRedisQueue(&taskqueue.Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 1,
		RetryLimit:  1,
		RetryDelay:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })
	return queue
}

// TestMigrationServicePreview 测试预览不写数据库
func TestMigrationServicePreview(t *testing.T) {
	env := setupTestEnv(t)

	blocks, err := env.migrations.Preview(sampleBody, document.FormatHTML)
	require.NoError(t, err)
	assert.Equal(t, []document.Block{
		document.TextBlock{HTML: "<p>Hello</p>"},
		document.ImageBlock{Src: "/a.jpg", Alt: "A cat"},
		document.TextBlock{HTML: "<p>World</p>"},
	}, blocks)

	blocks, err = env.migrations.Preview("Intro\n\n![B](/b.png)\n", document.FormatMarkdown)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(blocks), 2)
	assert.Equal(t, document.ImageBlock{Src: "/b.png", Alt: "B"}, blocks[1])
	// 渲染结果末尾的换行保留为文本块
	for _, b := range blocks[2:] {
		tb, ok := b.(document.TextBlock)
		require.True(t, ok)
		assert.Empty(t, strings.TrimSpace(tb.HTML))
	}

	_, err = env.migrations.Preview("x", document.BodyFormat("rtf"))
	assert.True(t, errors.Is(err, document.ErrUnsupportedFormat))

	var count int64
	require.NoError(t, env.db.Model(&models.Paragraph{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(0), env.server.hits.Load())
}

// TestMigrationServiceMigrate 测试同步迁移及重复迁移
func TestMigrationServiceMigrate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	result, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: " node-1 ", Body: sampleBody})
	require.NoError(t, err)
	assert.Equal(t, "node-1", result.SourceID)
	assert.Equal(t, models.MigrationCompleted, result.Status)
	assert.Equal(t, 2, result.TextBlocks)
	assert.Equal(t, 1, result.ImageBlocks)
	assert.False(t, result.Skipped)
	require.Len(t, result.References, 3)

	record, err := env.migrations.GetRecord("node-1")
	require.NoError(t, err)
	assert.Equal(t, models.MigrationCompleted, record.Status)
	assert.Equal(t, "html", record.Format)
	assert.Equal(t, 3, record.BlockCount)
	assert.NotNil(t, record.CompletedAt)

	t.Run("completed record is not migrated again", func(t *testing.T) {
		again, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: "node-1", Body: sampleBody})
		require.NoError(t, err)
		assert.True(t, again.Skipped)
		assert.Equal(t, result.References, again.References)
	})

	t.Run("force creates new paragraphs", func(t *testing.T) {
		forced, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: "node-1", Body: "<p>Only text</p>", Force: true})
		require.NoError(t, err)
		assert.False(t, forced.Skipped)
		require.Len(t, forced.References, 1)
		assert.Greater(t, forced.References[0].TargetID, result.References[2].TargetID)

		views, err := env.paragraphs.ListForSource("node-1")
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "<p>Only text</p>", views[0].Text)
	})

	t.Run("empty body yields no references", func(t *testing.T) {
		empty, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: "node-2", Body: "  "})
		require.NoError(t, err)
		assert.Empty(t, empty.References)
	})

	body := env.metrics.Handler()
	rec := httptest.NewRecorder()
	body.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `paragraph_migrate_migration_records_total{status="completed"} 3`)
}

// TestMigrationServiceMigrateErrors 测试迁移失败时记录状态
func TestMigrationServiceMigrateErrors(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: "  "})
	assert.True(t, errors.Is(err, ErrEmptySourceID))

	_, err = env.migrations.Migrate(ctx, MigrateRequest{SourceID: "x", Format: "docx"})
	assert.True(t, errors.Is(err, document.ErrUnsupportedFormat))

	_, err = env.migrations.Migrate(ctx, MigrateRequest{SourceID: "broken", Body: `<p><img src="/missing.jpg"></p>`})
	require.Error(t, err)

	record, err := env.migrations.GetRecord("broken")
	require.NoError(t, err)
	assert.Equal(t, models.MigrationFailed, record.Status)
	assert.Contains(t, record.Error, "404")

	// 失败的记录可以直接重跑
	_, err = env.migrations.Migrate(ctx, MigrateRequest{SourceID: "broken", Body: `<p><img src="/fixed.jpg"></p>`})
	require.NoError(t, err)

	_, err = env.paragraphs.ListForSource("unknown")
	assert.True(t, errors.Is(err, models.ErrMigrationNotFound))
}

// TestMigrationServiceInProgress 测试处理中的记录拒绝并发迁移
func TestMigrationServiceInProgress(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.db.Create(&models.MigrationRecord{SourceID: "busy", Status: models.MigrationProcessing}).Error)

	_, err := env.migrations.Migrate(context.Background(), MigrateRequest{SourceID: "busy", Body: "<p>x</p>"})
	assert.True(t, errors.Is(err, ErrMigrationInProgress))

	_, err = env.paragraphs.ListForSource("busy")
	assert.True(t, errors.Is(err, models.ErrInvalidMigrationStatus))
}

// gatedMaterializer 统计调用次数，并在放行前阻塞第一次调用
type gatedMaterializer struct {
	inner   BlockMaterializer
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedMaterializer(inner BlockMaterializer) *gatedMaterializer {
	return &gatedMaterializer{
		inner:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedMaterializer) Materialize(ctx context.Context, blocks []document.Block) ([]Reference, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Materialize(ctx, blocks)
}

// TestMigrationServiceSingleRun 测试同一记录同时只会迁移一次
func TestMigrationServiceSingleRun(t *testing.T) {
	ctx := context.Background()

	t.Run("second request while running", func(t *testing.T) {
		env := setupTestEnv(t)
		gated := newGatedMaterializer(env.materializer)
		svc := NewMigrationService(document.NewFragmentSplitter(), gated, WithMigrationRepository(repository.NewMigrationRepository()))

		done := make(chan error, 1)
		go func() {
			_, err := svc.Migrate(ctx, MigrateRequest{SourceID: "node-1", Body: sampleBody})
			done <- err
		}()
		<-gated.entered

		_, err := svc.Migrate(ctx, MigrateRequest{SourceID: "node-1", Body: sampleBody})
		assert.True(t, errors.Is(err, ErrMigrationInProgress))
		_, err = svc.Migrate(ctx, MigrateRequest{SourceID: "node-1", Body: sampleBody, Force: true})
		assert.True(t, errors.Is(err, ErrMigrationInProgress), "force does not bypass a running migration")

		close(gated.release)
		require.NoError(t, <-done)
		assert.Equal(t, int32(1), gated.calls.Load())
	})

	t.Run("parallel requests", func(t *testing.T) {
		env := setupTestEnv(t)
		gated := newGatedMaterializer(env.materializer)
		close(gated.release)
		svc := NewMigrationService(document.NewFragmentSplitter(), gated, WithMigrationRepository(repository.NewMigrationRepository()))

		const workers = 8
		start := make(chan struct{})
		var ran atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				result, err := svc.Migrate(ctx, MigrateRequest{SourceID: "node-2", Body: sampleBody})
				if err != nil {
					assert.True(t, errors.Is(err, ErrMigrationInProgress), "unexpected error: %v", err)
					return
				}
				if !result.Skipped {
					ran.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), gated.calls.Load())
		assert.Equal(t, int32(1), ran.Load())

		var count int64
		require.NoError(t, env.db.Model(&models.Paragraph{}).Count(&count).Error)
		assert.Equal(t, int64(3), count)
	})

	t.Run("stale processing record is taken over", func(t *testing.T) {
		env := setupTestEnv(t)
		require.NoError(t, env.db.Create(&models.MigrationRecord{SourceID: "crashed", Status: models.MigrationProcessing}).Error)
		require.NoError(t, env.db.Model(&models.MigrationRecord{}).
			Where("source_id = ?", "crashed").
			UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

		result, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: "crashed", Body: "<p>x</p>"})
		require.NoError(t, err)
		assert.Len(t, result.References, 1)
	})
}

// TestMigrationServiceListRecords 测试迁移记录列表
func TestMigrationServiceListRecords(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := env.migrations.Migrate(ctx, MigrateRequest{SourceID: id, Body: "<p>x</p>"})
		require.NoError(t, err)
	}
	_, _ = env.migrations.Migrate(ctx, MigrateRequest{SourceID: "c", Body: `<img src="/missing.png">`})

	records, total, err := env.migrations.ListRecords(0, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, records, 3)

	records, total, err = env.migrations.ListRecords(0, 10, models.MigrationFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "c", records[0].SourceID)

	_, _, err = env.migrations.ListRecords(0, 10, "bogus")
	assert.True(t, errors.Is(err, models.ErrInvalidMigrationStatus))
}

// TestMigrationServiceEnqueue 测试异步入队
func TestMigrationServiceEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without queue", func(t *testing.T) {
		env := setupTestEnv(t)
		assert.False(t, env.migrations.AsyncEnabled())
		_, err := env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "n"})
		assert.True(t, errors.Is(err, ErrAsyncDisabled))
		_, err = env.migrations.ListTasks(ctx, "n")
		assert.True(t, errors.Is(err, ErrAsyncDisabled))
		_, err = env.migrations.WaitTask(ctx, "t", time.Second)
		assert.True(t, errors.Is(err, ErrAsyncDisabled))
		assert.True(t, errors.Is(env.migrations.DeleteTask(ctx, "t"), ErrAsyncDisabled))
	})

	queue := setupTestQueue(t)
	env := setupTestEnv(t, WithTaskQueue(queue))
	require.True(t, env.migrations.AsyncEnabled())

	taskID, err := env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-9", Body: sampleBody, Format: "HTML"})
	require.NoError(t, err)

	record, err := env.migrations.GetRecord("node-9")
	require.NoError(t, err)
	assert.Equal(t, models.MigrationPending, record.Status)
	assert.Equal(t, taskID, record.TaskID)

	task, err := env.migrations.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskMigrateRecord, task.Type)
	assert.Equal(t, "node-9", task.SourceID)

	// 由任务处理器完成迁移
	handler := NewMigrationTaskHandler(env.migrations)
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskMigrateRecord}, handler.GetTaskTypes())

	out, err := handler.ProcessTask(ctx, task)
	require.NoError(t, err)
	res, ok := out.(*taskqueue.MigrateRecordResult)
	require.True(t, ok)
	assert.Equal(t, "node-9", res.SourceID)
	assert.Len(t, res.References, 3)
	assert.Equal(t, 1, res.ImageBlocks)

	_, err = env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-9", Body: sampleBody})
	assert.True(t, errors.Is(err, ErrAlreadyMigrated))

	t.Run("pending record is not queued twice", func(t *testing.T) {
		_, err := env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-10", Body: sampleBody})
		require.NoError(t, err)
		_, err = env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-10", Body: sampleBody})
		assert.True(t, errors.Is(err, ErrMigrationInProgress))
		_, err = env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-10", Body: sampleBody, Force: true})
		assert.True(t, errors.Is(err, ErrMigrationInProgress))

		tasks, err := env.migrations.ListTasks(ctx, "node-10")
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		// 删除排队中的任务后记录可以重新入队
		require.NoError(t, env.migrations.DeleteTask(ctx, tasks[0].ID))
		record, err := env.migrations.GetRecord("node-10")
		require.NoError(t, err)
		assert.Equal(t, models.MigrationFailed, record.Status)
		assert.Equal(t, "task deleted before it ran", record.Error)

		_, err = env.migrations.GetTask(ctx, tasks[0].ID)
		assert.True(t, errors.Is(err, taskqueue.ErrTaskNotFound))

		taskID, err := env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-10", Body: sampleBody})
		require.NoError(t, err)

		// 处理中的任务不能删除
		require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, taskqueue.StatusProcessing, nil, ""))
		err = env.migrations.DeleteTask(ctx, taskID)
		assert.True(t, errors.Is(err, ErrMigrationInProgress))
	})

	_, err = env.migrations.Enqueue(ctx, MigrateRequest{SourceID: "node-9", Body: sampleBody, Force: true})
	assert.NoError(t, err)
}

// TestMigrationTaskHandlerPermanentErrors 测试输入错误不重试
func TestMigrationTaskHandlerPermanentErrors(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewMigrationTaskHandler(env.migrations)
	ctx := context.Background()

	_, err := handler.ProcessTask(ctx, &taskqueue.Task{ID: "t1", Type: taskqueue.TaskMigrateRecord})
	assert.True(t, errors.Is(err, asynq.SkipRetry), "missing payload")

	payload, err := taskqueue.MarshalPayload(&taskqueue.MigrateRecordPayload{Body: `<img src="">`})
	require.NoError(t, err)
	_, err = handler.ProcessTask(ctx, &taskqueue.Task{ID: "t2", SourceID: "from-task", Payload: payload})
	assert.True(t, errors.Is(err, asynq.SkipRetry), "invalid source")

	record, err := env.migrations.GetRecord("from-task")
	require.NoError(t, err)
	assert.Equal(t, models.MigrationFailed, record.Status)

	payload, err = taskqueue.MarshalPayload(&taskqueue.MigrateRecordPayload{SourceID: "net", Body: `<img src="/missing.jpg">`})
	require.NoError(t, err)
	_, err = handler.ProcessTask(ctx, &taskqueue.Task{ID: "t3", Payload: payload})
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "remote failures are retried")
}
