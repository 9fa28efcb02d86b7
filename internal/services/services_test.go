package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/cache"
	"github.com/fyerfyer/paragraph-migrate/internal/database"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/fetch"
	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/fyerfyer/paragraph-migrate/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建内存数据库并替换全局连接
func setupTestDB(t *testing.T) *gorm.DB {
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	// 内存库按连接隔离，只保留一个连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(database.Models()...), "Failed to run migrations")

	originalDB := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = originalDB
		_ = sqlDB.Close()
	})
	return db
}

// imageServer 提供测试图片，记录每个路径的请求次数
type imageServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newImageServer(t *testing.T) *imageServer {
	s := &imageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png:" + r.URL.Path))
		default:
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// testEnv 服务测试所需的完整依赖
type testEnv struct {
	db           *gorm.DB
	server       *imageServer
	store        storage.Storage
	fileCache    cache.Cache
	metrics      metrics.Metrics
	materializer *Materializer
	migrations   *MigrationService
	paragraphs   *ParagraphService
}

func setupTestEnv(t *testing.T, opts ...MigrationOption) *testEnv {
	db := setupTestDB(t)
	server := newImageServer(t)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	fetcher, err := fetch.NewImageFetcher(fetch.Config{BaseURL: server.URL, Timeout: 5 * time.Second}, store, fetch.WithLogger(logger))
	require.NoError(t, err)

	fileCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	m := metrics.New()
	paragraphRepo := repository.NewParagraphRepository()
	mediaRepo := repository.NewMediaRepository()
	migrationRepo := repository.NewMigrationRepository()

	materializer := NewMaterializer(paragraphRepo, mediaRepo, fetcher, MaterializerConfig{Concurrency: 2},
		WithFileCache(fileCache),
		WithMaterializerMetrics(m),
		WithMaterializerLogger(logger),
	)

	opts = append([]MigrationOption{
		WithLogger(logger),
		WithMetrics(m),
		WithTimeout(10 * time.Second),
		WithMigrationRepository(migrationRepo),
	}, opts...)
	migrations := NewMigrationService(document.NewFragmentSplitter(document.WithLogger(logger)), materializer, opts...)

	return &testEnv{
		db:           db,
		server:       server,
		store:        store,
		fileCache:    fileCache,
		metrics:      m,
		materializer: materializer,
		migrations:   migrations,
		paragraphs:   NewParagraphService(paragraphRepo, mediaRepo, migrationRepo, logger),
	}
}
