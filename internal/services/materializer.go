package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/cache"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/fetch"
	"github.com/fyerfyer/paragraph-migrate/internal/metrics"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reference 段落引用，宿主实体按顺序保存
type Reference = models.ParagraphRef

// DefaultTextFormat 文本段落的默认格式
const DefaultTextFormat = "basic_html"

// BlockMaterializer 把内容块持久化为段落实体
type BlockMaterializer interface {
	// Materialize 按块顺序创建段落并返回引用，返回的引用与输入块一一对应
	Materialize(ctx context.Context, blocks []document.Block) ([]Reference, error)
}

// MaterializerConfig 段落创建配置
type MaterializerConfig struct {
	TextFormat  string        // 文本段落格式
	OwnerID     uint          // 图片媒体的所有者ID
	Concurrency int           // 图片并发下载数
	CacheTTL    time.Duration // 来源URL到文件ID映射的缓存时间
}

// DefaultMaterializerConfig 返回默认配置
func DefaultMaterializerConfig() MaterializerConfig {
	return MaterializerConfig{
		TextFormat:  DefaultTextFormat,
		OwnerID:     9,
		Concurrency: 4,
		CacheTTL:    24 * time.Hour,
	}
}

// Materializer 段落创建器
// 图片按来源URL去重后并发下载，段落按块顺序串行写入，引用顺序与正文一致
type Materializer struct {
	paragraphs repository.ParagraphRepository // 段落仓储
	media      repository.MediaRepository     // 媒体仓储
	fetcher    fetch.Fetcher                  // 图片下载器
	fileCache  cache.Cache                    // 来源URL到文件ID的缓存，可为空
	cfg        MaterializerConfig             // 配置
	metrics    metrics.Metrics                // 指标
	logger     *logrus.Logger                 // 日志记录器
}

// MaterializerOption 段落创建器配置选项
type MaterializerOption func(*Materializer)

// WithFileCache 设置文件缓存
func WithFileCache(c cache.Cache) MaterializerOption {
	return func(m *Materializer) {
		m.fileCache = c
	}
}

// WithMaterializerMetrics 设置指标收集器
func WithMaterializerMetrics(mt metrics.Metrics) MaterializerOption {
	return func(m *Materializer) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithMaterializerLogger 设置日志记录器
func WithMaterializerLogger(logger *logrus.Logger) MaterializerOption {
	return func(m *Materializer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMaterializer 创建段落创建器
func NewMaterializer(
	paragraphs repository.ParagraphRepository,
	media repository.MediaRepository,
	fetcher fetch.Fetcher,
	cfg MaterializerConfig,
	opts ...MaterializerOption,
) *Materializer {
	def := DefaultMaterializerConfig()
	if cfg.TextFormat == "" {
		cfg.TextFormat = def.TextFormat
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	m := &Materializer{
		paragraphs: paragraphs,
		media:      media,
		fetcher:    fetcher,
		cfg:        cfg,
		metrics:    metrics.Nop(),
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize 创建段落
// 任一图片下载失败会取消其余下载；已成功下载的图片仍会登记为文件，重跑时直接复用
func (m *Materializer) Materialize(ctx context.Context, blocks []document.Block) ([]Reference, error) {
	refs := make([]Reference, 0, len(blocks))
	if len(blocks) == 0 {
		return refs, nil
	}

	// 1. 解析图片地址，同一地址只处理一次
	sources := make([]string, len(blocks))
	var pending []string
	seen := make(map[string]bool)
	for i, b := range blocks {
		img, ok := b.(document.ImageBlock)
		if !ok {
			continue
		}
		src, err := m.fetcher.Resolve(img.Src)
		if err != nil {
			m.metrics.IncFetchFailures("invalid_source")
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		sources[i] = src
		if !seen[src] {
			seen[src] = true
			pending = append(pending, src)
		}
	}

	// 2. 复用已下载过的文件
	fileIDs := make(map[string]string, len(pending))
	var missing []string
	for _, src := range pending {
		id, err := m.lookupFile(src)
		if err != nil {
			return nil, err
		}
		if id != "" {
			fileIDs[src] = id
			continue
		}
		missing = append(missing, src)
	}

	// 3. 并发下载缺失的图片
	if err := m.fetchAll(ctx, missing, fileIDs); err != nil {
		return nil, err
	}

	// 4. 按块顺序创建段落
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var p *models.Paragraph
		var err error
		switch blk := b.(type) {
		case document.TextBlock:
			p, err = m.paragraphs.CreateText(blk.HTML, m.cfg.TextFormat)
		case document.ImageBlock:
			p, err = m.createImageParagraph(fileIDs[sources[i]], blk.Alt)
		default:
			err = fmt.Errorf("unsupported block kind %q", b.Kind())
		}
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}

		m.metrics.IncParagraphs(string(p.Type))
		refs = append(refs, Reference{TargetID: p.ID, TargetRevisionID: p.RevisionID})
	}

	return refs, nil
}

// createImageParagraph 创建图片媒体并包装为媒体段落
func (m *Materializer) createImageParagraph(fileID, alt string) (*models.Paragraph, error) {
	if fileID == "" {
		return nil, errors.New("image file was not resolved")
	}
	media, err := m.media.CreateImageMedia(fileID, alt, m.cfg.OwnerID)
	if err != nil {
		return nil, err
	}
	return m.paragraphs.CreateMedia(media.ID)
}

// lookupFile 先查缓存再查数据库，没有记录时返回空字符串
func (m *Materializer) lookupFile(src string) (string, error) {
	if m.fileCache != nil {
		if id, found, err := cache.LookupFileID(m.fileCache, src); err == nil && found {
			return id, nil
		} else if err != nil {
			m.logger.WithError(err).Warn("File cache lookup failed")
		}
	}

	file, err := m.media.GetFileBySource(src)
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("looking up file for %s: %w", src, err)
	}

	m.remember(src, file.ID)
	return file.ID, nil
}

// remember 写入缓存，失败只记录日志
func (m *Materializer) remember(src, fileID string) {
	if m.fileCache == nil {
		return
	}
	if err := cache.RememberFileID(m.fileCache, src, fileID, m.cfg.CacheTTL); err != nil {
		m.logger.WithError(err).Warn("File cache write failed")
	}
}

// fetchAll 并发下载图片，下载结果按输入位置收集后串行登记为文件
func (m *Materializer) fetchAll(ctx context.Context, srcs []string, fileIDs map[string]string) error {
	if len(srcs) == 0 {
		return nil
	}

	results := make([]*fetch.Result, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	for i, src := range srcs {
		g.Go(func() error {
			res, err := m.fetcher.Fetch(gctx, src)
			if err != nil {
				m.metrics.IncFetchFailures(fetchFailureReason(err))
				return fmt.Errorf("fetching image %s: %w", src, err)
			}
			results[i] = res
			return nil
		})
	}
	fetchErr := g.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		file := &models.File{
			URI:         res.File.URI(),
			StoragePath: res.File.Path,
			Filename:    res.File.Name,
			MimeType:    res.File.MimeType,
			Size:        res.File.Size,
			SourceURL:   res.SourceURL,
		}
		if err := m.media.CreateFile(file); err != nil {
			return fmt.Errorf("registering file %s: %w", res.File.Path, err)
		}
		fileIDs[res.SourceURL] = file.ID
		m.remember(res.SourceURL, file.ID)

		m.logger.WithFields(logrus.Fields{
			"src":  res.SourceURL,
			"uri":  file.URI,
			"file": file.ID,
		}).Debug("Image file registered")
	}

	return fetchErr
}

// fetchFailureReason 把下载错误归类为指标标签
func fetchFailureReason(err error) string {
	switch {
	case errors.Is(err, fetch.ErrInvalidSource):
		return "invalid_source"
	case errors.Is(err, fetch.ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, fetch.ErrTooLarge):
		return "too_large"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport"
	}
}
