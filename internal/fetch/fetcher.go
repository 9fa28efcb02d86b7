package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/fyerfyer/paragraph-migrate/pkg/storage"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "paragraph-migrate/1.0"
	defaultMaxBytes  = 20 << 20
)

var (
	// ErrInvalidSource 图片地址为空、无法解析或不是http(s)
	ErrInvalidSource = errors.New("invalid image source")
	// ErrUnexpectedStatus 远端返回非2xx状态码
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrTooLarge 响应体超过大小限制
	ErrTooLarge = errors.New("image exceeds size limit")
)

// Result 下载结果
type Result struct {
	SourceURL string           // 解析后的绝对地址
	File      storage.FileInfo // 存储中的文件信息
}

// Fetcher 图片下载接口
type Fetcher interface {
	// Fetch 下载图片并保存到存储，返回文件信息
	Fetch(ctx context.Context, src string) (*Result, error)
	// Resolve 把图片地址解析为绝对地址，不发起请求
	Resolve(src string) (string, error)
}

// Config 下载配置
type Config struct {
	BaseURL   string        // 相对地址的基准URL
	Timeout   time.Duration // 单次请求超时
	UserAgent string        // 请求User-Agent
	MaxBytes  int64         // 响应体大小上限
}

// ImageFetcher 通过HTTP下载图片并写入存储
type ImageFetcher struct {
	client    *http.Client
	store     storage.Storage
	base      *url.URL
	userAgent string
	maxBytes  int64
	now       func() time.Time
	logger    *logrus.Logger
}

// Option 下载器配置选项
type Option func(*ImageFetcher)

// WithHTTPClient 设置HTTP客户端
func WithHTTPClient(client *http.Client) Option {
	return func(f *ImageFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(f *ImageFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock 设置时钟，决定文件落在哪个年月目录
func WithClock(now func() time.Time) Option {
	return func(f *ImageFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// NewImageFetcher 创建图片下载器
func NewImageFetcher(cfg Config, store storage.Storage, opts ...Option) (*ImageFetcher, error) {
	if store == nil {
		return nil, errors.New("storage cannot be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || !isHTTP(u) {
			return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
		}
		base = u
	}

	f := &ImageFetcher{
		client:    &http.Client{Timeout: timeout},
		store:     store,
		base:      base,
		userAgent: userAgent,
		maxBytes:  maxBytes,
		now:       time.Now,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Resolve 解析图片地址
// 相对地址基于BaseURL解析，没有BaseURL时视为无效
func (f *ImageFetcher) Resolve(src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", fmt.Errorf("%w: empty src", ErrInvalidSource)
	}

	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	if !u.IsAbs() {
		if f.base == nil {
			return "", fmt.Errorf("%w: relative src %q without base URL", ErrInvalidSource, src)
		}
		u = f.base.ResolveReference(u)
	}
	if !isHTTP(u) {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, u.Scheme)
	}
	u.Fragment = ""
	return u.String(), nil
}

// Fetch 下载图片并保存到 YYYY-MM 目录
func (f *ImageFetcher) Fetch(ctx context.Context, src string) (*Result, error) {
	target, err := f.Resolve(src)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, target)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrTooLarge, resp.ContentLength, target)
	}

	// 多读一个字节用于判断是否超限
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes for %s", ErrTooLarge, f.maxBytes, target)
	}

	filename := filenameFor(target, resp.Header.Get("Content-Type"))
	info, err := f.store.Save(bytes.NewReader(body), storage.MonthDir(f.now()), filename)
	if err != nil {
		return nil, fmt.Errorf("saving %s: %w", target, err)
	}
	if ct := mediaType(resp.Header.Get("Content-Type")); strings.HasPrefix(ct, "image/") {
		info.MimeType = ct
	}

	f.logger.WithFields(logrus.Fields{
		"src":      target,
		"path":     info.Path,
		"size":     info.Size,
		"duration": time.Since(start).String(),
	}).Debug("Image fetched")

	return &Result{SourceURL: target, File: info}, nil
}

// filenameFor 从URL路径取文件名，没有扩展名时按Content-Type补齐
func filenameFor(target, contentType string) string {
	name := "image"
	if u, err := url.Parse(target); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			name = base
		}
	}

	if path.Ext(name) == "" {
		mt := mediaType(contentType)
		if ext, ok := imageExtensions[mt]; ok {
			name += ext
		} else if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
			name += exts[0]
		}
	}
	return name
}

// imageExtensions 常见图片类型的首选扩展名
var imageExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// mediaType 去掉Content-Type中的参数部分
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
