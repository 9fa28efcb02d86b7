package storage

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound 文件不存在
var ErrNotFound = errors.New("file not found in storage")

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符
	Name     string // 最终文件名（同名冲突时带序号）
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型(可选)
	Path     string // 存储内的相对路径，形如 2024-05/cat.jpg
}

// URI 返回公共文件URI，形如 public://2024-05/cat.jpg
func (f FileInfo) URI() string {
	return "public://" + f.Path
}

// Storage 文件存储接口
// 定义文件存储的基本操作，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Save 保存文件到目标目录并返回文件信息，同名文件不会被覆盖
	Save(reader io.Reader, dir, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(path string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(path string) error

	// List 列出所有文件
	List() ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(path string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string      // 存储类型：local, minio
	Local LocalConfig // 本地存储配置
	Minio MinioConfig // MinIO存储配置
}

// New 根据配置创建存储实现
func New(cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// MonthDir 返回按年月组织的目标目录，形如 2024-05
func MonthDir(t time.Time) string {
	return t.Format("2006-01")
}

// sanitizeFilename 清理文件名，去掉目录部分和不安全字符
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// sanitizeDir 清理目标目录，以根目录为起点Clean后 .. 无法跳出存储根目录
func sanitizeDir(dir string) string {
	return strings.Trim(path.Clean("/"+strings.ReplaceAll(dir, "\\", "/")), "/")
}

// candidateName 生成第n个候选文件名，n为0时返回原名，其余为 name_{n-1}.ext
func candidateName(filename string, n int) string {
	if n == 0 {
		return filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	return fmt.Sprintf("%s_%d%s", base, n-1, ext)
}

// maxRenameAttempts 同名冲突时的最大重命名次数
const maxRenameAttempts = 1000

// getMimeType 简单根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".bmp":
		return "image/bmp"
	case ".avif":
		return "image/avif"
	case ".ico":
		return "image/x-icon"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
