package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	// 确保路径是绝对路径
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	// 确保目录存在
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: absPath,
	}, nil
}

// Save 保存文件到本地存储
// 目标已存在时依次尝试 name_0.ext、name_1.ext，O_EXCL保证并发写入不会互相覆盖
func (s *LocalStorage) Save(reader io.Reader, dir, filename string) (FileInfo, error) {
	dir = sanitizeDir(dir)
	filename = sanitizeFilename(filename)

	dirPath := filepath.Join(s.basePath, filepath.FromSlash(dir))
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory: %w", err)
	}

	var file *os.File
	var name string
	var err error
	for n := 0; n < maxRenameAttempts; n++ {
		name = candidateName(filename, n)
		file, err = os.OpenFile(filepath.Join(dirPath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return FileInfo{}, fmt.Errorf("failed to create file: %w", err)
		}
	}
	if file == nil {
		return FileInfo{}, fmt.Errorf("failed to find a free name for %s in %s", filename, dir)
	}
	defer file.Close()

	// 写入文件内容
	size, err := io.Copy(file, reader)
	if err != nil {
		_ = os.Remove(file.Name())
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	return FileInfo{
		ID:       uuid.New().String(),
		Name:     name,
		Size:     size,
		MimeType: getMimeType(name),
		Path:     filepath.ToSlash(filepath.Join(dir, name)),
	}, nil
}

// Get 获取文件内容
func (s *LocalStorage) Get(path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete 删除文件
func (s *LocalStorage) Delete(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List 列出所有文件
func (s *LocalStorage) List() ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// 跳过目录
		if info.IsDir() {
			return nil
		}

		// 获取相对路径
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			Name:     info.Name(),
			Size:     info.Size(),
			MimeType: getMimeType(info.Name()),
			Path:     filepath.ToSlash(relPath),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// resolve 把相对路径转换为基础目录下的绝对路径
func (s *LocalStorage) resolve(path string) (string, error) {
	dir := sanitizeDir(path)
	if dir == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(dir)), nil
}
