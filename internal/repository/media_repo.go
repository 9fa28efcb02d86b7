package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/paragraph-migrate/internal/database"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// mediaRepo 媒体仓储实现
type mediaRepo struct {
	db *gorm.DB // 数据库连接
}

// NewMediaRepository 创建媒体仓储实例
func NewMediaRepository() MediaRepository {
	return &mediaRepo{
		db: database.MustDB(),
	}
}

// NewMediaRepositoryWithDB 使用指定的数据库连接创建媒体仓储实例
func NewMediaRepositoryWithDB(db *gorm.DB) MediaRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &mediaRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *mediaRepo) WithContext(ctx context.Context) MediaRepository {
	return &mediaRepo{
		db: r.db.WithContext(ctx),
	}
}

// CreateFile 创建文件记录
func (r *mediaRepo) CreateFile(file *models.File) error {
	if file == nil {
		return errors.New("file cannot be nil")
	}
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.URI == "" {
		return errors.New("file URI cannot be empty")
	}

	return r.db.Create(file).Error
}

// GetFileBySource 根据来源URL获取文件
func (r *mediaRepo) GetFileBySource(sourceURL string) (*models.File, error) {
	var file models.File
	err := r.db.Where("source_url = ?", sourceURL).Order("created_at ASC").First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, sourceURL)
		}
		return nil, err
	}
	return &file, nil
}

// CreateImageMedia 创建图片媒体
func (r *mediaRepo) CreateImageMedia(fileID, alt string, ownerID uint) (*models.Media, error) {
	if fileID == "" {
		return nil, errors.New("file ID cannot be empty")
	}

	m := &models.Media{
		Bundle:  models.BundleImage,
		OwnerID: ownerID,
		FileID:  fileID,
		Alt:     alt,
	}
	if err := r.db.Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create image media: %w", err)
	}
	return m, nil
}

// GetByID 根据ID获取媒体
func (r *mediaRepo) GetByID(id uint) (*models.Media, error) {
	var m models.Media
	err := r.db.Preload("File").Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", models.ErrMediaNotFound, id)
		}
		return nil, err
	}
	return &m, nil
}
