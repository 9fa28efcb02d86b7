package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/paragraph-migrate/internal/database"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"gorm.io/gorm"
)

// paragraphRepo 段落仓储实现
type paragraphRepo struct {
	db *gorm.DB // 数据库连接
}

// NewParagraphRepository 创建段落仓储实例
func NewParagraphRepository() ParagraphRepository {
	return &paragraphRepo{
		db: database.MustDB(),
	}
}

// NewParagraphRepositoryWithDB 使用指定的数据库连接创建段落仓储实例
func NewParagraphRepositoryWithDB(db *gorm.DB) ParagraphRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &paragraphRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *paragraphRepo) WithContext(ctx context.Context) ParagraphRepository {
	return &paragraphRepo{
		db: r.db.WithContext(ctx),
	}
}

// CreateText 创建富文本段落
func (r *paragraphRepo) CreateText(value, format string) (*models.Paragraph, error) {
	return r.create(models.ParagraphTextArea, &models.ParagraphRevision{
		TextValue:  value,
		TextFormat: format,
	})
}

// CreateMedia 创建媒体段落
func (r *paragraphRepo) CreateMedia(mediaID uint) (*models.Paragraph, error) {
	if mediaID == 0 {
		return nil, errors.New("media ID cannot be empty")
	}
	return r.create(models.ParagraphMedia, &models.ParagraphRevision{
		MediaID: &mediaID,
	})
}

// create 在同一事务中写入段落和首个修订，并把修订ID回写到段落
func (r *paragraphRepo) create(typ models.ParagraphType, rev *models.ParagraphRevision) (*models.Paragraph, error) {
	p := &models.Paragraph{Type: typ}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		rev.ParagraphID = p.ID
		if err := tx.Create(rev).Error; err != nil {
			return err
		}

		p.RevisionID = rev.ID
		return tx.Model(p).Update("revision_id", rev.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s paragraph: %w", typ, err)
	}

	p.Revisions = []models.ParagraphRevision{*rev}
	return p, nil
}

// GetByID 根据ID获取段落
func (r *paragraphRepo) GetByID(id uint) (*models.Paragraph, error) {
	var p models.Paragraph
	err := r.db.Preload("Revisions").Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", models.ErrParagraphNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

// ListByIDs 批量获取段落
func (r *paragraphRepo) ListByIDs(ids []uint) ([]*models.Paragraph, error) {
	if len(ids) == 0 {
		return []*models.Paragraph{}, nil
	}

	var found []*models.Paragraph
	if err := r.db.Preload("Revisions").Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, err
	}

	byID := make(map[uint]*models.Paragraph, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	result := make([]*models.Paragraph, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}
