package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/repository"
	"github.com/sirupsen/logrus"
)

// ImageView 图片段落引用的媒体和文件
type ImageView struct {
	MediaID  uint   `json:"media_id"`
	FileID   string `json:"file_id"`
	URI      string `json:"uri"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Alt      string `json:"alt"`
	Source   string `json:"source_url,omitempty"`
}

// ParagraphView 段落的当前修订视图
type ParagraphView struct {
	ID         uint                 `json:"id"`
	RevisionID uint                 `json:"revision_id"`
	Type       models.ParagraphType `json:"type"`
	Text       string               `json:"text,omitempty"`
	TextFormat string               `json:"text_format,omitempty"`
	Image      *ImageView           `json:"image,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// ParagraphService 段落查询服务
type ParagraphService struct {
	paragraphs repository.ParagraphRepository
	media      repository.MediaRepository
	records    repository.MigrationRepository
	logger     *logrus.Logger
}

// NewParagraphService 创建段落查询服务
func NewParagraphService(
	paragraphs repository.ParagraphRepository,
	media repository.MediaRepository,
	records repository.MigrationRepository,
	logger *logrus.Logger,
) *ParagraphService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ParagraphService{
		paragraphs: paragraphs,
		media:      media,
		records:    records,
		logger:     logger,
	}
}

// Get 获取单个段落
func (s *ParagraphService) Get(id uint) (*ParagraphView, error) {
	p, err := s.paragraphs.GetByID(id)
	if err != nil {
		return nil, err
	}
	return s.view(p)
}

// ListForSource 按保存的引用顺序返回某条源记录迁移出的段落
func (s *ParagraphService) ListForSource(sourceID string) ([]*ParagraphView, error) {
	record, err := s.records.GetBySourceID(sourceID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.MigrationCompleted {
		return nil, fmt.Errorf("%w: record %s is %s", models.ErrInvalidMigrationStatus, sourceID, record.Status)
	}

	refs, err := repository.DecodeReferences(record)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(refs))
	for i, r := range refs {
		ids[i] = r.TargetID
	}

	found, err := s.paragraphs.ListByIDs(ids)
	if err != nil {
		return nil, err
	}
	if len(found) != len(ids) {
		s.logger.WithFields(logrus.Fields{
			"source_id": sourceID,
			"expected":  len(ids),
			"found":     len(found),
		}).Warn("Some referenced paragraphs no longer exist")
	}

	views := make([]*ParagraphView, 0, len(found))
	for _, p := range found {
		v, err := s.view(p)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *ParagraphService) view(p *models.Paragraph) (*ParagraphView, error) {
	v := &ParagraphView{
		ID:         p.ID,
		RevisionID: p.RevisionID,
		Type:       p.Type,
		CreatedAt:  p.CreatedAt,
	}

	rev := p.Current()
	if rev == nil {
		return v, nil
	}

	switch p.Type {
	case models.ParagraphTextArea:
		v.Text = rev.TextValue
		v.TextFormat = rev.TextFormat
	case models.ParagraphMedia:
		if rev.MediaID == nil {
			break
		}
		m, err := s.media.GetByID(*rev.MediaID)
		if err != nil {
			if errors.Is(err, models.ErrMediaNotFound) {
				s.logger.WithField("media_id", *rev.MediaID).Warn("Paragraph references missing media")
				break
			}
			return nil, err
		}
		img := &ImageView{MediaID: m.ID, FileID: m.FileID, Alt: m.Alt}
		if m.File != nil {
			img.URI = m.File.URI
			img.Filename = m.File.Filename
			img.MimeType = m.File.MimeType
			img.Size = m.File.Size
			img.Source = m.File.SourceURL
		}
		v.Image = img
	}
	return v, nil
}
