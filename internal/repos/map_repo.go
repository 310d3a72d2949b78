// Package repos wraps gorm access behind interfaces the services depend on.
package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/carequest/questmap-backend/internal/domain"
	pkgerrors "github.com/carequest/questmap-backend/internal/pkg/errors"
	"github.com/carequest/questmap-backend/internal/platform/logger"
)

type MapRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *domain.ConsultationMap) error
	ListByConsultation(ctx context.Context, tx *gorm.DB, consultationID string) ([]*domain.ConsultationMap, error)
	GetByIndex(ctx context.Context, tx *gorm.DB, consultationID string, mapIndex int) (*domain.ConsultationMap, error)
	CountByConsultation(ctx context.Context, tx *gorm.DB, consultationID string) (int64, error)
}

type mapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMapRepo(db *gorm.DB, baseLog *logger.Logger) MapRepo {
	return &mapRepo{db: db, log: baseLog.With("repo", "MapRepo")}
}

func (r *mapRepo) Create(ctx context.Context, tx *gorm.DB, row *domain.ConsultationMap) error {
	t := tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(ctx).Create(row).Error
}

func (r *mapRepo) ListByConsultation(ctx context.Context, tx *gorm.DB, consultationID string) ([]*domain.ConsultationMap, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.ConsultationMap
	if err := t.WithContext(ctx).
		Where("consultation_id = ?", consultationID).
		Order("map_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mapRepo) GetByIndex(ctx context.Context, tx *gorm.DB, consultationID string, mapIndex int) (*domain.ConsultationMap, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var row domain.ConsultationMap
	err := t.WithContext(ctx).
		Where("consultation_id = ? AND map_index = ?", consultationID, mapIndex).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *mapRepo) CountByConsultation(ctx context.Context, tx *gorm.DB, consultationID string) (int64, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var count int64
	if err := t.WithContext(ctx).
		Model(&domain.ConsultationMap{}).
		Where("consultation_id = ?", consultationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
