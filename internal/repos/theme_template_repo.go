package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carequest/questmap-backend/internal/domain"
	pkgerrors "github.com/carequest/questmap-backend/internal/pkg/errors"
	"github.com/carequest/questmap-backend/internal/platform/logger"
)

type ThemeTemplateRepo interface {
	FindByKey(ctx context.Context, tx *gorm.DB, themeKey string, stepCount, promptVersion int) (*domain.MapThemeTemplate, error)

	// CreateIfAbsent inserts with ON CONFLICT DO NOTHING. Two concurrent
	// generations racing on the same key both succeed; the loser's row is
	// silently dropped and the winner's template is returned.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, row *domain.MapThemeTemplate) (*domain.MapThemeTemplate, error)

	IncrementUsage(ctx context.Context, tx *gorm.DB, id string) error
}

type themeTemplateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThemeTemplateRepo(db *gorm.DB, baseLog *logger.Logger) ThemeTemplateRepo {
	return &themeTemplateRepo{db: db, log: baseLog.With("repo", "ThemeTemplateRepo")}
}

func (r *themeTemplateRepo) FindByKey(ctx context.Context, tx *gorm.DB, themeKey string, stepCount, promptVersion int) (*domain.MapThemeTemplate, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var row domain.MapThemeTemplate
	err := t.WithContext(ctx).
		Where("theme_key = ? AND step_count = ? AND prompt_version = ?", themeKey, stepCount, promptVersion).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *themeTemplateRepo) CreateIfAbsent(ctx context.Context, tx *gorm.DB, row *domain.MapThemeTemplate) (*domain.MapThemeTemplate, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if err := t.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "theme_key"}, {Name: "step_count"}, {Name: "prompt_version"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, err
	}

	// Re-read so the caller always sees the surviving row, whether ours or a
	// concurrent writer's.
	return r.FindByKey(ctx, t, row.ThemeKey, row.StepCount, row.PromptVersion)
}

func (r *themeTemplateRepo) IncrementUsage(ctx context.Context, tx *gorm.DB, id string) error {
	t := tx
	if t == nil {
		t = r.db
	}
	now := time.Now().UTC()
	return t.WithContext(ctx).
		Model(&domain.MapThemeTemplate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}).Error
}
