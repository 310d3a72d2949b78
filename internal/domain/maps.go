// Package domain holds the persisted aggregates.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConsultationMap is one generated journey panel. A consultation owns an
// ordered series of these, indexed by MapIndex, each covering the checklist
// item range [StartStepIndex, EndStepIndex].
type ConsultationMap struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConsultationID     string         `gorm:"column:consultation_id;not null;index:idx_consultation_map,unique,priority:1" json:"consultation_id"`
	MapIndex           int            `gorm:"column:map_index;not null;index:idx_consultation_map,unique,priority:2" json:"map_index"`
	StartStepIndex     int            `gorm:"column:start_step_index;not null" json:"start_step_index"`
	EndStepIndex       int            `gorm:"column:end_step_index;not null" json:"end_step_index"`
	MapSpec            datatypes.JSON `gorm:"column:map_spec;type:jsonb;not null" json:"map_spec"`
	Source             string         `gorm:"column:source;not null" json:"source"`
	ValidationWarnings datatypes.JSON `gorm:"column:validation_warnings;type:jsonb" json:"validation_warnings,omitempty"`
	MapImageURL        string         `gorm:"column:map_image_url" json:"map_image_url,omitempty"`
	MapImagePath       string         `gorm:"column:map_image_path" json:"-"`
	PromptVersion      int            `gorm:"column:prompt_version;not null;default:0" json:"prompt_version"`
	CreatedAt          time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ConsultationMap) TableName() string { return "consultation_map" }

// BeforeCreate assigns the row ID; ids are generated in-process so the
// schema works on both postgres and sqlite.
func (m *ConsultationMap) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MapThemeTemplate caches the first map spec generated for a
// (theme_key, step_count, prompt_version) triple so later consultations with
// the same shape can reuse it instead of paying for a fresh generation.
type MapThemeTemplate struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ThemeKey      string         `gorm:"column:theme_key;not null;index:idx_theme_template,unique,priority:1" json:"theme_key"`
	StepCount     int            `gorm:"column:step_count;not null;index:idx_theme_template,unique,priority:2" json:"step_count"`
	PromptVersion int            `gorm:"column:prompt_version;not null;index:idx_theme_template,unique,priority:3" json:"prompt_version"`
	MapSpec       datatypes.JSON `gorm:"column:map_spec;type:jsonb;not null" json:"map_spec"`
	ThemeProfile  datatypes.JSON `gorm:"column:theme_profile;type:jsonb" json:"theme_profile,omitempty"`
	MapImageURL   string         `gorm:"column:map_image_url" json:"map_image_url,omitempty"`
	MapImagePath  string         `gorm:"column:map_image_path" json:"-"`
	UsageCount    int            `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	LastUsedAt    *time.Time     `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (MapThemeTemplate) TableName() string { return "map_theme_template" }

func (t *MapThemeTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
