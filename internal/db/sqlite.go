package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/carequest/questmap-backend/internal/domain"
)

// NewSQLite opens a file-backed (or :memory:) sqlite database and migrates
// the schema. It backs local development and the repository tests.
func NewSQLite(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.AutoMigrate(
		&domain.ConsultationMap{},
		&domain.MapThemeTemplate{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return gdb, nil
}
