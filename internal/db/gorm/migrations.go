// Package gorm provides GORM-based database operations for dadgar.
package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Core tables (ChatSession, RouterDecisionRow)
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ChatSession{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&RouterDecisionRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("chat_sessions", "router_decisions")
			},
		},

		// Migration 002: Prompt overrides table
		{
			ID: "002_prompt_overrides",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&PromptOverride{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("prompt_overrides")
			},
		},

		// Migration 003: Quota windows table with a partial unique index
		// enforcing at most one active window per user.
		{
			ID: "003_quota_windows",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&QuotaWindowRow{}); err != nil {
					return err
				}
				return tx.Exec(
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_quota_one_active
					 ON quota_windows(user_id) WHERE active = 1`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Exec("DROP INDEX IF EXISTS idx_quota_one_active").Error; err != nil {
					return err
				}
				return tx.Migrator().DropTable("quota_windows")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
