// Package gorm provides GORM-based database operations for dadgar.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/parslaw/dadgar/pkg/models"
)

// GORM Models

// ChatSession is the durable per-chat session record.
type ChatSession struct {
	ChatID         string `gorm:"primaryKey"`
	UserID         string `gorm:"index;not null"`
	ActiveModule   string `gorm:"type:text;not null;default:'generic_chat'"`
	Summary        sql.NullString
	History        models.ChatMessages `gorm:"type:text"` // JSON array
	TokensUsed     int64               `gorm:"default:0"`
	CreatedAtEpoch int64               `gorm:"not null"`
	UpdatedAtEpoch int64               `gorm:"index:idx_chat_sessions_updated,sort:desc;not null"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (c *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if c.UpdatedAtEpoch == 0 {
		c.UpdatedAtEpoch = c.CreatedAtEpoch
	}
	return nil
}

// RouterDecisionRow is one appended classifier decision for a chat.
type RouterDecisionRow struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	ChatID           string `gorm:"index:idx_decisions_chat;not null"`
	Module           string `gorm:"type:text;not null"`
	Confidence       float64
	RequiredMetadata models.JSONStringArray `gorm:"type:text"` // JSON array
	Notes            sql.NullString
	DecidedAtEpoch   int64 `gorm:"index:idx_decisions_decided,sort:desc;not null"`
}

func (RouterDecisionRow) TableName() string { return "router_decisions" }

// BeforeCreate hook to ensure timestamps are set.
func (r *RouterDecisionRow) BeforeCreate(tx *gorm.DB) error {
	if r.DecidedAtEpoch == 0 {
		r.DecidedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// PromptOverride is an admin-supplied replacement for a built-in prompt.
type PromptOverride struct {
	ID             string `gorm:"primaryKey"` // "core", "router", "module:<name>"
	Content        string `gorm:"type:text;not null"`
	Model          sql.NullString
	UpdatedAtEpoch int64 `gorm:"not null"`
}

func (PromptOverride) TableName() string { return "prompt_overrides" }

// QuotaWindowRow is a user's token allowance for one subscription period.
type QuotaWindowRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	UserID         string `gorm:"index:idx_quota_user;not null"`
	PlanID         string `gorm:"type:text"`
	TokenQuota     int64  `gorm:"not null"`
	TokensUsed     int64  `gorm:"default:0"`
	StartedAtEpoch int64  `gorm:"not null"`
	ExpiresAtEpoch int64  `gorm:"not null"`
	Active         bool   `gorm:"index:idx_quota_user_active,priority:2;default:true"`
}

func (QuotaWindowRow) TableName() string { return "quota_windows" }

// toModel converts a row to the domain QuotaWindow.
func (q *QuotaWindowRow) toModel() *models.QuotaWindow {
	return &models.QuotaWindow{
		ID:         q.ID,
		UserID:     q.UserID,
		PlanID:     q.PlanID,
		TokenQuota: q.TokenQuota,
		TokensUsed: q.TokensUsed,
		StartedAt:  time.UnixMilli(q.StartedAtEpoch),
		ExpiresAt:  time.UnixMilli(q.ExpiresAtEpoch),
		Active:     q.Active,
	}
}
