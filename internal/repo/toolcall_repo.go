// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ToolCallLog audit model. Rows are append-only.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// InsertToolCall appends an audit row. CreatedAt defaults to now.
func InsertToolCall(ctx context.Context, db *gorm.DB, l *domain.ToolCallLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(l).Error
}

// ListToolCalls returns the newest audit rows, optionally filtered by tool
// name. A non-positive limit returns all rows.
func ListToolCalls(ctx context.Context, db *gorm.DB, toolName string, limit int) ([]domain.ToolCallLog, error) {
	q := db.WithContext(ctx).Order("id DESC")
	if toolName != "" {
		q = q.Where("tool_name = ?", toolName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.ToolCallLog
	err := q.Find(&out).Error
	return out, err
}
