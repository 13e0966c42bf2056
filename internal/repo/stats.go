// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// MessagesStats returns aggregate metadata for the transcript of a session:
// the number of messages, the highest message id and the newest CreatedAt.
// Because messages are append-only, (count, lastID) changes on every write
// and is enough to build a weak ETag.
//
// When the session has no messages, count and lastID are 0 and latest is
// nil.
func MessagesStats(ctx context.Context, db *gorm.DB, sessionID string) (count int64, lastID uint64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ChatMessage{}).Where("session_id = ?", sessionID)

	if err = q.Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}

	// Read the newest row instead of MAX(), which sqlite returns as TEXT.
	var row struct {
		ID        uint64
		CreatedAt time.Time
	}
	if err = q.Select("id, created_at").Order("id DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return count, row.ID, &row.CreatedAt, nil
}

// ToolCallStats returns the number of audit rows per tool name.
func ToolCallStats(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		ToolName string
		N        int64
	}
	err := db.WithContext(ctx).
		Model(&domain.ToolCallLog{}).
		Select("tool_name, COUNT(*) AS n").
		Group("tool_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ToolName] = r.N
	}
	return out, nil
}
