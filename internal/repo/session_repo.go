// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatSession model.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (exported here as ErrNotFound).
//   - SaveSession refuses to move a session out of a terminal status and
//     returns ErrTerminalSession instead.
//   - SaveSession returns ErrStaleSession when the stored version moved on
//     since the caller read the session.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// ErrTerminalSession is returned when a write would change the status of a
// session that is already resolved, escalated or exited.
var ErrTerminalSession = errors.New("session is closed")

// ErrStaleSession is returned when another writer saved the session after
// the caller read it.
var ErrStaleSession = errors.New("session was modified concurrently")

var terminalStatuses = []string{domain.SessionResolved, domain.SessionEscalated, domain.SessionExited}

// CreateSession inserts a new session. CreatedAt/UpdatedAt default to now.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.ChatSession) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSession fetches a session by id, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSessionByCase fetches the session that owns caseID, or ErrNotFound.
func GetSessionByCase(ctx context.Context, db *gorm.DB, caseID string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := db.WithContext(ctx).Where("case_id = ?", caseID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSession writes the state and status of a session read at version and
// bumps the version. The update is a single conditional statement: it
// applies only while the stored version still equals version and the stored
// status is non-terminal, or when it leaves a terminal status unchanged.
// Otherwise it returns ErrStaleSession, ErrTerminalSession or ErrNotFound.
func SaveSession(ctx context.Context, db *gorm.DB, sessionID string, version int64, state domain.JSON, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("session_id = ? AND version = ? AND (status NOT IN ? OR status = ?)", sessionID, version, terminalStatuses, status).
		Updates(map[string]any{
			"state":      state,
			"status":     status,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	cur, err := GetSession(ctx, db, sessionID)
	if err != nil {
		return err
	}
	if cur.Version != version {
		return ErrStaleSession
	}
	return ErrTerminalSession
}
