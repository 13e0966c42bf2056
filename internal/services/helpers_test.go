package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-support-agent/internal/evidence"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/repo"
)

// ----- Fixtures -----

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if _, err := repo.SeedDemoData(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

// newTools returns a ToolService over a seeded database whose clock is
// fixed at today.
func newTools(t *testing.T, today time.Time) *ToolService {
	t.Helper()
	blobs, err := evidence.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	s := NewToolService(newTestDB(t), policy.NewProvider(nil), evidence.NewValidator("", "", decimal.Zero), blobs)
	s.Now = func() time.Time { return today }
	return s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// photo is a PNG-looking payload large enough to count as a real photo.
func photo() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 20_000)...)
}

// newCaseSession opens a chat session so evidence can be attached to it.
func newCaseSession(t *testing.T, tools *ToolService) (sessionID, caseID string) {
	t.Helper()
	chat := NewChatService(tools.DB, tools, nil, nil, "")
	d, err := chat.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return d.SessionID, d.CaseID
}
