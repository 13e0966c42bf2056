package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-support-agent/internal/conversation"
	"github.com/tbourn/go-support-agent/internal/domain"
	"github.com/tbourn/go-support-agent/internal/evidence"
	"github.com/tbourn/go-support-agent/internal/http/middleware"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/repo"
	"github.com/tbourn/go-support-agent/internal/services"
)

// ---------- real services over an in-memory store ----------

type testEnv struct {
	t     *testing.T
	r     *gin.Engine
	tools *services.ToolService
	chat  *services.ChatService
}

func newHandlersDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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
		t.Fatalf("migrate: %v", err)
	}
	if _, err := repo.SeedDemoData(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

// newEnv mounts the handlers on a bare engine with the idempotency
// validator, clocked at today.
func newEnv(t *testing.T, today time.Time) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs, err := evidence.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	db := newHandlersDB(t)
	tools := services.NewToolService(db, policy.NewProvider(nil), evidence.NewValidator("", "", decimal.Zero), blobs)
	tools.Now = func() time.Time { return today }
	chat := services.NewChatService(db, tools, nil, nil, "")

	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	New(chat, tools).WithMaxUpload(64 << 10).Mount(r.Group("/api/v1"))
	return &testEnv{t: t, r: r, tools: tools, chat: chat}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// do sends a JSON request (body may be nil) with optional headers.
func (e *testEnv) do(method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("json: %v (body %s)", err, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
	var er ErrorResponse
	decodeInto(t, w, &er)
	if er.Code != code {
		t.Fatalf("code=%q want %q (message %q)", er.Code, code, er.Message)
	}
}

// ---------- stubs ----------

// stubChat is a ChatService whose operations all fail with err.
type stubChat struct{ err error }

func (s stubChat) Start(context.Context) (*conversation.Directive, error) { return nil, s.err }
func (s stubChat) Message(context.Context, string, conversation.Input) (*conversation.Directive, error) {
	return nil, s.err
}
func (s stubChat) Resume(context.Context, string) (*conversation.Directive, error) { return nil, s.err }
func (s stubChat) History(context.Context, string, int, int) ([]domain.ChatMessage, int64, error) {
	return nil, 0, s.err
}
func (s stubChat) HistoryVersion(context.Context, string) (int64, uint64, error) { return 0, 0, s.err }
