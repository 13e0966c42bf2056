package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-support-agent/internal/config"
	"github.com/tbourn/go-support-agent/internal/evidence"
	"github.com/tbourn/go-support-agent/internal/http/handlers"
	"github.com/tbourn/go-support-agent/internal/http/middleware"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/repo"
	"github.com/tbourn/go-support-agent/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
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

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Evidence:    config.EvidenceConfig{MaxUploadBytes: 1 << 20},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

// newRouter builds the full pipeline over real services clocked at 2025-12-08.
func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	blobs, err := evidence.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	tools := services.NewToolService(db, policy.NewProvider(nil), evidence.NewValidator("", "", decimal.Zero), blobs)
	tools.Now = func() time.Time { return time.Date(2025, 12, 8, 12, 0, 0, 0, time.UTC) }
	chat := services.NewChatService(db, tools, nil, nil, "")

	r := gin.New()
	RegisterRoutes(r, db, handlers.New(chat, tools).WithMaxUpload(cfg.Evidence.MaxUploadBytes), cfg)
	return r, db
}

func serve(r *gin.Engine, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q want no-store", got)
	}

	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = serve(r, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = serve(r, http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger stays unmounted unless enabled.
	w = serve(r, http.MethodGet, "/swagger/index.html", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_Preflight(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newRouter(t, cfg)

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = serve(r, http.MethodOptions, "/api/v1/tools/create_return", nil, map[string]string{
		"Origin":                         "http://example.com",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Idempotency-Key,X-Session-ID",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
	allow := w.Header().Get("Access-Control-Allow-Headers")
	if !bytes.Contains([]byte(allow), []byte(middleware.HeaderIdempotencyKey)) {
		t.Fatalf("Idempotency-Key not allowed: %q", allow)
	}
}

func TestRegisterRoutes_PreflightIsNotMethodNotAllowed(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	w := serve(r, http.MethodOptions, "/api/v1/chat/sessions/SES-0000000000AA/messages", nil, map[string]string{
		"Origin":                        "http://shop.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" || w.Header().Get("Allow") != "" {
		t.Fatalf("unexpected headers: %#v", w.Header())
	}

	w = serve(r, http.MethodOptions, "/api/v1/tools/create_return", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("bare OPTIONS = %d", w.Code)
	}

	w = serve(r, http.MethodDelete, "/api/v1/tools/create_return", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE = %d; want 405", w.Code)
	}
}

func TestRegisterRoutes_APIMountedUnderBasePath(t *testing.T) {
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	r, _ := newRouter(t, cfg)

	w := serve(r, http.MethodPost, "/api/v2/chat/start", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/v2/chat/start = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	w = serve(r, http.MethodPost, "/api/v1/chat/start", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("old base path should 404, got %d", w.Code)
	}
}

// A replay carrying a bound Idempotency-Key skips the rate limiter; fresh
// writes from the same session do not.
func TestRegisterRoutes_IdempotentReplayBypassesRateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, db := newRouter(t, cfg)

	body := services.CreateReturnRequest{OrderID: "ORD-1001", ItemID: "ITEM-1", Method: "return", Reason: "changed_mind"}
	hdr := map[string]string{
		middleware.HeaderIdempotencyKey: "router-key-1",
		middleware.HeaderSessionID:      "SES-0000000000AA",
	}

	w := serve(r, http.MethodPost, "/api/v1/tools/create_return", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first create = %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/api/v1/tools/create_return", body, hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}

	hdr[middleware.HeaderIdempotencyKey] = "router-key-2"
	w = serve(r, http.MethodPost, "/api/v1/tools/create_return", body, hdr)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fresh write over budget = %d; want 429", w.Code)
	}

	used, err := repo.IdempotencyKeyUsed(context.Background(), db, "router-key-2")
	if err != nil || used {
		t.Fatalf("rate-limited key recorded: used=%v err=%v", used, err)
	}
}

func TestRegisterRoutes_InvalidIdempotencyKeyRejected(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	w := serve(r, http.MethodPost, "/api/v1/tools/create_return",
		services.CreateReturnRequest{OrderID: "ORD-1001", ItemID: "ITEM-1", Method: "return", Reason: "changed_mind"},
		map[string]string{middleware.HeaderIdempotencyKey: "has spaces"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid key = %d; want 400", w.Code)
	}
}

func TestHealth_DatabaseUnreachable(t *testing.T) {
	r, db := newRouter(t, baseConfig())
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health with closed db = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
