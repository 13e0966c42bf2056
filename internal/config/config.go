// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, policy, evidence, locking, rate limiting and
// observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-support-agent")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH: SQLite file
	URL    string // DATABASE_URL: postgres DSN
}

// DSN returns the connection string for the configured driver.
func (d DBConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

// PolicyConfig locates the policy table.
type PolicyConfig struct {
	File  string // POLICY_FILE: YAML table; empty uses the built-in table
	Watch bool   // POLICY_WATCH: reload the file on change
}

// S3Config addresses the evidence bucket.
type S3Config struct {
	Bucket   string // EVIDENCE_S3_BUCKET
	Prefix   string // EVIDENCE_S3_PREFIX
	Region   string // EVIDENCE_S3_REGION
	Endpoint string // EVIDENCE_S3_ENDPOINT (MinIO, localstack)
}

// EvidenceConfig configures evidence storage and scoring.
type EvidenceConfig struct {
	Backend        string  // EVIDENCE_BACKEND: fs|s3
	StorageDir     string  // EVIDENCE_STORAGE_DIR
	S3             S3Config
	CatalogDir     string  // APPROACH_B_CATALOG_DIR
	AnomalyDir     string  // APPROACH_B_ANOMALY_DIR
	PassThreshold  float64 // EVIDENCE_PASS_THRESHOLD in (0..1]
	MaxUploadBytes int64   // MAX_UPLOAD_BYTES
}

// GuardrailConfig tunes the input filter.
type GuardrailConfig struct {
	Threshold  float64 // GUARDRAIL_THRESHOLD in (0..1]
	MaxStrikes int     // GUARDRAIL_MAX_STRIKES
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB           DBConfig
	SeedDemoData bool // SEED_DEMO_DATA: insert the demo orders at startup

	// Agent
	AgentMode       string        // AGENT_MODE: deterministic|assisted
	Policy          PolicyConfig
	Evidence        EvidenceConfig
	Guardrail       GuardrailConfig
	LabelBaseURL    string        // LABEL_BASE_URL
	AllowTestOrders bool          // ALLOW_TEST_ORDERS
	RedisURL        string        // REDIS_URL: enables cross-replica session locks
	SessionLockTTL  time.Duration // SESSION_LOCK_TTL

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "support.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		SeedDemoData: getbool("SEED_DEMO_DATA", true),

		// Agent
		AgentMode: strings.ToLower(getenv("AGENT_MODE", "deterministic")),
		Policy: PolicyConfig{
			File:  getenv("POLICY_FILE", ""),
			Watch: getbool("POLICY_WATCH", false),
		},
		Evidence: EvidenceConfig{
			Backend:    strings.ToLower(getenv("EVIDENCE_BACKEND", "fs")),
			StorageDir: getenv("EVIDENCE_STORAGE_DIR", "data/evidence"),
			S3: S3Config{
				Bucket:   getenv("EVIDENCE_S3_BUCKET", ""),
				Prefix:   getenv("EVIDENCE_S3_PREFIX", "evidence/"),
				Region:   getenv("EVIDENCE_S3_REGION", "us-east-1"),
				Endpoint: getenv("EVIDENCE_S3_ENDPOINT", ""),
			},
			CatalogDir:     getenv("APPROACH_B_CATALOG_DIR", ""),
			AnomalyDir:     getenv("APPROACH_B_ANOMALY_DIR", ""),
			PassThreshold:  getfloat("EVIDENCE_PASS_THRESHOLD", 0.6),
			MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 10_000_000)),
		},
		Guardrail: GuardrailConfig{
			Threshold:  getfloat("GUARDRAIL_THRESHOLD", 0.7),
			MaxStrikes: getint("GUARDRAIL_MAX_STRIKES", 3),
		},
		LabelBaseURL:    getenv("LABEL_BASE_URL", "https://labels.local"),
		AllowTestOrders: getbool("ALLOW_TEST_ORDERS", false),
		RedisURL:        getenv("REDIS_URL", ""),
		SessionLockTTL:  getdur("SESSION_LOCK_TTL", 30*time.Second),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-support-agent"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.AgentMode != "assisted" {
		cfg.AgentMode = "deterministic"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be sqlite or postgres")
	}
	if cfg.Policy.Watch && cfg.Policy.File == "" {
		return cfg, errors.New("POLICY_WATCH requires POLICY_FILE")
	}
	switch cfg.Evidence.Backend {
	case "fs":
		if strings.TrimSpace(cfg.Evidence.StorageDir) == "" {
			return cfg, errors.New("EVIDENCE_STORAGE_DIR must not be empty")
		}
	case "s3":
		if strings.TrimSpace(cfg.Evidence.S3.Bucket) == "" {
			return cfg, errors.New("EVIDENCE_S3_BUCKET is required when EVIDENCE_BACKEND=s3")
		}
	default:
		return cfg, errors.New("EVIDENCE_BACKEND must be fs or s3")
	}
	if cfg.Evidence.PassThreshold <= 0 || cfg.Evidence.PassThreshold > 1 {
		return cfg, errors.New("EVIDENCE_PASS_THRESHOLD must be in (0,1]")
	}
	if cfg.Evidence.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.Guardrail.Threshold <= 0 || cfg.Guardrail.Threshold > 1 {
		return cfg, errors.New("GUARDRAIL_THRESHOLD must be in (0,1]")
	}
	if cfg.Guardrail.MaxStrikes < 1 {
		return cfg, errors.New("GUARDRAIL_MAX_STRIKES must be >= 1")
	}
	if cfg.SessionLockTTL <= 0 {
		return cfg, errors.New("SESSION_LOCK_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
