package middleware

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// HeaderSessionID optionally identifies the chat session of a request.
const HeaderSessionID = "X-Session-ID"

const (
	visitorTTL        = 10 * time.Minute
	gcEveryNLookups   = 5000
	maxRetryAfterSecs = 60
)

// sessionIDPattern matches identifiers minted by the chat service. Anything
// else falls back to the client IP so arbitrary header values cannot mint
// fresh buckets.
var sessionIDPattern = regexp.MustCompile(`^SES-[0-9A-F]{12}$`)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by key kind.",
	},
	[]string{"key_kind"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

// keyFunc maps a request to its bucket, e.g. "session:SES-..." or "ip:1.2.3.4".
type keyFunc func(*gin.Context) string

// KeyBySessionOrIP keys buckets by a well-formed X-Session-ID and otherwise
// by client IP.
func KeyBySessionOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s := c.GetHeader(HeaderSessionID); sessionIDPattern.MatchString(s) {
			return "session:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-process token bucket per key. Idle buckets are
// dropped every few thousand lookups. Limits are per replica; this is abuse
// control, not authorization.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      visitorTTL,
	}
}

// getVisitor returns the bucket for key. Eviction runs before the lookup so
// an idle bucket is replaced rather than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= gcEveryNLookups {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of a key that is already bound.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the per-key limit. Replays skip it. Rejections get 429
// with the standard error body and a Retry-After hint derived from the
// bucket's refill rate.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		lim := rl.getVisitor(key)
		if lim.Allow() {
			c.Next()
			return
		}

		rateLimited.WithLabelValues(keyKind(key)).Inc()
		c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfter is the whole seconds until one token refills, within [1, 60].
func (rl *RateLimiter) retryAfter() int {
	if rl.rps <= 0 {
		return maxRetryAfterSecs
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	switch {
	case secs < 1:
		return 1
	case secs > maxRetryAfterSecs:
		return maxRetryAfterSecs
	}
	return secs
}

func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
