// Package services – session locks
//
// A chat turn is a read-modify-write of the persisted session, so turns for
// the same session must not interleave. SessionLocker serializes them:
// LocalLocker for a single process, RedisLocker across replicas.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionLocker serializes work per session. Lock blocks until the lock is
// held or ctx is done; the returned func releases it.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// ---------- in-process ----------

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a keyed mutex. Entries are reference counted and removed
// when the last waiter releases, so idle sessions cost nothing.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLocalLocker returns an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*lockEntry{}}
}

// Lock acquires the lock for sessionID.
func (l *LocalLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, e)
		return nil, fmt.Errorf("%w: %v", ErrSessionBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(sessionID, e)
		})
	}, nil
}

func (l *LocalLocker) release(sessionID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// size reports the number of tracked sessions.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// ---------- redis ----------

// releaseScript deletes the lock only if it still holds our token.
// KEYS[1] = lock key, ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Default lock timings.
const (
	DefaultLockTTL  = 30 * time.Second
	defaultLockPoll = 25 * time.Millisecond
)

// RedisLocker holds a lock per session in Redis (SET NX PX with a random
// token). The TTL bounds how long a crashed holder blocks the session.
type RedisLocker struct {
	Client redis.UniversalClient
	TTL    time.Duration
	Prefix string
	Poll   time.Duration
}

// NewRedisLocker parses a redis:// URL and returns a locker.
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("services: parse REDIS_URL: %w", err)
	}
	return &RedisLocker{Client: redis.NewClient(opts), TTL: ttl}, nil
}

// Ping checks connectivity.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.Client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error { return l.Client.Close() }

func (l *RedisLocker) key(sessionID string) string {
	p := l.Prefix
	if p == "" {
		p = "support:lock:"
	}
	return p + sessionID
}

// Lock polls SET NX until it wins or ctx is done. Redis failures are system
// errors.
func (l *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultLockPoll
	}
	key := l.key(sessionID)
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrSessionBusy, ctx.Err())
			}
			return nil, systemErr("acquire session lock", err)
		}
		if ok {
			break
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrSessionBusy, ctx.Err())
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release with a fresh context; the turn's ctx may be cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.Client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("release session lock")
			}
		})
	}, nil
}
