package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

// Scope tags which caller class a Decision was computed for, so a
// Prometheus counter or log line can break down throttling by caller
// rather than just a raw Redis key.
type Scope string

const (
	// ScopeInternalControl covers the /internal control routes mounted
	// through internal/httpapi (today the ingestor's /framebus-snapshot)
	// — the only caller class this system actually rate limits.
	ScopeInternalControl Scope = "internal_control"
	// ScopeCameraAdmission is reserved for a future per-camera cap on
	// FrameBus publish rate, to stop one misbehaving camera from
	// starving the others' share of a shared consumer group.
	ScopeCameraAdmission Scope = "camera_admission"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
	Burst  int           `yaml:"burst"`
}

type Limiter struct {
	client *redis.Client
	salt   string // stabilizes HashIP output across process restarts
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP returns a privacy-safe, stable hash of a caller IP for use as a
// rate-limit key component.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

// CheckRateLimit enforces a fixed window rooted at the first request in
// that window (INCR + PEXPIRE-once), atomically via a Lua script so
// concurrent requests against the same key can't race past the limit.
func (l *Limiter) CheckRateLimit(ctx context.Context, scope Scope, key string, config LimitConfig) (*Decision, error) {
	script := redis.NewScript(`
		local current = redis.call("INCR", KEYS[1])
		if tonumber(current) == 1 then
			redis.call("PEXPIRE", KEYS[1], ARGV[1])
		end
		return current
	`)

	count, err := script.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Scope:      scope,
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(config.Window), // upper-bound estimate, not read back from Redis TTL
		RetryAfter: int(config.Window.Seconds()),
		Allowed:    count <= config.Rate,
	}, nil
}
