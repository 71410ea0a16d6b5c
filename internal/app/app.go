package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"horizon/internal/ratelimit"
	"horizon/pkg/store"
)

// Session store backends understood by New.
const (
	SessionsJWT    = "jwt"
	SessionsRedis  = "redis"
	SessionsMemory = "memory"
)

// LoginLimiter throttles login attempts per key.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// SessionStore selects jwt, redis or memory sessions; empty means memory.
	SessionStore string
	// SessionTTL of zero issues sessions that live until logout.
	SessionTTL  time.Duration
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// AdminEmail is granted the admin role when it registers.
	AdminEmail string

	// LoginRateLimitPerMinute enables the Redis login limiter when > 0.
	LoginRateLimitPerMinute int

	Store        store.Store
	Sessions     store.SessionStore
	LoginLimiter LoginLimiter
	Now          func() time.Time
}

// App is the core application service wiring together storage and auth logic.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	limiter    LoginLimiter
	adminEmail string
	validate   *validator.Validate
	now        func() time.Time
	closers    []io.Closer
}

// New constructs the application, opening storage, sessions and the login
// limiter unless they are supplied in cfg.
func New(cfg Config) (*App, error) {
	a := &App{
		adminEmail: normalizeEmail(cfg.AdminEmail),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        cfg.Now,
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init gorm store: %w", err)
		}
		a.store = gs
		a.closers = append(a.closers, gs)
	}

	a.sessions = cfg.Sessions
	if a.sessions == nil {
		sessions, err := newSessionStore(cfg, a.store)
		if err != nil {
			return nil, err
		}
		a.sessions = sessions
	}

	a.limiter = cfg.LoginLimiter
	if a.limiter == nil && cfg.LoginRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "horizon:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
		a.limiter = limiter
		a.closers = append(a.closers, limiter)
	}
	return a, nil
}

func newSessionStore(cfg Config, data store.Store) (store.SessionStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SessionStore)) {
	case "", SessionsMemory:
		if ms, ok := data.(*store.MemoryStore); ok {
			return ms, nil
		}
		return store.NewMemoryStore(), nil
	case SessionsRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for redis sessions")
		}
		return store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL), nil
	case SessionsJWT:
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		}
		sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		return sessions, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// Close releases connections the App opened itself.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
