package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
	GetLimits(ctx context.Context, key string) (*RateLimitInfo, error)
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitInfo contains current rate limit status
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// InMemoryRateLimiter implements per-key rate limiting on top of
// golang.org/x/time/rate, replacing the teacher's hand-rolled token
// bucket arithmetic with the standard Go token-bucket limiter. Each key
// gets its own *rate.Limiter, lazily created and periodically swept the
// same way the teacher swept its bucket map.
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	limiters map[string]*keyLimiter
	mutex    sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan bool
	stopped       bool
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsPerMinute
	}

	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		limiters:    make(map[string]*keyLimiter),
		stopCleanup: make(chan bool),
	}

	rl.startCleanup()

	return rl
}

// Allow checks if a request is allowed under the rate limit
func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: rl.config.RequestsPerMinute,
			ResetTime: time.Now().Add(rl.config.WindowDuration),
		}, nil
	}

	now := time.Now()
	kl := rl.getOrCreateLimiter(key)
	kl.lastAccess = now

	if kl.limiter.AllowN(now, 1) {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int(kl.limiter.TokensAt(now)),
			ResetTime: now.Add(rl.config.WindowDuration),
		}, nil
	}

	probe := kl.limiter.Reserve()
	retryAfter := probe.Delay()
	probe.Cancel() // undo the probing reservation's token debit

	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// Reset resets the rate limit for a key
func (rl *InMemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.limiters, key)

	rl.logger.WithField("key", maskKey(key)).Info("Rate limit reset")
	return nil
}

// GetLimits returns current rate limit information for a key
func (rl *InMemoryRateLimiter) GetLimits(ctx context.Context, key string) (*RateLimitInfo, error) {
	now := time.Now()
	kl := rl.getOrCreateLimiter(key)

	tokens := int(kl.limiter.TokensAt(now))

	return &RateLimitInfo{
		Limit:     rl.config.RequestsPerMinute,
		Used:      rl.config.BurstSize - tokens,
		Remaining: tokens,
		ResetTime: now.Add(rl.config.WindowDuration),
	}, nil
}

func (rl *InMemoryRateLimiter) getOrCreateLimiter(key string) *keyLimiter {
	rl.mutex.RLock()
	kl, exists := rl.limiters[key]
	rl.mutex.RUnlock()
	if exists {
		return kl
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	if kl, exists = rl.limiters[key]; exists {
		return kl
	}

	perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60)
	kl = &keyLimiter{
		limiter:    rate.NewLimiter(perSecond, rl.config.BurstSize),
		lastAccess: time.Now(),
	}
	rl.limiters[key] = kl
	return kl
}

// startCleanup starts the cleanup goroutine to remove idle limiters
func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup removes limiters that haven't been used recently
func (rl *InMemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)

	removed := 0
	for key, kl := range rl.limiters {
		if kl.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_limiters", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop stops the rate limiter and cleanup goroutine
func (rl *InMemoryRateLimiter) Stop() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.stopped {
		return
	}

	rl.stopped = true
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}
	close(rl.stopCleanup)
}

// RateLimitMiddleware creates rate limiting middleware
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				http.Error(w, "Rate limiting error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Remaining+1))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				response := fmt.Sprintf(`{
					"error": {
						"message": "Rate limit exceeded",
						"type": "rate_limit_error",
						"code": 429,
						"retry_after": %d
					},
					"timestamp": %d
				}`, int(result.RetryAfter.Seconds()), time.Now().Unix())

				w.Write([]byte(response))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor extracts rate limiting key from request
func DefaultKeyExtractor(r *http.Request) string {
	if authInfo, ok := r.Context().Value("auth_info").(*AuthInfo); ok {
		return "user:" + authInfo.UserID
	}

	return "ip:" + getClientIPFromRequest(r)
}

// APIKeyExtractor extracts rate limiting key from API key
func APIKeyExtractor(r *http.Request) string {
	token := extractToken(r)
	if token != "" {
		return "key:" + maskKey(token)
	}
	return "ip:" + getClientIPFromRequest(r)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
