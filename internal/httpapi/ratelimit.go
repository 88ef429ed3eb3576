package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 30 * time.Minute
	limiterSweepInterval = 10 * time.Minute
)

type accountLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// accountRateLimiter keeps one token bucket per account. Idle buckets are
// dropped during calls rather than by a background goroutine.
type accountRateLimiter struct {
	perMinute int
	burst     int
	nowFn     func() time.Time

	mutex     sync.Mutex
	limiters  map[string]*accountLimiter
	lastSweep time.Time
}

func newAccountRateLimiter(perMinute int, burst int, now func() time.Time) *accountRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &accountRateLimiter{
		perMinute: perMinute,
		burst:     burst,
		nowFn:     now,
		limiters:  make(map[string]*accountLimiter),
		lastSweep: now(),
	}
}

func (limiter *accountRateLimiter) allow(accountID string) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	now := limiter.nowFn()
	if now.Sub(limiter.lastSweep) >= limiterSweepInterval {
		for key, entry := range limiter.limiters {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(limiter.limiters, key)
			}
		}
		limiter.lastSweep = now
	}

	entry, exists := limiter.limiters[accountID]
	if !exists {
		perSecond := rate.Limit(float64(limiter.perMinute) / 60)
		entry = &accountLimiter{limiter: rate.NewLimiter(perSecond, limiter.burst)}
		limiter.limiters[accountID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (limiter *accountRateLimiter) size() int {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	return len(limiter.limiters)
}

// middleware must run after session validation. A zero per-minute rate
// disables limiting.
func (limiter *accountRateLimiter) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if limiter.perMinute == 0 {
			ctx.Next()
			return
		}
		claims := getClaims(ctx)
		if claims == nil {
			ctx.Next()
			return
		}
		if !limiter.allow(claims.GetUserID()) {
			ctx.Header("Retry-After", strconv.Itoa(int((time.Minute/time.Duration(limiter.perMinute)).Seconds())+1))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(errorCodeRateLimited, "too many requests"))
			return
		}
		ctx.Next()
	}
}
