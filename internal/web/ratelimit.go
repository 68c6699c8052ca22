package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "resolver:ratelimit"

// newRateStore keeps counters in Redis when a client is given so every
// instance shares one budget per client; otherwise counters are in memory.
func newRateStore(client redis.UniversalClient) limiter.Store {
	opts := limiter.StoreOptions{Prefix: rateLimitPrefix, CleanUpInterval: time.Minute}
	if client != nil {
		store, err := sredis.NewStoreWithOptions(client, opts)
		if err == nil {
			return store
		}
		slog.Warn("failed to create redis rate limit store, falling back to memory", "error", err)
	}
	return memory.NewStoreWithOptions(opts)
}

// rateLimit budgets requests per client IP and window. The key is
// RemoteAddr, which TrustedRealIP has already rewritten for proxied requests.
func rateLimit(store limiter.Store, requests int, window time.Duration) func(http.Handler) http.Handler {
	instance := limiter.New(store, limiter.Rate{Period: window, Limit: int64(requests)})
	retryAfter := strconv.Itoa(int(window.Seconds()))

	mw := stdlib.NewMiddleware(instance,
		stdlib.WithKeyGetter(clientIP),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests, "RATE001", "Too many requests", "Please wait a moment and try again")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			respondError(w, r, err)
		}),
	)
	return mw.Handler
}
