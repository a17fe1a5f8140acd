package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kidandcat/workboard/internal/auth"
	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/config"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
		)
	})
}

// maxLimiters bounds the per-client limiter table. When it fills up the
// table starts over, which at worst hands a client a fresh burst.
const maxLimiters = 10000

// limiter keeps one token bucket per signed-in user and one per
// anonymous client address.
type limiter struct {
	clock     clock.Clock
	user      rate.Limit
	userBurst int
	anon      rate.Limit
	anonBurst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newLimiter(cfg config.RateLimitConfig, clk clock.Clock) *limiter {
	l := &limiter{clock: clk, buckets: map[string]*rate.Limiter{}}
	if cfg.PerMinute > 0 {
		l.user = rate.Limit(float64(cfg.PerMinute) / 60)
		l.userBurst = max(cfg.Burst, 1)
	}
	if cfg.AnonymousPerHour > 0 {
		l.anon = rate.Limit(float64(cfg.AnonymousPerHour) / 3600)
		l.anonBurst = cfg.AnonymousPerHour
	}
	return l
}

// allow reports whether key may make a request now, and if not, how
// long until it may.
func (l *limiter) allow(key string, anonymous bool) (bool, time.Duration) {
	limit, burst := l.user, l.userBurst
	if anonymous {
		limit, burst = l.anon, l.anonBurst
	}
	if limit == 0 {
		return true, 0
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLimiters {
			l.buckets = map[string]*rate.Limiter{}
		}
		b = rate.NewLimiter(limit, burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	now := l.clock.Now()
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, anonymous := clientKey(r)
		ok, wait := s.limits.allow(key, anonymous)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "too many requests",
				"code":  "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) (string, bool) {
	if u := auth.CurrentUser(r.Context()); u != nil {
		return "user:" + strconv.FormatInt(u.ID, 10), false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host, true
}
