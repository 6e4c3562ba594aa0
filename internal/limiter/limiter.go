package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/muazhussain/Judgebox-Judge/internal/metrics"
)

// Limiter gates the judge endpoint three ways: a global request rate,
// a per-client rate, and a cap on concurrently judged submissions.
type Limiter struct {
	global     *rate.Limiter
	perIPRate  rate.Limit
	perIPBurst int

	mu      sync.Mutex
	clients map[string]*clientLimiter

	inflight chan struct{}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(globalRPS, perIPRPS float64, perIPBurst, maxConcurrent int) *Limiter {
	return &Limiter{
		global:     rate.NewLimiter(rate.Limit(globalRPS), int(globalRPS)*2),
		perIPRate:  rate.Limit(perIPRPS),
		perIPBurst: perIPBurst,
		clients:    make(map[string]*clientLimiter),
		inflight:   make(chan struct{}, maxConcurrent),
	}
}

// Acquire reports whether a request from ip may proceed. A true result
// must be paired with Done once the request finishes.
func (l *Limiter) Acquire(ip string) bool {
	if !l.global.Allow() || !l.forIP(ip).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	select {
	case l.inflight <- struct{}{}:
		return true
	default:
		metrics.RateLimitHits.Inc()
		return false
	}
}

// Done releases the concurrency slot taken by Acquire.
func (l *Limiter) Done() {
	select {
	case <-l.inflight:
	default:
	}
}

func (l *Limiter) forIP(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.perIPRate, l.perIPBurst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// Middleware applies the limiter to an HTTP handler.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.Acquire(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		defer l.Done()
		next(w, r)
	}
}

// StartCleanup evicts per-client limiters idle longer than maxIdle.
// Runs until ctx-free process exit; the limiter lives as long as the
// server does.
func (l *Limiter) StartCleanup(interval, maxIdle time.Duration) {
	go func() {
		for {
			time.Sleep(interval)
			cutoff := time.Now().Add(-maxIdle)
			l.mu.Lock()
			for ip, c := range l.clients {
				if c.lastSeen.Before(cutoff) {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
