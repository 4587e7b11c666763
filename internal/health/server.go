// Package health exposes the ops-only HTTP surface: liveness/readiness
// probes and an admin cleanup trigger. It never serves trading or query
// data — see SPEC_FULL.md's Non-goals.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nemalert/pricebot/internal/config"
)

// cleanupStore is the subset of store.Store the admin endpoint depends on.
type cleanupStore interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) error
}

// Server is the ops HTTP surface: /healthz, /readyz, /admin/cleanup.
type Server struct {
	http *http.Server
}

// New builds a Server bound to cfg.Addr. readyFn reports whether the
// scheduler has completed its startup fetch; it is polled on every
// /readyz request.
func New(cfg config.HealthConfig, store cleanupStore, retentionDays int, readyFn func() bool, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(rateLimitMiddleware(cfg.RateLimitPerMin))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		if readyFn != nil && !readyFn() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.POST("/admin/cleanup", func(c *gin.Context) {
		if err := store.CleanupOldRecords(c.Request.Context(), retentionDays); err != nil {
			log.Error("health: admin cleanup failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleaned"})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("health: shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}

// ipLimiter tracks a token-bucket rate.Limiter per client IP, evicting
// buckets that have gone quiet so the map doesn't grow without bound.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rps      rate.Limit
	burst    int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute int) *ipLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	il := &ipLimiter{
		limiters: make(map[string]*entry),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
	go il.evictLoop()
	return il
}

func (il *ipLimiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		il.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for ip, e := range il.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(il.limiters, ip)
			}
		}
		il.mu.Unlock()
	}
}

func (il *ipLimiter) allow(ip string) bool {
	il.mu.Lock()
	e, ok := il.limiters[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(il.rps, il.burst)}
		il.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	il.mu.Unlock()

	return e.limiter.Allow()
}

// rateLimitMiddleware enforces a per-IP request budget using a token
// bucket from golang.org/x/time/rate, one bucket per client IP.
func rateLimitMiddleware(perMinute int) gin.HandlerFunc {
	il := newIPLimiter(perMinute)
	return func(c *gin.Context) {
		if !il.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}
