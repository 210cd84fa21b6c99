// Package ratelimit enforces the two limits the core needs: WebSocket
// connects per IP and chat messages per user. Counters live in Redis so the
// limits hold across instances, with an in-memory fallback for tests and
// single-node development.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
)

// Limiter holds the connect and message limiters over one shared store.
type Limiter struct {
	connect  *limiter.Limiter
	messages *limiter.Limiter
}

// New builds the limiter from "count-period" formatted rates (e.g. "30-M").
// A nil redisClient falls back to the in-memory store.
func New(connectRate, messageRate string, redisClient *redis.Client) (*Limiter, error) {
	cRate, err := limiter.NewRateFromFormatted(connectRate)
	if err != nil {
		return nil, fmt.Errorf("invalid connect rate %q: %w", connectRate, err)
	}
	mRate, err := limiter.NewRateFromFormatted(messageRate)
	if err != nil {
		return nil, fmt.Errorf("invalid message rate %q: %w", messageRate, err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store")
	}

	return &Limiter{
		connect:  limiter.New(store, cRate),
		messages: limiter.New(store, mRate),
	}, nil
}

// AllowConnection checks the per-IP connect limit and writes the 429 itself
// when the limit is hit. Store failures fail open: availability over strict
// enforcement.
func (l *Limiter) AllowConnection(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lctx, err := l.connect.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	metrics.RateLimitRequests.WithLabelValues("connect").Inc()
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("connect").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}

// AllowMessage checks the per-user chat message limit.
func (l *Limiter) AllowMessage(ctx context.Context, userID string) bool {
	lctx, err := l.messages.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	metrics.RateLimitRequests.WithLabelValues("message").Inc()
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("message").Inc()
		return false
	}
	return true
}
