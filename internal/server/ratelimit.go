package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/counsel/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	LimiterOff    = "off"
	LimiterMemory = "memory"
	LimiterRedis  = "redis"

	redisLimiterPrefix = "counsel:ratelimit:"
	redisCallTimeout   = 2 * time.Second
)

// limiterStore is an echo rate limiter store that owns closable resources.
type limiterStore interface {
	middleware.RateLimiterStore
	Close() error
}

type nopCloser struct{ middleware.RateLimiterStore }

func (nopCloser) Close() error { return nil }

func wrapStore(s middleware.RateLimiterStore) limiterStore {
	if s == nil {
		return nil
	}
	if ls, ok := s.(limiterStore); ok {
		return ls
	}
	return nopCloser{s}
}

// newLimiterStore returns nil when rate limiting is off.
func newLimiterStore(cfg config.RateLimitConfig, rc config.RedisConfig, log zerolog.Logger) (limiterStore, error) {
	switch cfg.Store {
	case "", LimiterOff:
		return nil, nil
	case LimiterMemory:
		return nopCloser{middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.RequestsPerSecond),
			Burst:     cfg.Burst,
			ExpiresIn: cfg.ExpiresIn,
		})}, nil
	case LimiterRedis:
		if err := rc.Validate(); err != nil {
			return nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:         rc.Addr(),
			Password:     rc.Password,
			DB:           rc.DB,
			DialTimeout:  rc.Timeout,
			ReadTimeout:  rc.Timeout,
			WriteTimeout: rc.Timeout,
		})
		return NewRedisLimiterStore(client, cfg.Window, cfg.Limit, log), nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.Store)
	}
}

func rateLimit(store middleware.RateLimiterStore) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "unable to identify client"})
		},
	})
}

// RedisLimiterStore is a sliding-window log limiter: each client gets a sorted
// set of request timestamps trimmed to the window. Every attempt is recorded,
// including rejected ones.
type RedisLimiterStore struct {
	client *redis.Client
	window time.Duration
	limit  int
	prefix string
	now    func() time.Time
	log    zerolog.Logger
}

func NewRedisLimiterStore(client *redis.Client, window time.Duration, limit int, logger zerolog.Logger) *RedisLimiterStore {
	return &RedisLimiterStore{
		client: client,
		window: window,
		limit:  limit,
		prefix: redisLimiterPrefix,
		now:    time.Now,
		log:    logger,
	}
}

// Allow reports whether identifier is under the limit. Redis failures let the
// request through.
func (s *RedisLimiterStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()

	now := s.now()
	key := s.prefix + identifier
	cutoff := now.Add(-s.window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.PExpire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("identifier", identifier).Msg("rate limiter unavailable")
		return true, nil
	}
	return count.Val() < int64(s.limit), nil
}

// Close releases the redis client.
func (s *RedisLimiterStore) Close() error { return s.client.Close() }
