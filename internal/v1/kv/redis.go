// Package kv wraps the shared key-value store behind a circuit breaker. The
// repositories in internal/v1/store are its only consumers; they see typed
// errors instead of raw client failures so coordinators can degrade cleanly.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable is returned when the circuit breaker is open and the
	// store cannot be reached. Callers surface it as an internal error.
	ErrUnavailable = errors.New("kv: store unavailable")
)

// Store handles all interaction with the Redis cluster.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// New creates a Redis-backed store and verifies connectivity before returning.
func New(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "kv",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.Set(stateVal)
			logging.Warn(context.Background(), "kv circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// A key miss is a normal outcome, not a store fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	}

	logging.Info(context.Background(), "connected to key-value store", zap.String("addr", addr))
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// newWithClient wires an existing client; the test helper uses it with miniredis.
func newWithClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kv",
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     15 * time.Second,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
	}
}

// do routes a single operation through the circuit breaker and records the
// outcome. Repository semantics require real results, so an open breaker
// surfaces ErrUnavailable instead of silently dropping the call.
func (s *Store) do(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.KvOperations.WithLabelValues(op, "miss").Inc()
			return nil, err
		}
		metrics.CircuitBreakerFailures.WithLabelValues(op).Inc()
		metrics.KvOperations.WithLabelValues(op, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn(ctx, "kv circuit breaker open, rejecting operation", zap.String("op", op))
			return nil, ErrUnavailable
		}
		logging.Error(ctx, "kv operation failed", zap.String("op", op), zap.Error(err))
		return nil, err
	}
	metrics.KvOperations.WithLabelValues(op, "success").Inc()
	return res, nil
}

// Get returns the string value at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	res, err := s.do(ctx, "get", func() (any, error) {
		val, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return val, err
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Set writes value at key with a TTL. A zero ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.do(ctx, "set", func() (any, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.do(ctx, "delete", func() (any, error) {
		return nil, s.client.Del(ctx, key).Err()
	})
	return err
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.do(ctx, "exists", func() (any, error) {
		n, err := s.client.Exists(ctx, key).Result()
		return n > 0, err
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// PushLeft prepends values to the list at key.
func (s *Store) PushLeft(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	_, err := s.do(ctx, "lpush", func() (any, error) {
		return nil, s.client.LPush(ctx, key, args...).Err()
	})
	return err
}

// Trim constrains the list at key to the inclusive [start, stop] window.
func (s *Store) Trim(ctx context.Context, key string, start, stop int64) error {
	_, err := s.do(ctx, "ltrim", func() (any, error) {
		return nil, s.client.LTrim(ctx, key, start, stop).Err()
	})
	return err
}

// Range returns list elements in the inclusive [start, stop] window.
func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	res, err := s.do(ctx, "lrange", func() (any, error) {
		return s.client.LRange(ctx, key, start, stop).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// SetAt overwrites the list element at index.
func (s *Store) SetAt(ctx context.Context, key string, index int64, value string) error {
	_, err := s.do(ctx, "lset", func() (any, error) {
		return nil, s.client.LSet(ctx, key, index, value).Err()
	})
	return err
}

// Expire refreshes the TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.do(ctx, "expire", func() (any, error) {
		return nil, s.client.Expire(ctx, key, ttl).Err()
	})
	return err
}

// SetAdd adds members to the set at key.
func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := s.do(ctx, "sadd", func() (any, error) {
		return nil, s.client.SAdd(ctx, key, args...).Err()
	})
	return err
}

// SetRemove removes members from the set at key.
func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := s.do(ctx, "srem", func() (any, error) {
		return nil, s.client.SRem(ctx, key, args...).Err()
	})
	return err
}

// SetMembers returns all members of the set at key.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.do(ctx, "smembers", func() (any, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// ScanPrefix walks the keyspace with a cursor and returns every key starting
// with prefix. Ordering is whatever the server yields.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	res, err := s.do(ctx, "scan", func() (any, error) {
		var keys []string
		var cursor uint64
		for {
			batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				return nil, err
			}
			keys = append(keys, batch...)
			cursor = next
			if cursor == 0 {
				return keys, nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// MultiGet returns the values for keys in order; misses are nil entries.
func (s *Store) MultiGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := s.do(ctx, "mget", func() (any, error) {
		raw, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		out := make([]*string, len(raw))
		for i, v := range raw {
			if v == nil {
				continue
			}
			str, ok := v.(string)
			if !ok {
				continue
			}
			out[i] = &str
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]*string), nil
}

// Ping checks store connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "ping", func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
