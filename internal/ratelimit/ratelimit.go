// Package ratelimit implements a fixed-window request counter for echo.
//
// Counters are per instance and in memory; they reset on restart and are
// not shared between replicas.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultQuota  = 60
)

type counter struct {
	window int64
	count  int
}

// Store counts requests per identifier in epoch-aligned windows.
// It satisfies middleware.RateLimiterStore.
type Store struct {
	mu       sync.Mutex
	window   time.Duration
	quota    int
	clock    clockwork.Clock
	counters map[string]*counter
	swept    int64
}

var _ middleware.RateLimiterStore = (*Store)(nil)

// NewStore returns a store allowing quota requests per window.
// Non-positive arguments fall back to the defaults.
func NewStore(window time.Duration, quota int, clock clockwork.Clock) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		window:   window,
		quota:    quota,
		clock:    clock,
		counters: make(map[string]*counter),
	}
}

// Allow records a request for identifier and reports whether it is within quota.
func (s *Store) Allow(identifier string) (bool, error) {
	w := s.clock.Now().UnixNano() / int64(s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if w != s.swept {
		s.sweep(w)
	}

	c, ok := s.counters[identifier]
	if !ok || c.window != w {
		c = &counter{window: w}
		s.counters[identifier] = c
	}
	if c.count >= s.quota {
		return false, nil
	}
	c.count++
	return true, nil
}

// Len returns the number of tracked identifiers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// sweep drops counters from earlier windows.
func (s *Store) sweep(current int64) {
	for k, c := range s.counters {
		if c.window < current {
			delete(s.counters, k)
		}
	}
	s.swept = current
}

// Identifier keys requests by caller address and route.
func Identifier(c echo.Context) (string, error) {
	return c.RealIP() + " " + c.Path(), nil
}

// Middleware limits requests using store. Denied requests are passed to
// deny, which should produce the 429 response.
func Middleware(store *Store, skipper middleware.Skipper, deny func(c echo.Context, identifier string, err error) error) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	if deny == nil {
		deny = func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		}
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper:             skipper,
		Store:               store,
		IdentifierExtractor: Identifier,
		DenyHandler:         deny,
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "cannot identify caller"})
		},
	})
}
