// Package token caches the short-lived "validated" value the chat endpoint
// requires. The value lives in memory, is persisted to a JSON file with a
// capture timestamp, and is re-discovered through an Extractor when neither
// source has a usable value.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"blackbox-agent/internal/async"
	"blackbox-agent/internal/fileutil"
)

// DefaultTTL is how long a persisted value stays eligible for adoption.
const DefaultTTL = 4 * time.Hour

// naiveLayout is the zone-less ISO-8601 form older cache files were written
// with. Such timestamps are UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// Extractor discovers a fresh token.
type Extractor interface {
	Extract(ctx context.Context) (string, error)
}

type fileEntry struct {
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// Cache holds a single token. Access is serialized by a mutex that is held
// across the whole miss path, so concurrent misses run the Extractor once
// and later callers see the value the first one stored.
type Cache struct {
	path       string
	extractor  Extractor
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	revalidate bool

	mu         sync.Mutex
	value      string
	capturedAt time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRevalidation makes GetToken treat an in-memory value older than the
// TTL as a miss. By default an in-memory value is kept for the life of the
// process.
func WithRevalidation(enabled bool) Option {
	return func(c *Cache) {
		c.revalidate = enabled
	}
}

// NewCache creates a Cache persisted at path and seeds it from that file
// when the stored value is still within the TTL.
func NewCache(path string, extractor Extractor, opts ...Option) (*Cache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("token: cache path must not be empty")
	}
	if extractor == nil {
		return nil, errors.New("token: extractor must not be nil")
	}
	c := &Cache{
		path:      path,
		extractor: extractor,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mu.Lock()
	c.loadLocked()
	c.mu.Unlock()
	return c, nil
}

// GetToken returns the current token, or false when none could be found.
// It never fails: a failed discovery leaves the previous value in place.
func (c *Cache) GetToken(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != "" && (!c.revalidate || c.fresh(c.capturedAt)) {
		return c.value, true
	}
	if c.loadLocked() {
		return c.value, true
	}

	previous := c.value
	if err := ctx.Err(); err != nil {
		c.logger.Debug("skipping token discovery", "err", err)
		return previous, previous != ""
	}
	c.logger.Debug("discovering token")
	tok, err := c.extractor.Extract(ctx)
	if err != nil {
		c.logger.Warn("token discovery failed, keeping previous value", "err", err, "have_previous", previous != "")
		return previous, previous != ""
	}
	c.setLocked(tok)
	return tok, true
}

// GetTokenAsync is the suspendable form of GetToken.
func (c *Cache) GetTokenAsync(ctx context.Context) *async.Future[string] {
	return async.Run(ctx, func(ctx context.Context) (string, error) {
		tok, _ := c.GetToken(ctx)
		return tok, nil
	})
}

// SetToken stores value in memory and rewrites the cache file. A failed
// write is logged; the in-memory value is kept either way.
func (c *Cache) SetToken(value string) {
	if value == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(value)
}

func (c *Cache) setLocked(value string) {
	c.value = value
	c.capturedAt = c.now().UTC()

	raw, err := json.Marshal(fileEntry{Value: value, Timestamp: c.capturedAt.Format(time.RFC3339Nano)})
	if err != nil {
		c.logger.Error("encode token cache", "err", err)
		return
	}
	if err := fileutil.WriteAtomic(c.path, raw, 0o600); err != nil {
		c.logger.Error("save token cache", "path", c.path, "err", err)
		return
	}
	c.logger.Debug("saved token cache", "path", c.path)
}

// loadLocked adopts the persisted value if it is within the TTL.
func (c *Cache) loadLocked() bool {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		c.logger.Error("read token cache", "path", c.path, "err", err)
		return false
	}
	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Error("decode token cache", "path", c.path, "err", err)
		return false
	}
	capturedAt, err := parseTimestamp(entry.Timestamp)
	if err != nil {
		c.logger.Error("decode token cache timestamp", "path", c.path, "err", err)
		return false
	}
	if entry.Value == "" || !c.fresh(capturedAt) {
		c.logger.Debug("token cache entry expired", "captured_at", capturedAt)
		return false
	}
	c.value = entry.Value
	c.capturedAt = capturedAt
	c.logger.Debug("loaded token from cache", "captured_at", capturedAt)
	return true
}

func (c *Cache) fresh(capturedAt time.Time) bool {
	return c.now().Sub(capturedAt) < c.ttl
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("token: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
