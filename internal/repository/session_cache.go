package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/mobile-auth-api/internal/models"
)

var (
	// ErrSessionNotFound is returned when no live session exists for an identity.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionMismatch is returned when the live session references a
	// different refresh token than the one presented.
	ErrSessionMismatch = errors.New("session token mismatch")
)

// SessionStore is the Session Cache: the single live refresh token per
// identity. Rotate and CompareAndDelete are atomic compare-and-swap
// operations keyed on the refresh token id.
type SessionStore interface {
	Set(ctx context.Context, entry models.SessionEntry) error
	Get(ctx context.Context, identityID string) (*models.SessionEntry, error)
	Delete(ctx context.Context, identityID string) error
	Rotate(ctx context.Context, identityID, expectedTokenID string, next models.SessionEntry) error
	CompareAndDelete(ctx context.Context, identityID, tokenID string) error
	Ping(ctx context.Context) error
}

var (
	_ SessionStore = (*RedisSessionCache)(nil)
	_ SessionStore = (*MemorySessionCache)(nil)
)

const defaultSessionKeyPrefix = "auth:session:"

const (
	casStatusNotFound int64 = 0
	casStatusApplied  int64 = 1
	casStatusMismatch int64 = 2
)

// KEYS[1] session key; ARGV[1] expected jti; ARGV[2] next entry; ARGV[3] ttl ms
var rotateSessionLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local current = cjson.decode(data)
if current.tokenId ~= ARGV[1] then
  return 2
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// KEYS[1] session key; ARGV[1] expected jti
var compareAndDeleteSessionLua = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local current = cjson.decode(data)
if current.tokenId ~= ARGV[1] then
  return 2
end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisSessionCache stores one session entry per identity in Redis, expiring
// with the refresh token it references.
type RedisSessionCache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisSessionCache constructs a Redis backed session cache.
func NewRedisSessionCache(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisSessionCache {
	if prefix == "" {
		prefix = defaultSessionKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionCache{client: client, prefix: prefix, logger: logger, now: time.Now}
}

func (c *RedisSessionCache) key(identityID string) string {
	return c.prefix + identityID
}

// Set replaces whatever session the identity had.
func (c *RedisSessionCache) Set(ctx context.Context, entry models.SessionEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal session for %s: %w", entry.IdentityID, err)
	}
	key := c.key(entry.IdentityID)
	if err := c.client.Set(ctx, key, payload, entry.TTL(c.now())).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the live session for identityID.
func (c *RedisSessionCache) Get(ctx context.Context, identityID string) (*models.SessionEntry, error) {
	key := c.key(identityID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry models.SessionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("discarding unreadable session entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return nil, ErrSessionNotFound
	}
	return &entry, nil
}

// Delete removes the identity's session. Deleting a missing session is not an error.
func (c *RedisSessionCache) Delete(ctx context.Context, identityID string) error {
	key := c.key(identityID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Rotate atomically swaps the session to next if it still references
// expectedTokenID.
func (c *RedisSessionCache) Rotate(ctx context.Context, identityID, expectedTokenID string, next models.SessionEntry) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal session for %s: %w", identityID, err)
	}
	key := c.key(identityID)
	ttl := next.TTL(c.now())

	status, err := rotateSessionLua.Run(ctx, c.client, []string{key}, expectedTokenID, payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis rotate %s: %w", key, err)
	}
	return casResult(status)
}

// CompareAndDelete removes the session only if it references tokenID.
func (c *RedisSessionCache) CompareAndDelete(ctx context.Context, identityID, tokenID string) error {
	key := c.key(identityID)
	status, err := compareAndDeleteSessionLua.Run(ctx, c.client, []string{key}, tokenID).Int64()
	if err != nil {
		return fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return casResult(status)
}

// Ping reports whether Redis is reachable.
func (c *RedisSessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func casResult(status int64) error {
	switch status {
	case casStatusApplied:
		return nil
	case casStatusMismatch:
		return ErrSessionMismatch
	case casStatusNotFound:
		return ErrSessionNotFound
	default:
		return fmt.Errorf("unexpected session script status %d", status)
	}
}

// MemorySessionCache is an in-process session cache for tests and
// single-instance development.
type MemorySessionCache struct {
	mu      sync.Mutex
	entries map[string]models.SessionEntry
	now     func() time.Time
}

// NewMemorySessionCache constructs an empty cache. now may be nil.
func NewMemorySessionCache(now func() time.Time) *MemorySessionCache {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionCache{entries: make(map[string]models.SessionEntry), now: now}
}

// Set replaces whatever session the identity had.
func (c *MemorySessionCache) Set(_ context.Context, entry models.SessionEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.IdentityID] = entry
	return nil
}

// Get returns the live session for identityID.
func (c *MemorySessionCache) Get(_ context.Context, identityID string) (*models.SessionEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.liveLocked(identityID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &entry, nil
}

// Delete removes the identity's session.
func (c *MemorySessionCache) Delete(_ context.Context, identityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identityID)
	return nil
}

// Rotate atomically swaps the session to next if it still references
// expectedTokenID.
func (c *MemorySessionCache) Rotate(_ context.Context, identityID, expectedTokenID string, next models.SessionEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.liveLocked(identityID)
	if !ok {
		return ErrSessionNotFound
	}
	if entry.TokenID != expectedTokenID {
		return ErrSessionMismatch
	}
	c.entries[identityID] = next
	return nil
}

// CompareAndDelete removes the session only if it references tokenID.
func (c *MemorySessionCache) CompareAndDelete(_ context.Context, identityID, tokenID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.liveLocked(identityID)
	if !ok {
		return ErrSessionNotFound
	}
	if entry.TokenID != tokenID {
		return ErrSessionMismatch
	}
	delete(c.entries, identityID)
	return nil
}

// Ping always succeeds.
func (c *MemorySessionCache) Ping(context.Context) error { return nil }

func (c *MemorySessionCache) liveLocked(identityID string) (models.SessionEntry, bool) {
	entry, ok := c.entries[identityID]
	if !ok {
		return models.SessionEntry{}, false
	}
	if entry.Expired(c.now()) {
		delete(c.entries, identityID)
		return models.SessionEntry{}, false
	}
	return entry, true
}
