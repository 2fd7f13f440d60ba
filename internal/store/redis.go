// redis.go -- go-redis cache layer for users, contacts, and contact lists.
//
// Read-through cache in front of Postgres. Every failure -- connection,
// timeout, bad payload -- is absorbed here: getters report a miss, writers
// report false. Callers never receive an error from the cache, so the
// service stays correct (just slower) with Redis entirely down.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies connectivity with a ping.
// The returned client is shared by the cache, the rate limiter, and the mail
// queue -- one connection pool for all of them.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// RedisCache wraps a Redis client for entity cache operations.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache returns a cache backed by the shared Redis client.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Key builders. Keys are versionless string templates; changing a value
// shape means changing the key prefix.

func userKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

func contactKey(id, userID int64) string {
	return fmt.Sprintf("contact:%d:user:%d", id, userID)
}

func contactListKey(userID int64, offset, limit int) string {
	return fmt.Sprintf("contacts:%d:%d:%d", userID, offset, limit)
}

// contactListSetKey names the per-owner Set that tracks every live list key,
// so a write can invalidate all cached pages without scanning the keyspace.
func contactListSetKey(userID int64) string {
	return fmt.Sprintf("contact_lists:%d", userID)
}

// GetUser retrieves a cached user snapshot by id.
// Returns (nil, false) on miss or any Redis failure.
func (c *RedisCache) GetUser(ctx context.Context, id int64) (*CachedUser, bool) {
	raw, err := c.rdb.Get(ctx, userKey(id)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache: user get failed", "error", err)
		}
		return nil, false
	}

	var cached CachedUser
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		slog.Warn("cache: user payload unparseable", "error", err)
		return nil, false
	}
	return &cached, true
}

// SetUser caches the gating-relevant fields of a user with the given TTL.
// The password hash never reaches Redis -- only the CachedUser shape is stored.
func (c *RedisCache) SetUser(ctx context.Context, u *User, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	payload, err := json.Marshal(CachedUser{
		ID:         u.ID,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Role:       u.Role,
	})
	if err != nil {
		slog.Warn("cache: user marshal failed", "error", err)
		return false
	}
	if err := c.rdb.Set(ctx, userKey(u.ID), payload, ttl).Err(); err != nil {
		slog.Warn("cache: user set failed", "error", err)
		return false
	}
	return true
}

// DeleteUser invalidates a cached user snapshot.
func (c *RedisCache) DeleteUser(ctx context.Context, id int64) bool {
	if err := c.rdb.Del(ctx, userKey(id)).Err(); err != nil {
		slog.Warn("cache: user delete failed", "error", err)
		return false
	}
	return true
}

// GetContact retrieves a cached contact by id and owner.
// Returns (nil, false) on miss or any Redis failure.
func (c *RedisCache) GetContact(ctx context.Context, id, userID int64) (*Contact, bool) {
	raw, err := c.rdb.Get(ctx, contactKey(id, userID)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache: contact get failed", "error", err)
		}
		return nil, false
	}

	var contact Contact
	if err := json.Unmarshal([]byte(raw), &contact); err != nil {
		slog.Warn("cache: contact payload unparseable", "error", err)
		return nil, false
	}
	return &contact, true
}

// SetContact caches a single contact with the given TTL.
func (c *RedisCache) SetContact(ctx context.Context, contact *Contact, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	payload, err := json.Marshal(contact)
	if err != nil {
		slog.Warn("cache: contact marshal failed", "error", err)
		return false
	}
	if err := c.rdb.Set(ctx, contactKey(contact.ID, contact.UserID), payload, ttl).Err(); err != nil {
		slog.Warn("cache: contact set failed", "error", err)
		return false
	}
	return true
}

// DeleteContact invalidates a cached single-contact entry.
func (c *RedisCache) DeleteContact(ctx context.Context, id, userID int64) bool {
	if err := c.rdb.Del(ctx, contactKey(id, userID)).Err(); err != nil {
		slog.Warn("cache: contact delete failed", "error", err)
		return false
	}
	return true
}

// GetContactList retrieves a cached list page for (owner, offset, limit).
// Returns (nil, false) on miss or any Redis failure.
func (c *RedisCache) GetContactList(ctx context.Context, userID int64, offset, limit int) ([]Contact, bool) {
	raw, err := c.rdb.Get(ctx, contactListKey(userID, offset, limit)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache: contact list get failed", "error", err)
		}
		return nil, false
	}

	var contacts []Contact
	if err := json.Unmarshal([]byte(raw), &contacts); err != nil {
		slog.Warn("cache: contact list payload unparseable", "error", err)
		return nil, false
	}
	return contacts, true
}

// SetContactList caches a list page and records its key in the owner's
// tracking Set. The Set outlives the page entries slightly (its own TTL is
// bumped to the page TTL on every write); members pointing at expired pages
// just produce no-op deletes during invalidation.
func (c *RedisCache) SetContactList(ctx context.Context, userID int64, offset, limit int, contacts []Contact, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	payload, err := json.Marshal(contacts)
	if err != nil {
		slog.Warn("cache: contact list marshal failed", "error", err)
		return false
	}

	key := contactListKey(userID, offset, limit)
	setKey := contactListSetKey(userID)

	// Page write and Set bookkeeping go through one pipeline.
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.SAdd(ctx, setKey, key)
	pipe.Expire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache: contact list set failed", "error", err)
		return false
	}
	return true
}

// InvalidateContactLists removes every cached list page for the owner plus
// the tracking Set itself.
func (c *RedisCache) InvalidateContactLists(ctx context.Context, userID int64) bool {
	setKey := contactListSetKey(userID)

	keys, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		slog.Warn("cache: contact list members fetch failed", "error", err)
		return false
	}

	pipe := c.rdb.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache: contact list invalidation failed", "error", err)
		return false
	}
	return true
}
