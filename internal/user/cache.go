package user

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// cachePrefix is the Redis key prefix for cached user hashes.
	cachePrefix = "user:"

	// cacheTTL bounds staleness of cached directory entries. User rows are
	// provisioned out-of-band, so a short TTL is the only invalidation.
	cacheTTL = 5 * time.Minute
)

// Cache is a Redis read-through cache for user records. Avatar bytes are the
// heavy column; every chat switch re-reads the sender, so caching pays off.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis and verifies the connection.
func NewCache(addr string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("user: redis connection failed: %w", err)
	}
	return &Cache{client: client}, nil
}

// Get returns the cached user, or nil on a miss. Cache errors are returned
// so the caller can log them; a broken cache must never fail a read.
func (c *Cache) Get(ctx context.Context, id int64) (*User, error) {
	fields, err := c.client.HGetAll(ctx, cachePrefix+strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cachedID, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("user: corrupt cache entry for %d: %w", id, err)
	}

	u := &User{
		UserID:    cachedID,
		FirstName: fields["first_name"],
		LastName:  fields["last_name"],
	}
	if avatar := fields["avatar"]; avatar != "" {
		u.ImagePath = []byte(avatar)
	}
	return u, nil
}

// Set stores the user hash with a TTL in one pipeline round trip.
func (c *Cache) Set(ctx context.Context, u *User) error {
	key := cachePrefix + strconv.FormatInt(u.UserID, 10)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         u.UserID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"avatar":     u.ImagePath,
	})
	pipe.Expire(ctx, key, cacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
