// Package cache keeps user profiles in Redis so message and room views do
// not hit the users table for every row.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/slamtalk/slamtalk/internal/database"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownUser is returned when the profile's user does not exist.
var ErrUnknownUser = errors.New("unknown user")

const (
	DefaultPrefix = "slamtalk:profile:"
	DefaultTTL    = 5 * time.Minute

	MetricHits   = "ProfileCacheHits"
	MetricMisses = "ProfileCacheMisses"
)

type Profile struct {
	UserId   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	ImageUrl string `json:"image_url"`
}

type UserLoader interface {
	GetUserById(ctx context.Context, userId int64) (database.User, error)
}

type Counter interface {
	Incr(name string)
}

type ProfileCache struct {
	client *redis.Client
	users  UserLoader
	stats  Counter
	log    zerolog.Logger
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

func NewProfileCache(client *redis.Client, users UserLoader, stats Counter, logger zerolog.Logger, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &ProfileCache{
		client: client,
		users:  users,
		stats:  stats,
		log:    logger.With().Str("component", "profile_cache").Logger(),
		prefix: DefaultPrefix,
		ttl:    ttl,
	}
}

func (c *ProfileCache) key(userId int64) string {
	return c.prefix + strconv.FormatInt(userId, 10)
}

// Get returns the profile of userId, loading it from the database on a miss.
// Redis failures degrade to a database read.
func (c *ProfileCache) Get(ctx context.Context, userId int64) (Profile, error) {
	key := c.key(userId)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if err := json.Unmarshal(data, &p); err == nil {
			c.incr(MetricHits)
			return p, nil
		}
		c.log.Warn().Int64("user_id", userId).Msg("discarding corrupt cached profile")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Int64("user_id", userId).Msg("profile cache read failed")
	}
	c.incr(MetricMisses)

	v, err, _ := c.group.Do(key, func() (any, error) {
		u, err := c.users.GetUserById(ctx, userId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrUnknownUser
			}
			return nil, fmt.Errorf("load user %d: %w", userId, err)
		}

		p := Profile{UserId: u.Id, Nickname: u.Nickname, ImageUrl: u.ImageUrl}
		if data, err := json.Marshal(p); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.log.Warn().Err(err).Int64("user_id", userId).Msg("profile cache write failed")
			}
		}
		return p, nil
	})
	if err != nil {
		return Profile{}, err
	}

	return v.(Profile), nil
}

// ImageUrl returns the user's image url, or "" when the user no longer exists.
func (c *ProfileCache) ImageUrl(ctx context.Context, userId int64) (string, error) {
	p, err := c.Get(ctx, userId)
	if errors.Is(err, ErrUnknownUser) {
		return "", nil
	}
	return p.ImageUrl, err
}

// Invalidate drops the cached profile after the user changes it.
func (c *ProfileCache) Invalidate(ctx context.Context, userId int64) error {
	if err := c.client.Del(ctx, c.key(userId)).Err(); err != nil {
		return fmt.Errorf("invalidate profile %d: %w", userId, err)
	}
	return nil
}

func (c *ProfileCache) incr(name string) {
	if c.stats != nil {
		c.stats.Incr(name)
	}
}
