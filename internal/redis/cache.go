package redis

import (
	"context"
	"fmt"
	"time"

	"studysphere/internal/identity"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - identity:{user_id} - resolved display identity, short TTL

// CacheConfig contains configuration for caching
type CacheConfig struct {
	IdentityTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		IdentityTTL: 5 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	if config.IdentityTTL <= 0 {
		config.IdentityTTL = DefaultCacheConfig().IdentityTTL
	}
	return &CacheStore{
		client: client,
		config: config,
	}
}

// identityCache is the stored form. It keeps Source, which the API form
// leaves out.
type identityCache struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
	Role         string `json:"role,omitempty"`
	Source       string `json:"source"`
}

func identityKey(id string) string {
	return fmt.Sprintf("identity:%s", id)
}

// GetIdentity reports a miss as ok=false with a nil error.
func (c *CacheStore) GetIdentity(ctx context.Context, id uuid.UUID) (identity.ResolvedIdentity, bool, error) {
	data, err := c.client.Get(ctx, identityKey(id.String())).Bytes()
	if err == goredis.Nil {
		return identity.ResolvedIdentity{}, false, nil
	}
	if err != nil {
		return identity.ResolvedIdentity{}, false, err
	}

	var cached identityCache
	if err := json.Unmarshal(data, &cached); err != nil {
		return identity.ResolvedIdentity{}, false, err
	}
	return identity.ResolvedIdentity{
		ID:           cached.ID,
		Name:         cached.Name,
		Email:        cached.Email,
		ProfileImage: cached.ProfileImage,
		Role:         cached.Role,
		Source:       identity.Source(cached.Source),
		Found:        true,
	}, true, nil
}

// SetIdentity stores a resolved identity. Only identities backed by a
// stored user belong in the cache.
func (c *CacheStore) SetIdentity(ctx context.Context, ri identity.ResolvedIdentity) error {
	data, err := json.Marshal(identityCache{
		ID:           ri.ID,
		Name:         ri.Name,
		Email:        ri.Email,
		ProfileImage: ri.ProfileImage,
		Role:         ri.Role,
		Source:       string(ri.Source),
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, identityKey(ri.ID), data, c.config.IdentityTTL).Err()
}

func (c *CacheStore) InvalidateIdentity(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, identityKey(id.String())).Err()
}
