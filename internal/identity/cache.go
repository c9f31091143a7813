package identity

import (
	"context"

	"studysphere/internal/metrics"
	"studysphere/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache keeps resolved identities between requests.
type Cache interface {
	GetIdentity(ctx context.Context, id uuid.UUID) (ResolvedIdentity, bool, error)
	SetIdentity(ctx context.Context, ri ResolvedIdentity) error
}

type resolver interface {
	Resolve(ctx context.Context, id uuid.UUID) ResolvedIdentity
}

// CachedResolver answers from the cache and falls through to the full
// chain on a miss. Cache failures only cost the extra lookups.
type CachedResolver struct {
	next   resolver
	cache  Cache
	logger *logger.Logger
}

func NewCachedResolver(next resolver, cache Cache, l *logger.Logger) *CachedResolver {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &CachedResolver{next: next, cache: cache, logger: l.Named("identity")}
}

func (r *CachedResolver) Resolve(ctx context.Context, id uuid.UUID) ResolvedIdentity {
	hit, ok, err := r.cache.GetIdentity(ctx, id)
	if err != nil {
		r.logger.Ctx(ctx).Debug("identity cache read failed", zap.String("participant_id", id.String()), zap.Error(err))
	}
	if ok {
		metrics.IdentityResolutions.WithLabelValues("cache").Inc()
		return hit
	}

	out := r.next.Resolve(ctx, id)
	// unknown ids stay uncached so a user created later shows up at once
	if out.Found {
		if err := r.cache.SetIdentity(ctx, out); err != nil {
			r.logger.Ctx(ctx).Debug("identity cache write failed", zap.String("participant_id", id.String()), zap.Error(err))
		}
	}
	return out
}
