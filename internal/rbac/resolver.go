package rbac

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/crm-identity/internal/domain"
	"github.com/spec-kit/crm-identity/internal/observability"
)

const defaultLoadTimeout = 5 * time.Second

// PermissionSource loads the permission codes granted to a role. An unknown
// role yields an empty slice, not an error.
type PermissionSource interface {
	CodesForRole(ctx context.Context, roleCode string) ([]string, error)
}

// Invalidator drops cached grant sets. Every mutation of roles, permissions or
// role_permissions must call it; an empty roleCode clears everything.
type Invalidator interface {
	Invalidate(ctx context.Context, roleCode string) error
}

// Resolver answers permission checks from a per-process cache backed by the
// credential store.
type Resolver struct {
	source      PermissionSource
	cache       *Cache
	group       singleflight.Group
	loadTimeout time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewResolver constructs a resolver with an empty cache.
func NewResolver(source PermissionSource, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source:      source,
		cache:       NewCache(),
		loadTimeout: defaultLoadTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Cache exposes the resolver's cache so invalidation transports can reach it.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// HasPermission reports whether roleCode grants permission. ADMIN is granted
// before the cache is consulted.
func (r *Resolver) HasPermission(ctx context.Context, roleCode, permission string) (bool, error) {
	if domain.GrantsAll(roleCode) {
		r.metrics.RecordCacheLookup(observability.CacheBypass)
		return true, nil
	}
	set, err := r.permissionSet(ctx, roleCode)
	if err != nil {
		return false, err
	}
	return set.has(permission), nil
}

// RolePermissions returns the sorted grant set of roleCode, or ["*"] for ADMIN.
func (r *Resolver) RolePermissions(ctx context.Context, roleCode string) ([]string, error) {
	if domain.GrantsAll(roleCode) {
		return []string{domain.AllPermissions}, nil
	}
	set, err := r.permissionSet(ctx, roleCode)
	if err != nil {
		return nil, err
	}
	return set.codes(), nil
}

// Invalidate drops the local cache entry for roleCode (all entries when empty).
func (r *Resolver) Invalidate(_ context.Context, roleCode string) error {
	r.cache.Invalidate(roleCode)
	return nil
}

func (r *Resolver) permissionSet(ctx context.Context, roleCode string) (permissionSet, error) {
	set, gen, ok := r.cache.lookup(roleCode)
	if ok {
		r.metrics.RecordCacheLookup(observability.CacheHit)
		return set, nil
	}
	r.metrics.RecordCacheLookup(observability.CacheMiss)

	// Callers that miss on the same generation share one load. A caller that
	// arrives after an invalidation starts a new one.
	v, err, _ := r.group.Do(roleCode+"@"+gen.String(), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		codes, err := r.source.CodesForRole(loadCtx, roleCode)
		if err != nil {
			return nil, err
		}
		loaded := newPermissionSet(codes)
		if !r.cache.store(roleCode, gen, loaded) {
			r.logger.Debug("discarding permission load superseded by invalidation", zap.String("role", roleCode))
		}
		return loaded, nil
	})
	if err != nil {
		r.metrics.RecordStoreFailure("load_role_permissions")
		return nil, fmt.Errorf("load permissions for role %s: %w", roleCode, err)
	}
	return v.(permissionSet), nil
}
