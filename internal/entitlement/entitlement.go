package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradefloor/internal/models"

	"github.com/c-pro/geche"
)

const (
	DefaultRefreshTTL = time.Minute

	// Single cache key: the resolver only ever tracks the current viewer.
	cacheKeySelf = "self"
)

// Viewer is the current user plus their subscription state. It is the
// single input to capability derivation.
type Viewer struct {
	ID       string
	Username string
	Role     models.Role
	Plan     models.Plan
	Status   models.EntitlementStatus
}

var planRank = map[models.Plan]int{
	models.PlanFree:    0,
	models.PlanPremium: 1,
	models.PlanElite:   2,
}

// CapabilitiesFor derives the viewer's access flags for a channel.
// It is pure: the result depends only on its arguments, and callers
// treat it as derived, read-only data recomputed on every relevant
// state change.
//
// Rules: admins and moderators bypass plan gating entirely. Free
// channels are open to everyone. Paid channels require an active
// entitlement at or above the channel's access level; inactive and
// payment-failed subscriptions lose access. Every channel is visible
// (CanSee) so a locked or gated channel can still be shown as such.
// Locked channels are read-only for non-staff.
func CapabilitiesFor(v Viewer, ch models.Channel) models.Capabilities {
	if v.Role == models.RoleAdmin || v.Role == models.RoleModerator {
		return models.Capabilities{CanSee: true, CanRead: true, CanWrite: true}
	}

	entitled := ch.AccessLevel == models.PlanFree ||
		(v.Status == models.EntitlementActive && planRank[v.Plan] >= planRank[ch.AccessLevel])

	return models.Capabilities{
		CanSee:   true,
		CanRead:  entitled,
		CanWrite: entitled && !ch.Locked,
	}
}

// Apply recomputes the capability flags on a channel list for the
// given viewer. The input slice is not modified.
func Apply(v Viewer, channels []models.Channel) []models.Channel {
	out := make([]models.Channel, len(channels))
	for i, ch := range channels {
		ch.Capabilities = CapabilitiesFor(v, ch)
		out[i] = ch
	}
	return out
}

type statusFetcher interface {
	Entitlement(ctx context.Context) (models.Entitlement, error)
}

// Resolver caches the viewer's entitlement snapshot with a TTL so the
// channel list can be recomputed cheaply, and refreshed eagerly on
// entitlement-changing events (plan purchase, role change).
type Resolver struct {
	fetcher statusFetcher
	cache   geche.Geche[string, models.Entitlement]

	mu     sync.RWMutex
	viewer Viewer
}

func NewResolver(ctx context.Context, fetcher statusFetcher, viewer Viewer, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &Resolver{
		fetcher: fetcher,
		cache:   geche.NewMapTTLCache[string, models.Entitlement](ctx, ttl, time.Second),
		viewer:  viewer,
	}
}

// Viewer returns the current viewer with the freshest known
// entitlement folded in.
func (r *Resolver) Viewer(ctx context.Context) (Viewer, error) {
	ent, err := r.cache.Get(cacheKeySelf)
	if err != nil {
		ent, err = r.refresh(ctx)
		if err != nil {
			return Viewer{}, err
		}
	}

	r.mu.RLock()
	v := r.viewer
	r.mu.RUnlock()

	v.Plan = ent.Plan
	v.Status = ent.Status
	return v, nil
}

// Invalidate drops the cached snapshot so the next Viewer call hits
// the backend. Wired to entitlement-changing bus events.
func (r *Resolver) Invalidate() {
	_ = r.cache.Del(cacheKeySelf)
}

func (r *Resolver) refresh(ctx context.Context) (models.Entitlement, error) {
	ent, err := r.fetcher.Entitlement(ctx)
	if err != nil {
		return models.Entitlement{}, fmt.Errorf("failed to fetch entitlement: %w", err)
	}
	r.cache.Set(cacheKeySelf, ent)
	return ent, nil
}
