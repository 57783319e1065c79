package entitlement

import (
	"context"
	"testing"

	"tradefloor/internal/models"
)

func TestCapabilitiesFor(t *testing.T) {
	premium := models.Channel{ID: "signals", AccessLevel: models.PlanPremium}
	free := models.Channel{ID: "general", AccessLevel: models.PlanFree}
	locked := models.Channel{ID: "announcements", AccessLevel: models.PlanFree, Locked: true}

	tests := []struct {
		name    string
		viewer  Viewer
		channel models.Channel
		want    models.Capabilities
	}{
		{
			"free member in free channel",
			Viewer{Role: models.RoleMember, Plan: models.PlanFree, Status: models.EntitlementInactive},
			free,
			models.Capabilities{CanSee: true, CanRead: true, CanWrite: true},
		},
		{
			"free member in premium channel",
			Viewer{Role: models.RoleMember, Plan: models.PlanFree, Status: models.EntitlementInactive},
			premium,
			models.Capabilities{CanSee: true},
		},
		{
			"active premium member in premium channel",
			Viewer{Role: models.RoleMember, Plan: models.PlanPremium, Status: models.EntitlementActive},
			premium,
			models.Capabilities{CanSee: true, CanRead: true, CanWrite: true},
		},
		{
			"payment failed loses premium access",
			Viewer{Role: models.RoleMember, Plan: models.PlanPremium, Status: models.EntitlementPaymentFailed},
			premium,
			models.Capabilities{CanSee: true},
		},
		{
			"elite plan covers premium channel",
			Viewer{Role: models.RoleMember, Plan: models.PlanElite, Status: models.EntitlementActive},
			premium,
			models.Capabilities{CanSee: true, CanRead: true, CanWrite: true},
		},
		{
			"member cannot write locked channel",
			Viewer{Role: models.RoleMember, Plan: models.PlanFree, Status: models.EntitlementActive},
			locked,
			models.Capabilities{CanSee: true, CanRead: true},
		},
		{
			"moderator bypasses lock and plan",
			Viewer{Role: models.RoleModerator, Plan: models.PlanFree},
			locked,
			models.Capabilities{CanSee: true, CanRead: true, CanWrite: true},
		},
		{
			"admin bypasses plan gating",
			Viewer{Role: models.RoleAdmin, Plan: models.PlanFree},
			premium,
			models.Capabilities{CanSee: true, CanRead: true, CanWrite: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CapabilitiesFor(tt.viewer, tt.channel); got != tt.want {
				t.Errorf("CapabilitiesFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type fakeFetcher struct {
	ent   models.Entitlement
	calls int
}

func (f *fakeFetcher) Entitlement(ctx context.Context) (models.Entitlement, error) {
	f.calls++
	return f.ent, nil
}

func TestResolver_CacheAndInvalidate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{ent: models.Entitlement{Plan: models.PlanPremium, Status: models.EntitlementActive}}
	r := NewResolver(ctx, fetcher, Viewer{ID: "u1", Username: "alice", Role: models.RoleMember}, DefaultRefreshTTL)

	v, err := r.Viewer(ctx)
	if err != nil {
		t.Fatalf("Viewer failed: %v", err)
	}
	if v.Plan != models.PlanPremium {
		t.Errorf("expected premium plan, got %s", v.Plan)
	}

	// Second call served from cache.
	if _, err := r.Viewer(ctx); err != nil {
		t.Fatalf("Viewer failed: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", fetcher.calls)
	}

	// A plan change event invalidates the snapshot.
	fetcher.ent = models.Entitlement{Plan: models.PlanElite, Status: models.EntitlementActive}
	r.Invalidate()

	v, err = r.Viewer(ctx)
	if err != nil {
		t.Fatalf("Viewer failed: %v", err)
	}
	if v.Plan != models.PlanElite {
		t.Errorf("expected elite plan after invalidate, got %s", v.Plan)
	}
	if fetcher.calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", fetcher.calls)
	}
}

func TestApply(t *testing.T) {
	channels := []models.Channel{
		{ID: "general", AccessLevel: models.PlanFree},
		{ID: "signals", AccessLevel: models.PlanElite},
	}

	viewer := Viewer{Role: models.RoleMember, Plan: models.PlanFree, Status: models.EntitlementActive}
	out := Apply(viewer, channels)

	if !out[0].CanWrite {
		t.Error("free channel should be writable")
	}
	if out[1].CanRead {
		t.Error("elite channel should not be readable on a free plan")
	}
	if channels[1].CanSee {
		t.Error("input slice was mutated")
	}
}
