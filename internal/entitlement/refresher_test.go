package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradefloor/internal/events"
	"tradefloor/internal/models"
)

type switchingFetcher struct {
	mu  sync.Mutex
	ent models.Entitlement
}

func (f *switchingFetcher) Entitlement(ctx context.Context) (models.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ent, nil
}

func (f *switchingFetcher) set(ent models.Entitlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ent = ent
}

type staticChannels struct {
	channels []models.Channel
}

func (s staticChannels) Channels(ctx context.Context) ([]models.Channel, error) {
	return s.channels, nil
}

func TestRefresher_PlanChangeFlipsCapabilities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &switchingFetcher{ent: models.Entitlement{Plan: models.PlanPremium, Status: models.EntitlementActive}}
	source := staticChannels{channels: []models.Channel{
		{ID: "general", AccessLevel: models.PlanFree},
		{ID: "whales", AccessLevel: models.PlanElite},
	}}
	bus := events.NewBus()

	var changes []events.EntitlementChanged
	bus.Subscribe(events.TopicEntitlementChanged, func(payload any) {
		if ch, ok := payload.(events.EntitlementChanged); ok {
			changes = append(changes, ch)
		}
	})

	var lastSeen []models.Channel
	resolver := NewResolver(ctx, fetcher, Viewer{ID: "u1", Username: "alice", Role: models.RoleMember}, time.Minute)
	r := NewRefresher(resolver, source, bus, time.Minute, func(v Viewer, channels []models.Channel) {
		lastSeen = channels
	})

	channels, err := r.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if channels[1].CanRead {
		t.Error("elite channel readable on a premium plan")
	}
	// The first pass seeds the baseline; no change event yet.
	if len(changes) != 0 {
		t.Fatalf("unexpected change events: %v", changes)
	}

	// The viewer upgrades; the next pass must flip the flags and
	// publish exactly one change event.
	fetcher.set(models.Entitlement{Plan: models.PlanElite, Status: models.EntitlementActive})

	channels, err = r.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !channels[1].CanRead || !channels[1].CanWrite {
		t.Errorf("elite channel not unlocked after upgrade: %+v", channels[1].Capabilities)
	}
	if len(lastSeen) != 2 || !lastSeen[1].CanRead {
		t.Errorf("sink did not receive the recomputed list: %v", lastSeen)
	}
	if len(changes) != 1 || changes[0].Entitlement.Plan != models.PlanElite {
		t.Fatalf("expected one elite change event, got %v", changes)
	}

	// A pass without a change publishes nothing.
	if _, err := r.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("steady-state pass published a change event")
	}
}

func TestRefresher_RunTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &switchingFetcher{ent: models.Entitlement{Plan: models.PlanFree, Status: models.EntitlementActive}}
	resolver := NewResolver(ctx, fetcher, Viewer{ID: "u1", Username: "alice", Role: models.RoleMember}, time.Minute)

	var mu sync.Mutex
	passes := 0
	r := NewRefresher(resolver, staticChannels{}, events.NewBus(), 10*time.Millisecond, func(Viewer, []models.Channel) {
		mu.Lock()
		passes++
		mu.Unlock()
	})

	go func() { _ = r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := passes
		mu.Unlock()
		if n >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresher made %d passes", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
