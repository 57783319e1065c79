package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradefloor/internal/events"
	"tradefloor/internal/models"
)

type channelSource interface {
	Channels(ctx context.Context) ([]models.Channel, error)
}

// Refresher re-resolves the viewer's entitlement on a fixed cadence
// and hands the recomputed channel list to its sink, so a plan
// purchase, cancellation, or payment failure changes capability flags
// within one interval. A change between two passes is published as an
// entitlement-changed event.
type Refresher struct {
	resolver *Resolver
	source   channelSource
	bus      *events.Bus
	interval time.Duration
	sink     func(Viewer, []models.Channel)

	last   models.Entitlement
	seeded bool
}

func NewRefresher(resolver *Resolver, source channelSource, bus *events.Bus, interval time.Duration, sink func(Viewer, []models.Channel)) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshTTL
	}
	return &Refresher{
		resolver: resolver,
		source:   source,
		bus:      bus,
		interval: interval,
		sink:     sink,
	}
}

// Refresh performs one resolution pass: drop the cached snapshot,
// re-fetch the entitlement and the channel list, recompute
// capabilities, and push the result to the sink.
func (r *Refresher) Refresh(ctx context.Context) ([]models.Channel, error) {
	r.resolver.Invalidate()
	v, err := r.resolver.Viewer(ctx)
	if err != nil {
		return nil, err
	}

	ent := models.Entitlement{Plan: v.Plan, Status: v.Status}
	if r.seeded && ent != r.last {
		r.bus.Publish(events.TopicEntitlementChanged, events.EntitlementChanged{Entitlement: ent})
	}
	r.last = ent
	r.seeded = true

	channels, err := r.source.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh channels: %w", err)
	}

	resolved := Apply(v, channels)
	r.sink(v, resolved)
	return resolved, nil
}

// Run refreshes on the configured interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("entitlement refresh failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
