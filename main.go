package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tradefloor/internal/api"
	"tradefloor/internal/config"
	"tradefloor/internal/engine"
	"tradefloor/internal/entitlement"
	"tradefloor/internal/events"
	"tradefloor/internal/gamify"
	"tradefloor/internal/models"
	"tradefloor/internal/notify"
	"tradefloor/internal/presence"
	"tradefloor/internal/state"
	"tradefloor/internal/transport"

	"golang.org/x/sync/errgroup"
)

// progressAdapter narrows the state store to what the XP tracker
// persists.
type progressAdapter struct {
	store *state.BboltState
}

func (a progressAdapter) SaveXP(xp, level int) error {
	return a.store.SaveProgress(state.DBProgress{XP: xp, Level: level})
}

func registerPushSubscription(store *state.BboltState, raw string) error {
	// Browser PushSubscription.toJSON() shape.
	var sub struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return fmt.Errorf("invalid PUSH_SUBSCRIPTION: %w", err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("invalid PUSH_SUBSCRIPTION: missing endpoint")
	}
	return store.UpsertPushSubscription(state.DBPushSubscription{
		Endpoint: sub.Endpoint,
		P256dh:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
	})
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := state.NewBboltState(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.PushSubscription != "" {
		if err := registerPushSubscription(store, cfg.PushSubscription); err != nil {
			return err
		}
	}

	apiClient := api.NewClient(api.Config{
		BaseURL:      cfg.APIBaseURL,
		Token:        cfg.Token,
		ProbeTimeout: cfg.ProbeTimeout,
	})

	claims, err := apiClient.CurrentUser()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	resolver := entitlement.NewResolver(ctx, apiClient, entitlement.Viewer{
		ID:       claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}, cfg.EntitlementRefresh)

	viewer, err := resolver.Viewer(ctx)
	if err != nil {
		return err
	}
	slog.Info("session started", "user", viewer.Username, "plan", viewer.Plan)

	progress, err := store.LoadProgress()
	if err != nil {
		return err
	}
	tracker := gamify.NewTracker(bus, progressAdapter{store}, progress.XP, progress.Level)

	toaster := notify.NewToaster()
	notifier := notify.Notifier(toaster)
	if cfg.PushEnabled() {
		notifier = notify.Fanout(toaster, notify.NewWebPushForwarder(notify.WebPushConfig{
			Subscriber:      cfg.PushSubscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		}, store))
	}

	ws := transport.NewClient(transport.Config{
		URL:   cfg.WSURL,
		Token: cfg.Token,
	})

	estimator := presence.NewEstimator(presence.Config{
		Transport: ws,
		Prober:    apiClient,
		Interval:  cfg.PresenceInterval,
	})

	eng := engine.New(engine.Config{
		PollFast: cfg.PollFast,
		PollSlow: cfg.PollSlow,
		Grace:    cfg.DeleteGrace,
	}, apiClient, ws, store, notifier, viewer, tracker)

	if cfg.GIFAPIKey != "" {
		eng.SetGIFSearcher(api.NewGIFClient(cfg.GIFBaseURL, cfg.GIFAPIKey))
	}

	if badges, err := store.ListBadges(); err == nil {
		eng.SetBadges(badges)
	}

	layout, err := store.LoadLayout()
	if err != nil {
		slog.Warn("failed to load layout", "error", err)
	}

	// First paint from the channel cache, arranged by the persisted
	// layout; the live fetch replaces it.
	if cached, err := store.CachedChannels(); err == nil && len(cached) > 0 {
		eng.SetChannels(state.ApplyLayout(layout, entitlement.Apply(viewer, cached)))
	}

	// Every refresh pass re-derives capabilities, recaches the channel
	// list, and folds new categories into the stored layout.
	refresher := entitlement.NewRefresher(resolver, apiClient, bus, cfg.EntitlementRefresh,
		func(v entitlement.Viewer, channels []models.Channel) {
			eng.SetChannels(channels)
			if err := store.CacheChannels(channels); err != nil {
				slog.Warn("failed to cache channels", "error", err)
			}
			layout = state.DeriveLayout(layout, channels)
			if err := store.SaveLayout(layout); err != nil {
				slog.Warn("failed to save layout", "error", err)
			}
		})

	channels, err := refresher.Refresh(ctx)
	if err != nil {
		return err
	}

	busUnsubs := []func(){
		bus.Subscribe(events.TopicEntitlementChanged, func(payload any) {
			if ch, ok := payload.(events.EntitlementChanged); ok {
				toaster.Notify(notify.Notification{
					Title: "Subscription updated",
					Body:  fmt.Sprintf("%s (%s)", ch.Entitlement.Plan, ch.Entitlement.Status),
				})
			}
		}),
		bus.Subscribe(events.TopicLevelUp, func(payload any) {
			if up, ok := payload.(events.LevelUp); ok {
				toaster.Notify(notify.Notification{
					Title: fmt.Sprintf("Level up! You reached level %d", up.Level),
				})
			}
		}),
		bus.Subscribe(events.TopicXPChanged, func(payload any) {
			if xp, ok := payload.(events.XPChanged); ok {
				slog.Debug("xp changed", "total", xp.Total, "delta", xp.Delta)
			}
		}),
	}
	defer func() {
		for _, unsubscribe := range busUnsubs {
			unsubscribe()
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return ws.Run(gCtx) })
	g.Go(func() error { return estimator.Run(gCtx) })
	g.Go(func() error { return eng.Run(gCtx) })
	g.Go(func() error { return refresher.Run(gCtx) })

	// Drain local toasts into the log until a richer surface exists.
	g.Go(func() error {
		for {
			select {
			case n := <-toaster.Toasts():
				slog.Info("notification", "channel", n.ChannelID, "title", n.Title, "mention", n.Mention)
			case <-gCtx.Done():
				return nil
			}
		}
	})

	// Open the first readable channel so the session starts with a
	// live view.
	for _, ch := range channels {
		if !ch.CanRead {
			continue
		}
		if err := eng.SetActiveChannel(gCtx, ch.ID); err != nil {
			slog.Warn("failed to open channel", "channel", ch.ID, "error", err)
			continue
		}
		break
	}

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
