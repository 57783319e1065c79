package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tradefloor/internal/state"

	"github.com/SherClockHolmes/webpush-go"
)

type subscriptionLister interface {
	ListPushSubscriptions() ([]state.DBPushSubscription, error)
	DeletePushSubscription(endpoint string) error
}

type WebPushConfig struct {
	Subscriber      string // contact mailto/URL for the push service
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// WebPushForwarder relays notifications to the viewer's other devices
// through the Web Push protocol. Delivery is best effort: push
// failures degrade to local-only notification, never to an error the
// sync path sees.
type WebPushForwarder struct {
	cfg   WebPushConfig
	store subscriptionLister
}

func NewWebPushForwarder(cfg WebPushConfig, store subscriptionLister) *WebPushForwarder {
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &WebPushForwarder{cfg: cfg, store: store}
}

func (f *WebPushForwarder) Notify(n Notification) {
	subs, err := f.store.ListPushSubscriptions()
	if err != nil {
		slog.Warn("failed to list push subscriptions", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		slog.Warn("failed to marshal push payload", "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      f.cfg.Subscriber,
			VAPIDPublicKey:  f.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: f.cfg.VAPIDPrivateKey,
			TTL:             f.cfg.TTL,
		})
		if err != nil {
			slog.Warn("web push failed", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			// The push service says this device is gone.
			if err := f.store.DeletePushSubscription(sub.Endpoint); err != nil {
				slog.Warn("failed to prune dead push subscription", "endpoint", sub.Endpoint, "error", err)
			}
		}
		_ = resp.Body.Close()
	}
}
