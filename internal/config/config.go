package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	APIBaseURL string
	WSURL      string
	Token      string
	DBFile     string

	GIFBaseURL string
	GIFAPIKey  string

	PushSubscriber  string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// PushSubscription is this device's web-push registration as the
	// browser PushSubscription JSON, if the device has one.
	PushSubscription string

	PollFast           time.Duration
	PollSlow           time.Duration
	DeleteGrace        time.Duration
	PresenceInterval   time.Duration
	ProbeTimeout       time.Duration
	EntitlementRefresh time.Duration
}

func Load() (*Config, error) {
	pollFast, err := time.ParseDuration(getEnv("POLL_FAST", "1s"))
	if err != nil {
		return nil, err
	}
	pollSlow, err := time.ParseDuration(getEnv("POLL_SLOW", "5s"))
	if err != nil {
		return nil, err
	}
	deleteGrace, err := time.ParseDuration(getEnv("DELETE_GRACE", "5s"))
	if err != nil {
		return nil, err
	}
	presenceInterval, err := time.ParseDuration(getEnv("PRESENCE_INTERVAL", "10s"))
	if err != nil {
		return nil, err
	}
	probeTimeout, err := time.ParseDuration(getEnv("PROBE_TIMEOUT", "3s"))
	if err != nil {
		return nil, err
	}
	entitlementRefresh, err := time.ParseDuration(getEnv("ENTITLEMENT_REFRESH", "1m"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIBaseURL:       getEnv("API_BASE_URL", "http://localhost:8080"),
		WSURL:            getEnv("WS_URL", "ws://localhost:8080/ws"),
		Token:            os.Getenv("API_TOKEN"),
		DBFile:           getEnv("TRADEFLOOR_DB", "tradefloor.db"),
		GIFBaseURL:       getEnv("GIF_BASE_URL", "https://api.giphy.com"),
		GIFAPIKey:        os.Getenv("GIF_API_KEY"),
		PushSubscriber:     getEnv("PUSH_SUBSCRIBER", "mailto:ops@tradefloor.local"),
		VAPIDPublicKey:     os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:    os.Getenv("VAPID_PRIVATE_KEY"),
		PushSubscription:   os.Getenv("PUSH_SUBSCRIPTION"),
		PollFast:           pollFast,
		PollSlow:           pollSlow,
		DeleteGrace:        deleteGrace,
		PresenceInterval:   presenceInterval,
		ProbeTimeout:       probeTimeout,
		EntitlementRefresh: entitlementRefresh,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("API_TOKEN is required")
	}

	if c.PollFast <= 0 || c.PollSlow <= 0 {
		return fmt.Errorf("poll intervals must be greater than 0")
	}

	if c.PollFast > c.PollSlow {
		return fmt.Errorf("POLL_FAST must not exceed POLL_SLOW")
	}

	if c.EntitlementRefresh <= 0 {
		return fmt.Errorf("ENTITLEMENT_REFRESH must be greater than 0")
	}

	// Web push is optional, but half a key pair is a misconfiguration.
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

// PushEnabled reports whether web push forwarding is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
