package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Label string

const (
	LabelConnected   Label = "connected"
	LabelConnecting  Label = "connecting"
	LabelServerIssue Label = "server-issue"
	LabelWifiIssue   Label = "wifi-issue"
)

const DefaultInterval = 10 * time.Second

type transportStatus interface {
	Connected() bool
}

type prober interface {
	Probe(ctx context.Context) error
}

type Config struct {
	Transport transportStatus
	Prober    prober
	// Online is the local network reachability signal. Nil means
	// always online.
	Online   func() bool
	Interval time.Duration
	// OnChange fires whenever the label changes. Optional.
	OnChange func(Label)
}

// Estimator infers a coarse connection-state label on a fixed
// cadence. The transport is the stronger signal: while it reports
// connected the label is connected regardless of API hiccups, which
// keeps the label from flapping during the transport's own
// reconnection backoff.
type Estimator struct {
	cfg Config

	mu    sync.RWMutex
	label Label
}

func NewEstimator(cfg Config) *Estimator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Online == nil {
		cfg.Online = func() bool { return true }
	}
	return &Estimator{
		cfg:   cfg,
		label: LabelConnecting,
	}
}

// Label returns the current connectivity label.
func (e *Estimator) Label() Label {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.label
}

// Run re-evaluates the label every tick until ctx is cancelled. There
// is no terminal state.
func (e *Estimator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.update(e.Evaluate(ctx))
	for {
		select {
		case <-ticker.C:
			e.update(e.Evaluate(ctx))
		case <-ctx.Done():
			return nil
		}
	}
}

// Evaluate computes the label once, in decision order: transport
// connected wins, then local reachability, then the backend probe.
func (e *Estimator) Evaluate(ctx context.Context) Label {
	if e.cfg.Transport.Connected() {
		return LabelConnected
	}
	if !e.cfg.Online() {
		return LabelWifiIssue
	}
	if err := e.cfg.Prober.Probe(ctx); err != nil {
		return LabelServerIssue
	}
	// Backend reachable but the transport has not caught up yet.
	return LabelConnecting
}

func (e *Estimator) update(next Label) {
	e.mu.Lock()
	changed := e.label != next
	e.label = next
	e.mu.Unlock()

	if changed {
		slog.Info("connectivity changed", "label", next)
		if e.cfg.OnChange != nil {
			e.cfg.OnChange(next)
		}
	}
}
