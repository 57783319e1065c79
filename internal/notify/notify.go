package notify

import (
	"log/slog"
)

// Notification is a user-facing alert: a new message in a background
// channel, or a mention anywhere.
type Notification struct {
	ChannelID string `json:"channelId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Mention   bool   `json:"mention"`
}

type Notifier interface {
	Notify(n Notification)
}

// Toaster is the in-process notification sink. Notifications are
// delivered on a buffered channel for whatever surface is attached;
// when nothing drains it, entries are dropped rather than blocking
// the sync path.
type Toaster struct {
	out chan Notification
}

func NewToaster() *Toaster {
	return &Toaster{out: make(chan Notification, 64)}
}

func (t *Toaster) Notify(n Notification) {
	select {
	case t.out <- n:
	default:
		slog.Warn("toast queue full, dropping notification", "channel", n.ChannelID)
	}
}

// Toasts is the consumer side of the sink.
func (t *Toaster) Toasts() <-chan Notification {
	return t.out
}

// Fanout delivers each notification to every wrapped notifier.
func Fanout(notifiers ...Notifier) Notifier {
	return fanout(notifiers)
}

type fanout []Notifier

func (f fanout) Notify(n Notification) {
	for _, notifier := range f {
		notifier.Notify(n)
	}
}
