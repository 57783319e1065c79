package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradefloor/internal/api"
	"tradefloor/internal/buffer"
	"tradefloor/internal/content"
	"tradefloor/internal/entitlement"
	"tradefloor/internal/gamify"
	"tradefloor/internal/models"
	"tradefloor/internal/notify"
	"tradefloor/internal/transport"
)

const (
	// DefaultPollFast is the delta-poll interval while the live
	// transport is down: polling is the only source of messages then.
	DefaultPollFast = 1 * time.Second
	// DefaultPollSlow is the interval while the transport is up: a
	// low-frequency safety net against missed push events.
	DefaultPollSlow = 5 * time.Second
	// DefaultGrace is how long a tombstone stays visible before the
	// entry collapses out of the list.
	DefaultGrace = 5 * time.Second
)

type API interface {
	Messages(ctx context.Context, channelID string) ([]models.Message, error)
	Send(ctx context.Context, req api.SendRequest) (models.Message, error)
	Delete(ctx context.Context, messageID, channelID string) (time.Time, error)
}

type Transport interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(ev models.Event) error
	Events() <-chan models.Event
	Connected() bool
}

type BadgeStore interface {
	UpsertBadge(channelID string, badge models.Badge) error
	ResetBadge(channelID string) error
}

type GIFSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]api.GIF, error)
}

type Config struct {
	PollFast time.Duration
	PollSlow time.Duration
	Grace    time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollFast <= 0 {
		c.PollFast = DefaultPollFast
	}
	if c.PollSlow <= 0 {
		c.PollSlow = DefaultPollSlow
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
}

// Engine owns the message view for the active channel: the optimistic
// buffer, the delta poller, the transport subscription, and the badge
// counters for every other channel. All periodic work is scoped to
// the active channel selection and cancelled in one place when the
// selection changes or the engine shuts down.
type Engine struct {
	cfg       Config
	api       API
	transport Transport
	store     BadgeStore
	notifier  notify.Notifier
	viewer    entitlement.Viewer
	tracker   *gamify.Tracker

	mu          sync.RWMutex
	gifs        GIFSearcher
	active      string
	buf         *buffer.Buffer
	channels    map[string]models.Channel
	badges      map[string]models.Badge
	scopeCtx    context.Context
	cancelScope context.CancelFunc
}

func New(cfg Config, apiClient API, tr Transport, store BadgeStore, notifier notify.Notifier, viewer entitlement.Viewer, tracker *gamify.Tracker) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		api:       apiClient,
		transport: tr,
		store:     store,
		notifier:  notifier,
		viewer:    viewer,
		tracker:   tracker,
		channels:  make(map[string]models.Channel),
		badges:    make(map[string]models.Badge),
	}
}

// SetGIFSearcher attaches the GIF search backend the composer uses.
func (e *Engine) SetGIFSearcher(s GIFSearcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gifs = s
}

// SearchGIFs queries the attached GIF backend.
func (e *Engine) SearchGIFs(ctx context.Context, query string, limit int) ([]api.GIF, error) {
	e.mu.RLock()
	s := e.gifs
	e.mu.RUnlock()

	if s == nil {
		return nil, fmt.Errorf("gif search not configured: %w", models.ErrNotFound)
	}
	return s.Search(ctx, query, limit)
}

// SetChannels installs the capability-resolved channel list. Called
// after every channel fetch and after every entitlement change.
func (e *Engine) SetChannels(channels []models.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.channels = make(map[string]models.Channel, len(channels))
	for _, ch := range channels {
		e.channels[ch.ID] = ch
	}
}

// SetBadges seeds the badge counters, typically from the state store
// on startup.
func (e *Engine) SetBadges(badges map[string]models.Badge) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.badges = make(map[string]models.Badge, len(badges))
	for id, badge := range badges {
		e.badges[id] = badge
	}
}

// Badges returns a copy of the current per-channel counters.
func (e *Engine) Badges() map[string]models.Badge {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]models.Badge, len(e.badges))
	for id, badge := range e.badges {
		out[id] = badge
	}
	return out
}

// ActiveChannel returns the id of the current selection, or "".
func (e *Engine) ActiveChannel() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Messages returns the ordered message view for the active channel.
func (e *Engine) Messages() []models.Message {
	e.mu.RLock()
	buf := e.buf
	e.mu.RUnlock()

	if buf == nil {
		return nil
	}
	return buf.Messages()
}

// Run consumes transport events until ctx is cancelled. The engine
// listens on the viewer's own topic for the whole session, so
// background-channel activity can update badges; the active channel's
// topic is managed by SetActiveChannel.
func (e *Engine) Run(ctx context.Context) error {
	userTopic := transport.UserTopic(e.viewer.ID)
	if err := e.transport.Subscribe(userTopic); err != nil {
		// Push degrades to polling; the connectivity label is the only
		// surface for this.
		slog.Warn("user topic subscription failed, relying on polling", "error", err)
	}
	defer func() {
		_ = e.transport.Unsubscribe(userTopic)
		e.Teardown()
	}()

	for {
		select {
		case ev := <-e.transport.Events():
			e.handleEvent(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// SetActiveChannel switches the view to a channel: tears down all
// work scoped to the previous selection, resets the new channel's
// badge, subscribes its topic, loads history, and starts the delta
// poller.
func (e *Engine) SetActiveChannel(ctx context.Context, channelID string) error {
	e.mu.Lock()
	ch, ok := e.channels[channelID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("channel %s: %w", channelID, models.ErrNotFound)
	}
	if !ch.CanRead {
		e.mu.Unlock()
		return fmt.Errorf("channel %s: %w", channelID, models.ErrNoReadAccess)
	}

	if e.cancelScope != nil {
		e.cancelScope()
	}
	if e.active != "" {
		_ = e.transport.Unsubscribe(transport.ChannelTopic(e.active))
	}

	scopeCtx, cancel := context.WithCancel(ctx)
	e.scopeCtx = scopeCtx
	e.cancelScope = cancel
	e.active = channelID
	e.buf = buffer.New()
	buf := e.buf

	// The open channel is read by definition.
	e.badges[channelID] = models.Badge{}
	e.mu.Unlock()

	if err := e.store.ResetBadge(channelID); err != nil {
		slog.Warn("failed to reset badge", "channel", channelID, "error", err)
	}

	if err := e.transport.Subscribe(transport.ChannelTopic(channelID)); err != nil {
		slog.Warn("channel subscription failed, relying on polling", "channel", channelID, "error", err)
	}

	if history, err := e.api.Messages(ctx, channelID); err != nil {
		// The poller will backfill.
		slog.Warn("initial history fetch failed", "channel", channelID, "error", err)
	} else {
		e.mergeRemote(buf, history, false)
	}

	go e.pollLoop(scopeCtx, channelID, buf)

	slog.Info("active channel changed", "channel", channelID)
	return nil
}

// Teardown cancels all work scoped to the active selection.
func (e *Engine) Teardown() {
	e.mu.Lock()
	cancel := e.cancelScope
	active := e.active
	e.cancelScope = nil
	e.scopeCtx = nil
	e.active = ""
	e.buf = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active != "" {
		_ = e.transport.Unsubscribe(transport.ChannelTopic(active))
	}
}

// Send posts a message to the active channel. The optimistic entry is
// visible before any network call; on a send failure it is retained
// as a local-only message rather than rolled back, and the returned
// error tells the caller delivery is unconfirmed.
func (e *Engine) Send(ctx context.Context, text string, file *models.Attachment) (models.Message, error) {
	e.mu.RLock()
	channelID := e.active
	ch, known := e.channels[channelID]
	buf := e.buf
	e.mu.RUnlock()

	if channelID == "" || buf == nil {
		return models.Message{}, fmt.Errorf("no active channel: %w", models.ErrNotFound)
	}
	// Entitlement check happens before any optimistic state exists.
	if !known || !ch.CanWrite {
		return models.Message{}, fmt.Errorf("channel %s: %w", channelID, models.ErrNoWriteAccess)
	}

	optimistic, inserted := buf.Append(models.Message{
		ChannelID: channelID,
		Content:   text,
		File:      file,
		Sender: models.Sender{
			ID:       e.viewer.ID,
			Username: e.viewer.Username,
			Role:     e.viewer.Role,
		},
	})
	if !inserted {
		// An identical message within the dedup window; nothing to do.
		return optimistic, nil
	}

	// Optimistic broadcast so other participants see the message
	// before the server confirms it. Best effort.
	if err := e.transport.Publish(models.Event{
		Type:      models.EventNewMessage,
		ChannelID: channelID,
		Message:   &optimistic,
	}); err != nil {
		slog.Debug("optimistic broadcast skipped", "error", err)
	}

	confirmed, err := e.api.Send(ctx, api.SendRequest{
		ChannelID: channelID,
		Content:   text,
		File:      file,
	})
	if err != nil {
		e.notifier.Notify(notify.Notification{
			ChannelID: channelID,
			Title:     "Message not delivered",
			Body:      "Your message is shown locally but the server did not confirm it.",
		})
		return optimistic, fmt.Errorf("send unconfirmed: %w", err)
	}

	if !buf.Confirm(optimistic.ID, confirmed) {
		// The broadcast echo may have landed first; make sure the
		// confirmed record is present exactly once.
		buf.Merge([]models.Message{confirmed})
	}

	if e.tracker != nil {
		e.tracker.AwardMessage()
	}
	return confirmed, nil
}

// Delete removes one of the viewer's messages: tombstone first, then
// the server call. A failed delete rolls the tombstone back, unlike a
// failed send.
func (e *Engine) Delete(ctx context.Context, messageID string) error {
	e.mu.RLock()
	channelID := e.active
	buf := e.buf
	cancelCtx := e.scopeContextLocked()
	e.mu.RUnlock()

	if buf == nil {
		return fmt.Errorf("no active channel: %w", models.ErrNotFound)
	}

	original, ok := buf.Tombstone(messageID)
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}

	if _, err := e.api.Delete(ctx, messageID, channelID); err != nil {
		buf.Restore(messageID, original)
		e.notifier.Notify(notify.Notification{
			ChannelID: channelID,
			Title:     "Delete failed",
			Body:      "The message could not be deleted.",
		})
		return fmt.Errorf("failed to delete message: %w", err)
	}

	e.scheduleRemoval(cancelCtx, buf, messageID)
	return nil
}

func (e *Engine) handleEvent(ctx context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		if msg.ChannelID == "" {
			msg.ChannelID = ev.ChannelID
		}
		e.handleNewMessage(msg)

	case models.EventMessageDeleted:
		e.mu.RLock()
		active := e.active
		buf := e.buf
		scopeCtx := e.scopeContextLocked()
		e.mu.RUnlock()

		if ev.ChannelID != active || buf == nil {
			return
		}
		if _, ok := buf.Tombstone(ev.MessageID); ok {
			e.scheduleRemoval(scopeCtx, buf, ev.MessageID)
		}
	}
}

func (e *Engine) handleNewMessage(msg models.Message) {
	msg.Content = content.Sanitize(msg.Content)
	self := msg.Sender.ID == e.viewer.ID
	mention := !self && content.MentionsUser(msg.Content, e.viewer.Username)

	e.mu.Lock()
	if msg.ChannelID != e.active || e.buf == nil {
		// Background channel: counters only, the buffer belongs to the
		// active view alone.
		badge := e.badges[msg.ChannelID]
		if !self {
			badge.Unread++
			if mention {
				badge.Mentions++
			}
			e.badges[msg.ChannelID] = badge
		}
		e.mu.Unlock()

		if !self {
			if err := e.store.UpsertBadge(msg.ChannelID, badge); err != nil {
				slog.Warn("failed to persist badge", "channel", msg.ChannelID, "error", err)
			}
			e.notifier.Notify(notify.Notification{
				ChannelID: msg.ChannelID,
				Title:     "New message from @" + msg.Sender.Username,
				Body:      msg.Content,
				Mention:   mention,
			})
		}
		return
	}

	// Merge under the same lock that validated the active selection, so
	// a concurrent channel switch cannot land this event in a retired
	// buffer.
	added := e.buf.Merge([]models.Message{msg})
	e.mu.Unlock()
	// The open channel never bumps its own badge, but a mention still
	// notifies.
	if len(added) > 0 && mention {
		e.notifier.Notify(notify.Notification{
			ChannelID: msg.ChannelID,
			Title:     "@" + msg.Sender.Username + " mentioned you",
			Body:      msg.Content,
			Mention:   true,
		})
	}
}

// pollLoop is the delta poller: it refetches the channel's full
// message set and merges unseen ids, fast while the transport is down
// and slow as a safety net while it is up.
func (e *Engine) pollLoop(ctx context.Context, channelID string, buf *buffer.Buffer) {
	for {
		interval := e.cfg.PollFast
		if e.transport.Connected() {
			interval = e.cfg.PollSlow
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		msgs, err := e.api.Messages(ctx, channelID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("delta poll failed", "channel", channelID, "error", err)
			continue
		}
		e.mergeRemote(buf, msgs, true)
	}
}

// mergeRemote folds server-fetched messages into the buffer and runs
// the mention check on newly seen foreign messages.
func (e *Engine) mergeRemote(buf *buffer.Buffer, msgs []models.Message, notifyMentions bool) {
	for i := range msgs {
		msgs[i].Content = content.Sanitize(msgs[i].Content)
	}

	added := buf.Merge(msgs)
	if !notifyMentions {
		return
	}
	for _, msg := range added {
		if msg.Sender.ID == e.viewer.ID {
			continue
		}
		if content.MentionsUser(msg.Content, e.viewer.Username) {
			e.notifier.Notify(notify.Notification{
				ChannelID: msg.ChannelID,
				Title:     "@" + msg.Sender.Username + " mentioned you",
				Body:      msg.Content,
				Mention:   true,
			})
		}
	}
}

// scheduleRemoval collapses a tombstoned entry out of the list after
// the grace period. The timer dies with the channel scope, so a
// buffer never mutates after its view is torn down.
func (e *Engine) scheduleRemoval(ctx context.Context, buf *buffer.Buffer, messageID string) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.Grace):
			buf.Remove(messageID)
		}
	}()
}

// scopeContextLocked returns a context tied to the current channel
// scope. Callers must hold e.mu.
func (e *Engine) scopeContextLocked() context.Context {
	if e.scopeCtx != nil {
		return e.scopeCtx
	}
	return context.Background()
}
