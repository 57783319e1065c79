package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tradefloor/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	maxMessageSize = 65536

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// ChannelTopic is the pub/sub topic key for a channel.
func ChannelTopic(channelID string) string {
	return "channel-" + channelID
}

// UserTopic is the per-viewer notification topic. Events for channels
// other than the active one arrive here.
func UserTopic(userID string) string {
	return "user-" + userID
}

type frameType string

const (
	frameSubscribe   frameType = "subscribe"
	frameUnsubscribe frameType = "unsubscribe"
)

type controlFrame struct {
	Type  frameType `json:"type"`
	Topic string    `json:"topic"`
}

type Config struct {
	URL   string
	Token string
}

// Client maintains one websocket connection to the real-time
// transport, reconnecting with backoff. Subscriptions are desired
// state: they survive a reconnect and are replayed onto the new
// socket.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	events    chan models.Event
	send      chan []byte
	connected atomic.Bool

	mu     sync.Mutex
	topics map[string]bool
}

func NewClient(cfg Config) *Client {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	return &Client{
		url:    cfg.URL,
		header: header,
		dialer: websocket.DefaultDialer,
		events: make(chan models.Event, 256),
		send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
}

// Events is the stream of decoded transport events. The channel is
// never closed while Run is alive; consumers select on their own
// context.
func (c *Client) Events() <-chan models.Event {
	return c.events
}

// Connected reports whether the socket is currently up. The poll
// cadence and the connectivity label both key off this.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Subscribe registers interest in a topic. If the socket is up the
// subscribe frame goes out immediately; either way the topic is
// replayed after every reconnect.
func (c *Client) Subscribe(topic string) error {
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()

	if c.connected.Load() {
		return c.enqueueControl(frameSubscribe, topic)
	}
	return nil
}

// Unsubscribe removes interest in a topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()

	if c.connected.Load() {
		return c.enqueueControl(frameUnsubscribe, topic)
	}
	return nil
}

// Publish sends an event out on the transport. Used for the
// optimistic broadcast of a just-sent message prior to server
// confirmation.
func (c *Client) Publish(ev models.Event) error {
	if !c.connected.Load() {
		return models.ErrNotConnected
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.enqueue(data)
}

// Run drives the connection until ctx is cancelled, redialing with
// exponential backoff after every failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("transport connection lost", "error", err, "retry_in", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	c.connected.Store(true)
	defer c.connected.Store(false)
	slog.Info("transport connected", "url", c.url)

	// Replay desired subscriptions onto the fresh socket.
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		if err := c.enqueueControl(frameSubscribe, topic); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.readPump(conn)
		cancel()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.writePump(ctx, conn)
		cancel()
	}()

	var pumpErr error
	select {
	case pumpErr = <-errCh:
	case <-ctx.Done():
	}
	_ = conn.Close()
	wg.Wait()

	if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) {
		return pumpErr
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("failed to parse transport frame", "error", err)
			continue
		}

		switch ev.Type {
		case models.EventNewMessage, models.EventMessageDeleted:
			select {
			case c.events <- ev:
			default:
				slog.Warn("event channel full, dropping event", "type", ev.Type, "channel", ev.ChannelID)
			}
		default:
			// Subscription acks and unknown frames are ignored.
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		}
	}
}

func (c *Client) enqueueControl(ft frameType, topic string) error {
	data, err := json.Marshal(controlFrame{Type: ft, Topic: topic})
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("transport send queue full")
	}
}
