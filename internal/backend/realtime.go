// ABOUTME: Realtime change-channel subscriptions over websocket
// ABOUTME: Each subscription owns one connection; Close is idempotent

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Realtime operations carried by change events.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// RawEvent is one change notification as delivered on a channel. The
// document payload is undecoded; callers validate it at their own boundary.
type RawEvent struct {
	Operation string   `json:"operation"`
	Channel   string   `json:"channel"`
	Document  Document `json:"document"`
}

// Subscription is a live change channel. Events is closed when the
// subscription ends, whether by Close or by connection loss.
type Subscription interface {
	Events() <-chan RawEvent
	Close() error
}

// ChannelCollection names the realtime channel carrying all document
// changes of one collection.
func ChannelCollection(collection string) string {
	return "collections." + collection + ".documents"
}

// Subscribe opens a realtime subscription on the given channel. The
// subscription lives until Close is called, ctx is cancelled, or the
// connection drops; there is no automatic reconnection.
func (c *Client) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	wsURL, err := c.realtimeURL(channel)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	c.setAuthHeaders(header)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w: %v", channel, ErrNetwork, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		channel: channel,
		conn:    conn,
		cancel:  cancel,
		events:  make(chan RawEvent, 64),
		logger:  c.logger.With("channel", channel),
	}
	go sub.readLoop(subCtx)

	c.logger.Debug("subscribed", "channel", channel)
	return sub, nil
}

// realtimeURL builds the websocket URL for a channel from the HTTP endpoint.
func (c *Client) realtimeURL(channel string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("subscribe: %w: unsupported endpoint scheme %q", ErrValidation, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/realtime"
	q := u.Query()
	q.Set("project", c.project)
	q.Set("channel", channel)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsSubscription is the websocket-backed Subscription implementation.
type wsSubscription struct {
	channel string
	conn    *websocket.Conn
	cancel  context.CancelFunc
	events  chan RawEvent
	logger  *slog.Logger
	once    sync.Once
}

func (s *wsSubscription) Events() <-chan RawEvent { return s.events }

// Close tears the subscription down. Safe to call more than once and from
// any goroutine; the events channel is closed by the read loop.
func (s *wsSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		s.logger.Debug("unsubscribed")
	})
	return nil
}

// readLoop pumps decoded events until the connection ends, then closes the
// events channel so consumers observe teardown.
func (s *wsSubscription) readLoop(ctx context.Context) {
	defer close(s.events)
	defer s.Close()

	for {
		var ev RawEvent
		if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Warn("realtime connection lost", "error", err)
			}
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
