package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientSettings tunes the websocket client.
type ClientSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	SendBuffer       int
}

// DefaultClientSettings returns the settings used by Dial.
func DefaultClientSettings() ClientSettings {
	return ClientSettings{
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      15 * time.Second,
		PingInterval:     5 * time.Second,
		ReconnectDelay:   2 * time.Second,
		SendBuffer:       256,
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientSettings replaces the default settings.
func WithClientSettings(s ClientSettings) ClientOption {
	return func(c *Client) {
		c.settings = s
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// Client is a Transport over a websocket connection to a Relay.
//
// The connection is redialed after it drops; frames queued while
// disconnected are written after the next successful dial. Reconnect
// handlers run after every redial so sessions can request catch-up.
type Client struct {
	url      string
	actor    string
	settings ClientSettings
	logger   *slog.Logger

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	handlers    []func(Message)
	onReconnect []func()
}

// Dial connects to the relay room at url as actor. The first connection
// is made synchronously; later reconnects happen in the background.
func Dial(ctx context.Context, url, actor string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:      url,
		actor:    actor,
		settings: DefaultClientSettings(),
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.send = make(chan []byte, c.settings.SendBuffer)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	ws, err := c.dial(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}
	go c.run(ws)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.settings.HandshakeTimeout}
	header := http.Header{}
	header.Set("X-Actor-ID", c.actor)
	ws, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return ws, nil
}

// Send implements Transport. It queues the frame and fails only when
// the client is closed or the queue is full.
func (c *Client) Send(ctx context.Context, m Message) error {
	m.From = c.actor
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send queue full, dropping %s message", m.Kind)
	}
}

// Subscribe implements Transport. Handlers run on the read goroutine.
func (c *Client) Subscribe(h func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// OnReconnect registers a handler called after every redial.
func (c *Client) OnReconnect(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, h)
}

// Close implements Transport and waits for the connection to shut down.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) run(ws *websocket.Conn) {
	defer close(c.done)
	for {
		c.serve(ws)

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.settings.ReconnectDelay):
			}
			var err error
			ws, err = c.dial(c.ctx)
			if err == nil {
				break
			}
			c.logger.Info("reconnect failed", "url", c.url, "error", err)
		}

		c.logger.Info("reconnected", "url", c.url, "actor", c.actor)
		c.mu.Lock()
		hooks := slices.Clone(c.onReconnect)
		c.mu.Unlock()
		for _, h := range hooks {
			h()
		}
	}
}

// serve pumps frames until the connection fails or the client closes.
func (c *Client) serve(ws *websocket.Conn) {
	defer ws.Close()

	connCtx, connCancel := context.WithCancel(c.ctx)
	defer connCancel()

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	go func() {
		defer connCancel()
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.settings.WriteTimeout))
				return
			case data := <-c.send:
				ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					c.logger.Info("write failed", "url", c.url, "error", err)
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer connCancel()
		for {
			ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
			messageType, data, err := ws.ReadMessage()
			if err != nil {
				if connCtx.Err() == nil {
					c.logger.Info("read failed", "url", c.url, "error", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			m, err := Decode(data)
			if err != nil {
				c.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			if !m.addressedTo(c.actor) {
				continue
			}
			c.dispatch(m)
		}
	}()

	<-connCtx.Done()
}

func (c *Client) dispatch(m Message) {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}
