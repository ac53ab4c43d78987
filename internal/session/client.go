package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxline/go-realtime-voice/internal/config"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/pkg/faults"
)

const (
	connectTimeout       = 10 * time.Second
	writeTimeout         = 10 * time.Second
	maxReconnectAttempts = 5
	reconnectBase        = time.Second
	reconnectCap         = 30 * time.Second
)

// Close codes with special meaning to the reconnection logic.
const (
	closeNormal      = 1000
	closeAbnormal    = 1006
	closePolicy      = 1008
	closeServerError = 1011
)

// ErrNotConnected is returned by Send when the session is not open.
var ErrNotConnected = errors.New("session: not connected")

// Conn is the subset of the websocket connection the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens websocket connections.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct{}

// NewDialer creates a Dialer backed by gorilla/websocket.
func NewDialer() Dialer {
	return wsDialer{}
}

func (wsDialer) DialContext(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handlers are the callbacks the client invokes for inbound events. All
// callbacks run on the read loop goroutine, in wire order.
type Handlers struct {
	OnOpen             func()
	OnText             func(text string)
	OnAudio            func(payload string)
	OnResponseComplete func()
	OnQuality          func(quality string)
	OnServerError      func(detail string)
}

// Client owns the websocket session lifecycle. It is the sole authority
// over the connection state and the reconnect attempt counter.
type Client struct {
	logger   *zap.Logger
	cfg      *config.Config
	dialer   Dialer
	meter    *telemetry.Meter
	notifier *faults.Notifier

	mu             sync.Mutex
	state          State
	conn           Conn
	handlers       Handlers
	attempts       int
	intentional    bool
	reconnectTimer *time.Timer
	gen            int

	writeMu sync.Mutex
}

// NewClient creates a session client.
func NewClient(logger *zap.Logger, cfg *config.Config, dialer Dialer, meter *telemetry.Meter, notifier *faults.Notifier) *Client {
	return &Client{
		logger:   logger,
		cfg:      cfg,
		dialer:   dialer,
		meter:    meter,
		notifier: notifier,
	}
}

// SetHandlers installs the event callbacks. It must be called before
// Connect.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the number of reconnect attempts consumed
// since the last successful connection.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect starts connecting to the realtime endpoint. The dial proceeds in
// the background; connection events are delivered through the handlers and
// the fault notifier. A missing token fails immediately without dialing.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.Server.Token == "" {
		fe := faults.Auth("no authentication token configured")
		c.notifier.Publish(fe)
		return fe
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	c.attempts = 0
	c.setStateLocked(StateConnecting)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(ctx, gen)

	return nil
}

func (c *Client) dial(ctx context.Context, gen int) {
	endpoint, err := c.endpointURL()
	if err != nil {
		c.notifier.Publish(faults.WebSocket(err))
		c.handleClosed(gen, closeAbnormal)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.notifier.Publish(faults.ConnectTimeout())
		} else {
			c.notifier.Publish(faults.WebSocket(err))
		}
		c.handleClosed(gen, closeAbnormal)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateOpen)
	handlers := c.handlers
	c.mu.Unlock()

	c.logger.Info("Session connected", zap.String("url", c.cfg.Server.URL))

	if handlers.OnOpen != nil {
		handlers.OnOpen()
	}
	if err = c.Send(ConfigureSessionMessage()); err != nil {
		c.logger.Warn("Failed to send session configuration", zap.Error(err))
	}

	c.readLoop(gen, conn, handlers)
}

// endpointURL appends the auth token as a query parameter.
func (c *Client) endpointURL() (string, error) {
	u, err := url.Parse(c.cfg.Server.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.cfg.Server.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop reads frames until the connection drops and dispatches them in
// wire order. A frame that fails to parse is counted and skipped; the
// connection stays up.
func (c *Client) readLoop(gen int, conn Conn, handlers Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(gen, closeCode(err))
			return
		}

		var msg Message
		if err = json.Unmarshal(data, &msg); err != nil {
			c.meter.ObserveMessage(false)
			c.logger.Warn("Discarding unparseable message", zap.Error(err))
			continue
		}
		c.meter.ObserveMessage(true)

		c.dispatch(&msg, handlers)
	}
}

func (c *Client) dispatch(msg *Message, handlers Handlers) {
	switch msg.Type {
	case KindTextResponse:
		if handlers.OnText != nil {
			handlers.OnText(msg.Text)
		}
	case KindAudioResponse:
		if handlers.OnAudio != nil {
			handlers.OnAudio(msg.Audio)
		}
	case KindResponseComplete:
		if handlers.OnResponseComplete != nil {
			handlers.OnResponseComplete()
		}
	case KindConnectionQuality:
		if msg.Data != nil && handlers.OnQuality != nil {
			handlers.OnQuality(msg.Data.Quality)
		}
	case KindError:
		if handlers.OnServerError != nil {
			handlers.OnServerError(string(msg.Error))
		}
	case KindConnectionEstablished:
		c.logger.Info("Server acknowledged connection")
	case KindSessionConfigured:
		c.logger.Debug("Session configuration acknowledged")
	case KindEcho:
		c.logger.Debug("Echo received", zap.String("text", msg.Text))
	default:
		c.logger.Debug("Ignoring unknown message type", zap.String("type", msg.Type))
	}
}

// handleClosed runs the reconnection state machine after a connection
// loss. Policy violations (1008) mean the token was rejected; no retry.
func (c *Client) handleClosed(gen int, code int) {
	c.mu.Lock()

	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	switch {
	case c.intentional || code == closeNormal:
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.logger.Info("Session closed")

	case code == closePolicy:
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.notifier.Publish(faults.Auth("server rejected the session token"))

	case c.attempts >= maxReconnectAttempts:
		attempts := c.attempts
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.notifier.Publish(faults.ConnectionExhausted(attempts))

	default:
		delay := reconnectDelay(c.attempts)
		c.attempts++
		attempt := c.attempts
		c.setStateLocked(StateReconnecting)
		c.gen++
		nextGen := c.gen
		c.reconnectTimer = time.AfterFunc(delay, func() {
			c.redial(nextGen)
		})
		c.mu.Unlock()

		c.meter.ReconnectScheduled()
		c.logger.Info("Reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Int("closeCode", code),
			zap.Duration("delay", delay))
	}
}

func (c *Client) redial(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.dial(context.Background(), gen)
}

// Send writes one message to the open connection. Messages sent while the
// session is not open are dropped.
func (c *Client) Send(msg *Message) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		c.logger.Debug("Dropping outbound message", zap.String("type", msg.Type), zap.String("state", state.String()))
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err = conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	c.meter.MessageSent()
	return nil
}

// Disconnect closes the session on purpose. No reconnect is scheduled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	if conn != nil {
		c.setStateLocked(StateClosing)
	} else {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(writeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeNormal, ""))
	c.writeMu.Unlock()

	conn.Close()
}

// setStateLocked updates the state and its gauge. Caller holds c.mu.
func (c *Client) setStateLocked(s State) {
	c.state = s
	c.meter.SetConnectionState(int(s))
}

// reconnectDelay returns the exponential backoff for the given attempt
// ordinal, capped at reconnectCap.
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBase << attempt
	if delay > reconnectCap || delay <= 0 {
		delay = reconnectCap
	}
	return delay
}

// closeCode extracts the websocket close code, defaulting to abnormal
// closure for transport-level errors.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return closeAbnormal
}
