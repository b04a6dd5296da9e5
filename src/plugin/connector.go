package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	"github.com/gorilla/websocket"
)

// Message types exchanged with the desktop front-end's plugin socket.
const (
	TypeConnect        = "PLUGIN_CONNECT"
	TypeSubscribeDepth = "SUBSCRIBE_MARKET_DEPTH"
	TypeMarketDepth    = "MARKET_DEPTH"
	TypeBestBidAsk     = "BEST_BID_ASK"
	TypePlaceOrder     = "PLACE_ORDER"
	TypePlaceBracket   = "PLACE_BRACKET"
	TypeCancelOrder    = "CANCEL_ORDER"
	TypeOrderStatus    = "ORDER_STATUS"
	TypeFill           = "FILL"
	TypePosition       = "POSITION"
)

var (
	ErrNotConnected = errors.New("plugin: not connected")
	ErrClosed       = errors.New("plugin: connection closed")
)

// DefaultCapabilities are announced in the connect handshake.
var DefaultCapabilities = []string{"MARKET_DATA", "ORDER_ENTRY", "LEVEL_2"}

const readLimit = 4 << 20

// Handler receives the raw JSON of one routed message.
type Handler func(raw json.RawMessage)

// Options configure the plugin socket.
type Options struct {
	Host         string
	Port         int
	Path         string
	Name         string
	Version      string
	Capabilities []string
	Timeout      time.Duration
}

func OptionsFromConfig(cfg models.MPluginConfig) Options {
	return Options{
		Host:    cfg.Host,
		Port:    cfg.Port,
		Path:    cfg.Path,
		Name:    cfg.Name,
		Version: cfg.Version,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// URL is the websocket endpoint, ws://host:port/path.
func (o Options) URL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(o.Host, strconv.Itoa(o.Port)), Path: o.Path}
	return u.String()
}

type connectMessage struct {
	Type         string   `json:"type"`
	PluginName   string   `json:"plugin_name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type envelope struct {
	Type string `json:"type"`
}

// -----------------------------------------------------------------------------

// Connector owns one websocket to the front-end. A single goroutine reads
// and routes every message by its "type" to the handlers registered with On.
type Connector struct {
	opts Options
	log  *logger.Logger

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	err     error
	closing bool
}

func NewConnector(opts Options, log *logger.Logger) *Connector {
	if opts.Path == "" {
		opts.Path = "/rithmic"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(opts.Capabilities) == 0 {
		opts.Capabilities = DefaultCapabilities
	}
	return &Connector{
		opts:     opts,
		log:      log,
		handlers: make(map[string][]Handler),
	}
}

// -----------------------------------------------------------------------------

// On registers h for msgType. Handlers run on the read goroutine, in
// registration order, and must not block.
func (c *Connector) On(msgType string, h Handler) {
	c.handlersMu.Lock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
	c.handlersMu.Unlock()
}

// -----------------------------------------------------------------------------

// Connect dials the socket, starts the read loop and sends the handshake.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("plugin: already connected to %s", c.opts.URL())
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL(), nil)
	if err != nil {
		return helpers.NewNetworkError("dial plugin socket "+c.opts.URL(), err)
	}
	conn.SetReadLimit(readLimit)

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.err = nil
	c.closing = false
	c.mu.Unlock()

	go c.listen(conn, done)

	err = c.Send(connectMessage{
		Type:         TypeConnect,
		PluginName:   c.opts.Name,
		Version:      c.opts.Version,
		Capabilities: c.opts.Capabilities,
	})
	if err != nil {
		_ = c.Close()
		return err
	}
	c.log.Info("Connected to plugin socket %s as %q", c.opts.URL(), c.opts.Name)
	return nil
}

// -----------------------------------------------------------------------------

// Send writes v as one JSON text message.
func (c *Connector) Send(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.Timeout))
	if err := conn.WriteJSON(v); err != nil {
		return helpers.NewNetworkError("plugin write", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (c *Connector) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			if closing {
				c.err = ErrClosed
			} else {
				c.err = helpers.NewNetworkError("plugin read", err)
			}
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
			if !closing {
				c.log.Warning("Plugin socket closed: %v", err)
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *Connector) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debug("Dropping non-JSON plugin message (%d bytes): %v", len(raw), err)
		return
	}

	c.handlersMu.RLock()
	handlers := c.handlers[env.Type]
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		c.log.Debug("No handler for plugin message %q", env.Type)
		return
	}
	for _, h := range handlers {
		h(json.RawMessage(raw))
	}
}

// -----------------------------------------------------------------------------

// Done is closed when the read loop exits. It is nil before Connect.
func (c *Connector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err reports why the read loop stopped.
func (c *Connector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame, drops the connection and waits for the read
// loop to finish.
func (c *Connector) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.closing = true
	c.mu.Unlock()
	if conn == nil {
		if done != nil {
			<-done
		}
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := conn.Close()
	<-done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
